package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"deedchain/observability/logging"
)

func main() {
	logger := logging.Setup("title-gateway", os.Getenv("TITLE_GATEWAY_ENV"))

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	storage, err := NewStorage(cfg.DatabasePath)
	if err != nil {
		logger.Error("open storage", "error", err)
		os.Exit(1)
	}
	defer storage.Close()

	auth, err := NewAuthenticator(cfg.APIKeys, cfg.AllowedTimestampSkew, cfg.NonceTTL)
	if err != nil {
		logger.Error("configure authenticator", "error", err)
		os.Exit(1)
	}

	node := NewHTTPNodeClient(cfg.NodeURL, cfg.NodeAuthToken)
	server := NewServer(auth, storage, node, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("title gateway listening", "addr", cfg.ListenAddress, "node", cfg.NodeURL)
	if err := server.Start(ctx, cfg.ListenAddress); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("title gateway shut down")
}
