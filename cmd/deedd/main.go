package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"deedchain/config"
	"deedchain/core/state"
	"deedchain/crypto"
	"deedchain/native/deed"
	"deedchain/native/escrow"
	"deedchain/observability/logging"
	"deedchain/rpc"
	"deedchain/storage"
)

const envKey = "DEED_ENV"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envKey))
	logger := logging.Setup("deedd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	if err := fundGenesis(manager, cfg); err != nil {
		logger.Error("failed to apply genesis allocation", slog.Any("error", err))
		os.Exit(1)
	}

	parties, registrar, err := resolveParties(cfg)
	if err != nil {
		logger.Error("failed to resolve party addresses", slog.Any("error", err))
		os.Exit(1)
	}

	registry := deed.NewRegistry()
	registry.SetState(manager)
	registry.SetRegistrar(registrar)
	registry.SetPauses(cfg)

	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetTitleRegistry(registry)
	engine.SetParties(parties)
	engine.SetPauses(cfg)

	logger.Info("escrow parties configured",
		slog.String("seller", cfg.SellerAddress),
		slog.String("inspector", cfg.Inspector),
		slog.String("lender", cfg.Lender),
		slog.String("vault", crypto.ModuleAddress(state.VaultModule).String()),
	)

	token := strings.TrimSpace(os.Getenv(cfg.RPCTokenEnv))
	if token == "" {
		logger.Warn("RPC auth token unset; mutating methods are unauthenticated",
			slog.String("env", cfg.RPCTokenEnv))
	}

	server := rpc.NewServer(engine, registry, token, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func resolveParties(cfg *config.Config) (escrow.Parties, [20]byte, error) {
	seller, err := crypto.DecodeAddress(strings.TrimSpace(cfg.SellerAddress))
	if err != nil {
		return escrow.Parties{}, [20]byte{}, fmt.Errorf("seller address: %w", err)
	}
	inspector, err := crypto.DecodeAddress(strings.TrimSpace(cfg.Inspector))
	if err != nil {
		return escrow.Parties{}, [20]byte{}, fmt.Errorf("inspector address: %w", err)
	}
	lender, err := crypto.DecodeAddress(strings.TrimSpace(cfg.Lender))
	if err != nil {
		return escrow.Parties{}, [20]byte{}, fmt.Errorf("lender address: %w", err)
	}
	registrar, err := crypto.DecodeAddress(strings.TrimSpace(cfg.Registrar))
	if err != nil {
		return escrow.Parties{}, [20]byte{}, fmt.Errorf("registrar address: %w", err)
	}
	parties := escrow.Parties{
		Seller:    seller.Bytes(),
		Inspector: inspector.Bytes(),
		Lender:    lender.Bytes(),
	}
	return parties, registrar.Bytes(), nil
}

// fundGenesis credits the configured development balance to each listed
// address on first boot. Funded accounts with a non-zero balance are left
// untouched so restarts do not mint.
func fundGenesis(manager *state.Manager, cfg *config.Config) error {
	allocation := strings.TrimSpace(cfg.GenesisBalance)
	if allocation == "" || len(cfg.GenesisFunded) == 0 {
		return nil
	}
	amount, ok := new(big.Int).SetString(allocation, 10)
	if !ok {
		return fmt.Errorf("invalid genesis balance %q", allocation)
	}
	for _, encoded := range cfg.GenesisFunded {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(encoded))
		if err != nil {
			return err
		}
		account, err := manager.GetAccount(addr.Bytes())
		if err != nil {
			return err
		}
		if account.Normalize().Balance.Sign() > 0 {
			continue
		}
		if err := manager.Credit(addr.Bytes(), amount); err != nil {
			return err
		}
	}
	return nil
}
