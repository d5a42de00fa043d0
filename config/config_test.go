package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"deedchain/crypto"
)

func testAddress(fill byte) string {
	var raw [20]byte
	for i := range raw {
		raw[i] = fill
	}
	return crypto.NewAddress(raw).String()
}

func validConfig() *Config {
	cfg := &Config{
		SellerAddress: testAddress(0x01),
		Inspector:     testAddress(0x02),
		Lender:        testAddress(0x03),
		Registrar:     testAddress(0x04),
	}
	applyDefaults(cfg)
	return cfg
}

func writeConfigFile(t *testing.T, cfg *Config) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	body := fmt.Sprintf(
		"RPCAddress = %q\nSellerAddress = %q\nInspectorAddress = %q\nLenderAddress = %q\nRegistrarAddress = %q\n",
		cfg.RPCAddress, cfg.SellerAddress, cfg.Inspector, cfg.Lender, cfg.Registrar,
	)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesFile(t *testing.T) {
	want := validConfig()
	want.RPCAddress = "127.0.0.1:9000"
	path := writeConfigFile(t, want)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "127.0.0.1:9000" {
		t.Fatalf("unexpected rpc address %q", cfg.RPCAddress)
	}
	if cfg.SellerAddress != want.SellerAddress {
		t.Fatalf("unexpected seller address %q", cfg.SellerAddress)
	}
	if cfg.DataDir != "./deed-data" {
		t.Fatalf("default data dir not applied, got %q", cfg.DataDir)
	}
	if cfg.RPCTokenEnv != "DEED_RPC_TOKEN" {
		t.Fatalf("default token env not applied, got %q", cfg.RPCTokenEnv)
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8545" {
		t.Fatalf("unexpected default rpc address %q", cfg.RPCAddress)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config file not written: %v", err)
	}
}

func TestValidateAcceptsSellerAsRegistrar(t *testing.T) {
	cfg := validConfig()
	cfg.Registrar = cfg.SellerAddress
	if err := Validate(cfg); err != nil {
		t.Fatalf("seller doubling as registrar should validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing seller", func(c *Config) { c.SellerAddress = "" }},
		{"missing inspector", func(c *Config) { c.Inspector = "" }},
		{"missing lender", func(c *Config) { c.Lender = "" }},
		{"missing registrar", func(c *Config) { c.Registrar = "" }},
		{"malformed address", func(c *Config) { c.SellerAddress = "not-bech32" }},
		{"inspector aliases seller", func(c *Config) { c.Inspector = c.SellerAddress }},
		{"lender aliases inspector", func(c *Config) { c.Lender = c.Inspector }},
		{"bad genesis balance", func(c *Config) { c.GenesisBalance = "ten" }},
		{"bad genesis address", func(c *Config) { c.GenesisFunded = []string{"bogus"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestIsPaused(t *testing.T) {
	cfg := validConfig()
	cfg.PausedModules = []string{"escrow"}
	if !cfg.IsPaused("escrow") {
		t.Fatalf("expected escrow to report paused")
	}
	if cfg.IsPaused("deed") {
		t.Fatalf("deed must not report paused")
	}
}
