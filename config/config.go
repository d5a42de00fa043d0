package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration loaded from TOML. The party addresses
// are the process-wide identities of the deployment; they are read once at
// startup and immutable thereafter.
type Config struct {
	RPCAddress     string   `toml:"RPCAddress"`
	DataDir        string   `toml:"DataDir"`
	Env            string   `toml:"Env"`
	RPCTokenEnv    string   `toml:"RPCTokenEnv"`
	SellerAddress  string   `toml:"SellerAddress"`
	Inspector      string   `toml:"InspectorAddress"`
	Lender         string   `toml:"LenderAddress"`
	Registrar      string   `toml:"RegistrarAddress"`
	PausedModules  []string `toml:"PausedModules"`
	GenesisBalance string   `toml:"GenesisBalance"`
	GenesisFunded  []string `toml:"GenesisFundedAddresses"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.RPCAddress == "" {
		cfg.RPCAddress = ":8545"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./deed-data"
	}
	if cfg.RPCTokenEnv == "" {
		cfg.RPCTokenEnv = "DEED_RPC_TOKEN"
	}
	if cfg.PausedModules == nil {
		cfg.PausedModules = []string{}
	}
	if cfg.GenesisFunded == nil {
		cfg.GenesisFunded = []string{}
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsPaused implements native/common.PauseView over the static config list.
func (c *Config) IsPaused(module string) bool {
	if c == nil {
		return false
	}
	for _, name := range c.PausedModules {
		if name == module {
			return true
		}
	}
	return false
}
