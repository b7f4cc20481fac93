package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	meta, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	for _, key := range meta.Undecoded() {
		slog.Warn("unknown config key ignored", "key", key.String(), "path", path)
	}

	applyDefaults(&cfg)
	normalize(&cfg)

	if err := validateVersion(&cfg); err != nil {
		return nil, err
	}
	if err := validateDatabase(&cfg); err != nil {
		return nil, err
	}
	if err := validateHistory(&cfg); err != nil {
		return nil, err
	}
	if err := validateObservability(&cfg); err != nil {
		return nil, err
	}
	if err := validateAPI(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadOrDefault loads path, falling back to DefaultConfig when the file does not exist.
func LoadOrDefault(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), false, nil
	}
	return nil, false, err
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	if strings.TrimSpace(cfg.Paths.StateDir) == "" {
		cfg.Paths.StateDir = "data/state"
	}
	if strings.TrimSpace(cfg.Paths.DatabaseDir) == "" {
		cfg.Paths.DatabaseDir = "data/database"
	}

	if strings.TrimSpace(cfg.DB.Path) == "" {
		cfg.DB.Path = "workspace.db"
	}
	if cfg.DB.BusyTimeout <= 0 {
		cfg.DB.BusyTimeout = 2 * time.Second
	}

	if strings.TrimSpace(cfg.Vault.Dir) == "" {
		cfg.Vault.Dir = "vault"
	}

	if cfg.Observability.Port == 0 {
		cfg.Observability.Port = 9464
	}

	if cfg.API.Rate <= 0 {
		cfg.API.Rate = 10
	}
	if cfg.API.Burst <= 0 {
		cfg.API.Burst = 20
	}
}

func normalize(cfg *Config) {
	cfg.Paths.ProjectRoot = strings.TrimSpace(cfg.Paths.ProjectRoot)
	cfg.Paths.StateDir = strings.TrimSpace(cfg.Paths.StateDir)
	cfg.Paths.DatabaseDir = strings.TrimSpace(cfg.Paths.DatabaseDir)
	cfg.DB.Path = strings.TrimSpace(cfg.DB.Path)
	cfg.Vault.Dir = strings.TrimSpace(cfg.Vault.Dir)
	cfg.Observability.OTLPEndpoint = strings.TrimSpace(cfg.Observability.OTLPEndpoint)
	if cfg.Observability.EnableTracing && cfg.Observability.OTLPEndpoint == "" {
		cfg.Observability.OTLPEndpoint = "localhost:4317"
	}
}
