package config

import (
	"time"
)

const DefaultFileName = "graphedit.toml"

type Config struct {
	Version       int           `toml:"version"`
	Paths         Paths         `toml:"paths"`
	DB            Database      `toml:"db"`
	History       History       `toml:"history"`
	Vault         Vault         `toml:"vault"`
	Observability Observability `toml:"observability"`
	API           API           `toml:"api"`
}

type Paths struct {
	ProjectRoot string `toml:"project_root"`
	StateDir    string `toml:"state_dir"`
	DatabaseDir string `toml:"database_dir"`
}

type Database struct {
	Path        string        `toml:"path"`
	BusyTimeout time.Duration `toml:"busy_timeout"`
}

// History bounds the in-memory undo stack. MaxDepth 0 keeps every entry.
type History struct {
	MaxDepth int `toml:"max_depth"`
}

type Vault struct {
	Dir string `toml:"dir"`
}

type Observability struct {
	Enabled       bool   `toml:"enabled"`
	Port          int    `toml:"port"`
	OTLPEndpoint  string `toml:"otlp_endpoint"`
	EnableTracing bool   `toml:"enable_tracing"`
	EnableMetrics bool   `toml:"enable_metrics"`
}

// API limits requests to the observability HTTP endpoints per remote address.
type API struct {
	Rate  float64 `toml:"rate"`
	Burst int     `toml:"burst"`
}

// DefaultConfig is used when no config file exists.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}
