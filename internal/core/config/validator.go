package config

import (
	"fmt"
)

func validateVersion(cfg *Config) error {
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version %d; supported version is 1", cfg.Version)
	}
	return nil
}

func validateDatabase(cfg *Config) error {
	if cfg.DB.Path == "" {
		return fmt.Errorf("db.path must not be empty")
	}
	if cfg.DB.BusyTimeout < 0 {
		return fmt.Errorf("db.busy_timeout must not be negative")
	}
	return nil
}

func validateHistory(cfg *Config) error {
	if cfg.History.MaxDepth < 0 {
		return fmt.Errorf("history.max_depth must be >= 0, got %d", cfg.History.MaxDepth)
	}
	return nil
}

func validateObservability(cfg *Config) error {
	if cfg.Observability.Port < 1 || cfg.Observability.Port > 65535 {
		return fmt.Errorf("observability.port must be between 1 and 65535, got %d", cfg.Observability.Port)
	}
	return nil
}

func validateAPI(cfg *Config) error {
	if cfg.API.Rate <= 0 {
		return fmt.Errorf("api.rate must be > 0")
	}
	if cfg.API.Burst <= 0 {
		return fmt.Errorf("api.burst must be > 0")
	}
	return nil
}

// Validate runs every check and returns all failures.
func Validate(cfg *Config) []error {
	var errs []error
	for _, check := range []func(*Config) error{
		validateVersion,
		validateDatabase,
		validateHistory,
		validateObservability,
		validateAPI,
	} {
		if err := check(cfg); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
