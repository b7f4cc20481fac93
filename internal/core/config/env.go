package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: GRAPHEDIT_[SECTION]_[KEY] (e.g., GRAPHEDIT_HISTORY_MAX_DEPTH).
func ApplyEnvOverrides(cfg *Config) {
	// Paths
	setEnvString(&cfg.Paths.ProjectRoot, "GRAPHEDIT_PATHS_PROJECT_ROOT")
	setEnvString(&cfg.Paths.StateDir, "GRAPHEDIT_PATHS_STATE_DIR")
	setEnvString(&cfg.Paths.DatabaseDir, "GRAPHEDIT_PATHS_DATABASE_DIR")

	// Database
	setEnvString(&cfg.DB.Path, "GRAPHEDIT_DB_PATH")
	setEnvDuration(&cfg.DB.BusyTimeout, "GRAPHEDIT_DB_BUSY_TIMEOUT")

	setEnvInt(&cfg.History.MaxDepth, "GRAPHEDIT_HISTORY_MAX_DEPTH")
	setEnvString(&cfg.Vault.Dir, "GRAPHEDIT_VAULT_DIR")

	// Observability
	setEnvBool(&cfg.Observability.Enabled, "GRAPHEDIT_OBSERVABILITY_ENABLED")
	setEnvInt(&cfg.Observability.Port, "GRAPHEDIT_OBSERVABILITY_PORT")
	setEnvString(&cfg.Observability.OTLPEndpoint, "GRAPHEDIT_OBSERVABILITY_OTLP_ENDPOINT")
	setEnvBool(&cfg.Observability.EnableTracing, "GRAPHEDIT_OBSERVABILITY_ENABLE_TRACING")
	setEnvBool(&cfg.Observability.EnableMetrics, "GRAPHEDIT_OBSERVABILITY_ENABLE_METRICS")

	// API
	setEnvFloat64(&cfg.API.Rate, "GRAPHEDIT_API_RATE")
	setEnvInt(&cfg.API.Burst, "GRAPHEDIT_API_BURST")
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", val)
		*target = val
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(val)
		if err != nil {
			slog.Warn("ignoring invalid env override", "key", key, "value", val, "error", err)
			return
		}
		slog.Debug("applying env override", "key", key, "value", val)
		*target = i
	}
}

func setEnvBool(target *bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err != nil {
			slog.Warn("ignoring invalid env override", "key", key, "value", val, "error", err)
			return
		}
		slog.Debug("applying env override", "key", key, "value", val)
		*target = b
	}
}

func setEnvFloat64(target *float64, key string) {
	if val, ok := os.LookupEnv(key); ok {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			slog.Warn("ignoring invalid env override", "key", key, "value", val, "error", err)
			return
		}
		slog.Debug("applying env override", "key", key, "value", val)
		*target = f
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			slog.Warn("ignoring invalid env override", "key", key, "value", val, "error", err)
			return
		}
		slog.Debug("applying env override", "key", key, "value", val)
		*target = d
	}
}
