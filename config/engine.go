package config

import (
	"os"
	"strings"
	"time"
)

// EngineConfig is the sync engine's runtime configuration. It is loaded once
// from env and handed to the orchestrator at construction; nothing in the
// engine reads process-wide mutable settings after startup.
type EngineConfig struct {
	// SyncEnabled gates all scope-wide and single-entity syncs.
	// Env: FORECAST_SYNC_ENABLED (default true)
	SyncEnabled bool

	// WorkerCount bounds concurrent entity-level sync units in one run.
	// Env: FORECAST_SYNC_WORKERS (default 8)
	WorkerCount int

	// SlotTTL is the maximum age of a sync slot before the reaper force-releases
	// it and records a Timeout failure.
	// Env: FORECAST_SLOT_TTL_SECONDS (default 300)
	SlotTTL time.Duration

	// RetryLimit is the number of in-process retries for retriable failures
	// within a single run. Bounded; no backoff loop inside a run.
	// Env: FORECAST_SYNC_RETRY_LIMIT (default 1)
	RetryLimit int

	// PropagationEnabled turns on depth-1 cross-type propagation
	// (e.g. a Revenue forecast refreshes the related Inventory forecast).
	// Env: FORECAST_CROSS_TYPE_PROPAGATION (default true)
	PropagationEnabled bool

	// DefaultModel is the model identifier used when a forecast has none.
	// Env: FORECAST_DEFAULT_MODEL (default "ensemble")
	DefaultModel string

	// HistoryPeriods is how many past periods feed the prediction capability.
	// Env: FORECAST_HISTORY_PERIODS (default 12)
	HistoryPeriods int
}

func LoadEngineConfig() EngineConfig {
	return EngineConfig{
		SyncEnabled:        boolFromEnv("FORECAST_SYNC_ENABLED", true),
		WorkerCount:        intFromEnv("FORECAST_SYNC_WORKERS", 8),
		SlotTTL:            time.Duration(intFromEnv("FORECAST_SLOT_TTL_SECONDS", 300)) * time.Second,
		RetryLimit:         intFromEnv("FORECAST_SYNC_RETRY_LIMIT", 1),
		PropagationEnabled: boolFromEnv("FORECAST_CROSS_TYPE_PROPAGATION", true),
		DefaultModel:       stringFromEnv("FORECAST_DEFAULT_MODEL", "ensemble"),
		HistoryPeriods:     intFromEnv("FORECAST_HISTORY_PERIODS", 12),
	}
}

func boolFromEnv(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func stringFromEnv(key string, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
