package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"EVENTS_TABLE_NAME", "COUNTERS_TABLE_NAME", "WORK_QUEUE_URL",
		"BEDROCK_MAX_RETRIES", "BEDROCK_BASE_DELAY", "LOG_LEVEL",
	} {
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("EVENTS_TABLE_NAME", "events")
	os.Setenv("COUNTERS_TABLE_NAME", "counters")
	defer clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Store.EventsTable != "events" {
		t.Errorf("EventsTable = %q, want %q", cfg.Store.EventsTable, "events")
	}
	if cfg.Store.EventsTableTTLDays != 180 {
		t.Errorf("EventsTableTTLDays = %d, want 180", cfg.Store.EventsTableTTLDays)
	}
	if cfg.Analyzer.MaxRetries != 10 {
		t.Errorf("MaxRetries = %d, want 10", cfg.Analyzer.MaxRetries)
	}
	if cfg.Analyzer.BaseDelay != 2*time.Second {
		t.Errorf("BaseDelay = %v, want 2s", cfg.Analyzer.BaseDelay)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadRequiresTableNames(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	if _, err := Load(); err == nil {
		t.Fatal("Load() with no table names set: want error, got nil")
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearEnv(t)
	os.Setenv("EVENTS_TABLE_NAME", "events")
	os.Setenv("COUNTERS_TABLE_NAME", "counters")
	os.Setenv("BEDROCK_MAX_RETRIES", "3")
	defer clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Analyzer.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Analyzer.MaxRetries)
	}
}
