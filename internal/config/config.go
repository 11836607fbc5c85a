// Package config loads the event processor's runtime configuration
// from the environment, with an optional local .env file for
// development convenience. Structured after the teacher's
// envdecode/godotenv/yaml.v3 configuration pattern.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// StoreConfig controls the DynamoDB-backed record store and counter
// table.
type StoreConfig struct {
	Region          string `env:"AWS_REGION,default=us-east-1"`
	EventsTable     string `env:"EVENTS_TABLE_NAME,required"`
	CountersTable   string `env:"COUNTERS_TABLE_NAME,required"`
	EventsTableTTLDays int `env:"EVENTS_TABLE_TTL_DAYS,default=180"`
}

// QueueConfig controls the SQS work queue used by the fan-out
// dispatcher and work-unit worker.
type QueueConfig struct {
	URL             string `env:"WORK_QUEUE_URL"`
	BatchThreshold  int    `env:"WORK_QUEUE_BATCH_THRESHOLD,default=10"`
	VisibilityTimeout time.Duration `env:"WORK_QUEUE_VISIBILITY_TIMEOUT,default=5m"`
}

// AnalyzerConfig controls the Bedrock LLM analyzer's retry policy.
type AnalyzerConfig struct {
	ModelID     string        `env:"BEDROCK_MODEL_ID,default=anthropic.claude-3-sonnet-20240229-v1:0"`
	MaxRetries  int           `env:"BEDROCK_MAX_RETRIES,default=10"`
	BaseDelay   time.Duration `env:"BEDROCK_BASE_DELAY,default=2s"`
	MaxDelay    time.Duration `env:"BEDROCK_MAX_DELAY,default=60s"`
	CallTimeout time.Duration `env:"BEDROCK_CALL_TIMEOUT,default=30s"`
}

// AccountDirectoryConfig controls the account-name/email cache.
type AccountDirectoryConfig struct {
	TTL       time.Duration `env:"ACCOUNT_DIRECTORY_TTL,default=15m"`
	RedisAddr string        `env:"REDIS_ADDR"`
}

// StatusResolverConfig controls the per-account entity status walk.
type StatusResolverConfig struct {
	BatchSize int `env:"STATUS_RESOLVER_BATCH_SIZE,default=10"`
	MaxPages  int `env:"STATUS_RESOLVER_MAX_PAGES,default=10"`
}

// RoutingConfig controls the scheduler's cron expressions.
type RoutingConfig struct {
	SyncSchedule      string `env:"SYNC_CRON_SCHEDULE,default=*/15 * * * *"`
	RecomputeSchedule string `env:"RECOMPUTE_CRON_SCHEDULE,default=0 * * * *"`
}

// PipelineConfig controls the fan-out dispatcher's feed scope and the
// per-account mail hand-off toggle.
type PipelineConfig struct {
	AnalysisWindowDays    int    `env:"ANALYSIS_WINDOW_DAYS,default=7"`
	ExcludedServices      string `env:"EXCLUDED_SERVICES"`
	EventCategories       string `env:"EVENT_CATEGORIES"`
	FiltersTableName      string `env:"FILTERS_TABLE_NAME"`
	EnablePerAccountFanout bool  `env:"ENABLE_PER_ACCOUNT_FANOUT,default=false"`
}

// LoggingConfig controls the logrus-backed logger.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=text"`
}

// Config is the complete set of tunables the pipeline reads from the
// environment. Field names and grouping mirror spec.md §6's External
// Interfaces env var list.
type Config struct {
	Store            StoreConfig
	Queue            QueueConfig
	Analyzer         AnalyzerConfig
	AccountDirectory AccountDirectoryConfig
	StatusResolver   StatusResolverConfig
	Routing          RoutingConfig
	Pipeline         PipelineConfig
	Logging          LoggingConfig

	HTTPAddr string `env:"HTTP_ADDR,default=:8080"`
}

// ExcludedServicesList splits the comma-separated excluded-services
// env var, trimming whitespace and dropping empty entries.
func (c *PipelineConfig) ExcludedServicesList() []string {
	return splitCSV(c.ExcludedServices)
}

// EventCategoriesList splits the comma-separated event-categories env
// var; an empty list means "all categories".
func (c *PipelineConfig) EventCategoriesList() []string {
	return splitCSV(c.EventCategories)
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Load reads the environment into a Config, optionally loading a local
// .env file first (ignored if absent).
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &cfg, nil
}
