package config

import (
	"fmt"
	"time"

	ingesterrors "github.com/userpulse/ingest/pkg/ingest/errors"
)

// Pipeline is the typed view of a pipeline configuration file.
//
// Example YAML:
//
//	group_id: analytics
//	bootstrap_endpoints:
//	  - localhost:6379
//	poll_timeout_ms: 1000
//	batch_size: 100
//	max_retry_backoff_ms: 30000
//	storage:
//	  driver: sqlite
//	  dsn: ./events.db
type Pipeline struct {
	// GroupID names the consumer group. Consumers sharing a GroupID share
	// committed offsets.
	GroupID string

	// BootstrapEndpoints are the log broker addresses.
	BootstrapEndpoints []string

	// PollTimeout bounds how long one poll blocks waiting for records.
	PollTimeout time.Duration

	// BatchSize is the maximum records fetched per poll.
	BatchSize int

	// MaxRetryBackoff caps the exponential backoff between transient
	// failure retries.
	MaxRetryBackoff time.Duration

	// ProgressInterval is how often the consumer logs a progress report.
	ProgressInterval time.Duration

	// StorageDriver selects the store backend: "memory", "sqlite", or
	// "postgres".
	StorageDriver string

	// StorageDSN is the backend-specific connection string or file path.
	StorageDSN string
}

// Defaults used when the file omits a setting.
const (
	DefaultGroupID          = "ingest"
	DefaultPollTimeout      = time.Second
	DefaultBatchSize        = 100
	DefaultMaxRetryBackoff  = 30 * time.Second
	DefaultProgressInterval = 30 * time.Second
	DefaultStorageDriver    = "sqlite"
)

// PipelineFromConfig extracts the typed pipeline settings, applying defaults
// for anything missing.
func PipelineFromConfig(c Config) Pipeline {
	storage := c.Sub("storage")

	return Pipeline{
		GroupID:            c.String("group_id", DefaultGroupID),
		BootstrapEndpoints: c.StringSlice("bootstrap_endpoints", nil),
		PollTimeout:        millis(c, "poll_timeout_ms", DefaultPollTimeout),
		BatchSize:          c.Int("batch_size", DefaultBatchSize),
		MaxRetryBackoff:    millis(c, "max_retry_backoff_ms", DefaultMaxRetryBackoff),
		ProgressInterval:   millis(c, "progress_interval_ms", DefaultProgressInterval),
		StorageDriver:      storage.String("driver", DefaultStorageDriver),
		StorageDSN:         storage.String("dsn", ""),
	}
}

// Retry returns the retry policy implied by the pipeline settings: the
// default storage retry policy with the configured backoff cap.
func (p Pipeline) Retry() ingesterrors.RetryConfig {
	cfg := ingesterrors.DefaultRetry
	cfg.MaxBackoff = p.MaxRetryBackoff
	return cfg
}

// millis reads an integer millisecond option as a duration.
func millis(c Config, key string, defaultVal time.Duration) time.Duration {
	ms := c.Int(key, -1)
	if ms < 0 {
		return defaultVal
	}
	return time.Duration(ms) * time.Millisecond
}

// Validate checks the pipeline settings for values that cannot work.
func (p Pipeline) Validate() error {
	if p.GroupID == "" {
		return fmt.Errorf("group_id must not be empty")
	}
	if p.PollTimeout <= 0 {
		return fmt.Errorf("poll_timeout must be positive, got %v", p.PollTimeout)
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", p.BatchSize)
	}
	if p.MaxRetryBackoff <= 0 {
		return fmt.Errorf("max_retry_backoff must be positive, got %v", p.MaxRetryBackoff)
	}
	switch p.StorageDriver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", p.StorageDriver)
	}
	if p.StorageDriver != "memory" && p.StorageDSN == "" {
		return fmt.Errorf("storage dsn required for driver %q", p.StorageDriver)
	}
	return nil
}
