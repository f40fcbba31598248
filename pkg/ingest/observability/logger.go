// Package observability provides structured logging, metrics, and tracing
// for the ingestion pipeline.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds pipeline context to a logger.
// Returns a new logger with group_id, partition, and offset fields.
func EnrichLogger(logger *slog.Logger, groupID string, partition int, offset int64) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("group_id", groupID),
		slog.Int("partition", partition),
		slog.Int64("offset", offset),
	)
}

// LogConsumerStart logs consumer startup.
func LogConsumerStart(logger *slog.Logger, groupID string) {
	if logger == nil {
		return
	}
	logger.Info("consumer starting",
		slog.String("group_id", groupID),
	)
}

// LogConsumerStop logs consumer shutdown with final totals.
func LogConsumerStop(logger *slog.Logger, groupID string, processed, failed int64) {
	if logger == nil {
		return
	}
	logger.Info("consumer stopped",
		slog.String("group_id", groupID),
		slog.Int64("events_processed", processed),
		slog.Int64("events_failed", failed),
	)
}

// LogEventStored logs a stored event.
func LogEventStored(logger *slog.Logger, eventID, entityID, kind string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("event stored",
		slog.String("event_id", eventID),
		slog.String("entity_id", entityID),
		slog.String("kind", kind),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogEventDuplicate logs a redelivered event absorbed by deduplication.
func LogEventDuplicate(logger *slog.Logger, eventID string) {
	if logger == nil {
		return
	}
	logger.Debug("duplicate event skipped",
		slog.String("event_id", eventID),
	)
}

// LogEventDeadLettered logs an event routed to the dead-letter queue.
func LogEventDeadLettered(logger *slog.Logger, eventID, errorKind string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("event dead-lettered",
		slog.String("event_id", eventID),
		slog.String("error_kind", errorKind),
		slog.String("error", err.Error()),
	)
}

// LogRetryExhausted logs a transient failure that survived every retry.
func LogRetryExhausted(logger *slog.Logger, eventID string, attempts int, err error) {
	if logger == nil {
		return
	}
	logger.Error("retries exhausted",
		slog.String("event_id", eventID),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
}

// LogContractViolation logs an impossible storage state, loudly. These point
// at bugs or corruption, not at bad input.
func LogContractViolation(logger *slog.Logger, eventID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("storage contract violation",
		slog.String("event_id", eventID),
		slog.String("error", err.Error()),
	)
}

// LogProgress logs a periodic consumer progress report.
func LogProgress(logger *slog.Logger, s ConsumerStats) {
	if logger == nil {
		return
	}
	logger.Info("consumer progress",
		slog.Int64("processed", s.Processed),
		slog.Int64("stored", s.Stored),
		slog.Int64("duplicates", s.Duplicates),
		slog.Int64("dead_lettered", s.DeadLettered),
		slog.Float64("p50_ms", s.P50Ms),
		slog.Float64("p99_ms", s.P99Ms),
	)
}

// ConsumerStats is the snapshot reported by LogProgress.
type ConsumerStats struct {
	Processed    int64
	Stored       int64
	Duplicates   int64
	DeadLettered int64
	P50Ms        float64
	P99Ms        float64
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000.0
	}
}
