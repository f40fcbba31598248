package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records ingestion pipeline metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordIngest records one processed record with its terminal outcome
	// ("stored", "duplicate", "dead_lettered") and processing duration.
	RecordIngest(ctx context.Context, outcome string, duration time.Duration)

	// RecordBatch records a completed poll-process-commit cycle.
	RecordBatch(ctx context.Context, size int, duration time.Duration)

	// RecordDeadLetter records a dead-letter routing by error kind.
	RecordDeadLetter(ctx context.Context, errorKind string)

	// RecordRetry records a transient-failure retry attempt.
	RecordRetry(ctx context.Context, attempts int)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	ingested      metric.Int64Counter
	ingestLatency metric.Float64Histogram
	batches       metric.Int64Counter
	batchSize     metric.Int64Histogram
	batchLatency  metric.Float64Histogram
	deadLetters   metric.Int64Counter
	retries       metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("ingest")

	ingested, err := meter.Int64Counter("ingest.records",
		metric.WithDescription("Number of records processed to a terminal outcome"),
	)
	if err != nil {
		return nil, err
	}

	ingestLatency, err := meter.Float64Histogram("ingest.record.latency_ms",
		metric.WithDescription("Per-record processing latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	batches, err := meter.Int64Counter("ingest.batches",
		metric.WithDescription("Number of completed batch cycles"),
	)
	if err != nil {
		return nil, err
	}

	batchSize, err := meter.Int64Histogram("ingest.batch.size",
		metric.WithDescription("Records per batch"),
	)
	if err != nil {
		return nil, err
	}

	batchLatency, err := meter.Float64Histogram("ingest.batch.latency_ms",
		metric.WithDescription("Batch cycle latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	deadLetters, err := meter.Int64Counter("ingest.dead_letters",
		metric.WithDescription("Number of dead-letter routings"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter("ingest.retries",
		metric.WithDescription("Number of transient-failure retry attempts"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		ingested:      ingested,
		ingestLatency: ingestLatency,
		batches:       batches,
		batchSize:     batchSize,
		batchLatency:  batchLatency,
		deadLetters:   deadLetters,
		retries:       retries,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordIngest records one processed record.
func (m *otelMetrics) RecordIngest(ctx context.Context, outcome string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("outcome", outcome),
	}
	m.ingested.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.ingestLatency.Record(ctx, float64(duration.Microseconds())/1000.0, metric.WithAttributes(attrs...))
}

// RecordBatch records a completed batch cycle.
func (m *otelMetrics) RecordBatch(ctx context.Context, size int, duration time.Duration) {
	m.batches.Add(ctx, 1)
	m.batchSize.Record(ctx, int64(size))
	m.batchLatency.Record(ctx, float64(duration.Microseconds())/1000.0)
}

// RecordDeadLetter records a dead-letter routing.
func (m *otelMetrics) RecordDeadLetter(ctx context.Context, errorKind string) {
	m.deadLetters.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error_kind", errorKind),
	))
}

// RecordRetry records a retry attempt.
func (m *otelMetrics) RecordRetry(ctx context.Context, attempts int) {
	m.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("attempts", attempts),
	))
}
