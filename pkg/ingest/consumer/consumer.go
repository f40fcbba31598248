// Package consumer runs the ingestion loop: poll a batch from the log, drive
// every record to a durable terminal outcome, then commit the batch's
// offsets.
//
// A record is terminal when it is stored, recognized as a duplicate, or
// dead-lettered. Offsets are committed only after the whole batch is
// terminal, so a crash at any point replays uncommitted records and the
// store's deduplication absorbs the repeats. Malformed records are
// dead-lettered and advanced past immediately; transient storage failures
// are retried in place with backoff and escalate to the dead-letter store
// only after the retry budget is spent.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/userpulse/ingest/pkg/ingest/dlq"
	ingesterrors "github.com/userpulse/ingest/pkg/ingest/errors"
	"github.com/userpulse/ingest/pkg/ingest/event"
	"github.com/userpulse/ingest/pkg/ingest/observability"
	"github.com/userpulse/ingest/pkg/ingest/store"
	"github.com/userpulse/ingest/pkg/ingest/stream"
)

// Config configures an Orchestrator.
type Config struct {
	// GroupID names the consumer group, used for logging only; the
	// stream.Consumer is already bound to its group.
	GroupID string

	// PollTimeout bounds how long one poll blocks waiting for records.
	// Default: 1s
	PollTimeout time.Duration

	// BatchSize is the maximum records fetched per poll.
	// Default: 100
	BatchSize int

	// Retry is the policy applied around storage operations.
	// Default: errors.DefaultRetry
	Retry ingesterrors.RetryConfig

	// ProgressInterval is how often a progress report is logged.
	// Default: 30s
	ProgressInterval time.Duration

	// MaxEvents stops the run after this many terminal outcomes.
	// Zero means run until the context is cancelled.
	MaxEvents int64

	// Logger receives structured progress and failure logs. Nil disables
	// logging.
	Logger *slog.Logger

	// Metrics receives pipeline metrics. Nil defaults to no-op.
	Metrics observability.MetricsRecorder

	// Spans receives trace spans. Nil defaults to no-op.
	Spans observability.SpanManager
}

// Orchestrator owns the consume loop for one group member.
type Orchestrator struct {
	cfg      Config
	consumer stream.Consumer
	store    store.Store
	dlq      dlq.Queue

	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	stats   *Stats
}

// New creates an Orchestrator over a log consumer, event store, and
// dead-letter queue.
func New(c stream.Consumer, st store.Store, q dlq.Queue, cfg Config) *Orchestrator {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = ingesterrors.DefaultRetry
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 30 * time.Second
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	spans := cfg.Spans
	if spans == nil {
		spans = observability.NoopSpanManager{}
	}

	return &Orchestrator{
		cfg:      cfg,
		consumer: c,
		store:    st,
		dlq:      q,
		metrics:  metrics,
		spans:    spans,
		stats:    NewStats(),
	}
}

// Stats returns the orchestrator's live counters.
func (o *Orchestrator) Stats() *Stats {
	return o.stats
}

// Run consumes until ctx is cancelled or MaxEvents is reached. Cancellation
// is cooperative: the record being processed finishes, terminal records in
// the current batch are committed, and only then does Run return.
func (o *Orchestrator) Run(ctx context.Context) error {
	observability.LogConsumerStart(o.cfg.Logger, o.cfg.GroupID)
	defer func() {
		s := o.stats.Snapshot()
		observability.LogConsumerStop(o.cfg.Logger, o.cfg.GroupID,
			s.Processed, s.DeadLettered)
	}()

	progress := time.NewTicker(o.cfg.ProgressInterval)
	defer progress.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-progress.C:
			observability.LogProgress(o.cfg.Logger, o.stats.Snapshot())
		default:
		}

		records, err := o.consumer.Poll(ctx, o.cfg.BatchSize, o.cfg.PollTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("poll: %w", err)
		}
		if len(records) == 0 {
			continue
		}

		done, err := o.processBatch(ctx, records)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// processBatch drives every record to a terminal outcome and commits the
// batch. Returns done=true when MaxEvents has been reached.
func (o *Orchestrator) processBatch(ctx context.Context, records []stream.Record) (bool, error) {
	batchCtx, batchSpan := o.spans.StartBatchSpan(ctx, o.cfg.GroupID, len(records))
	start := time.Now()

	terminal := make([]stream.Record, 0, len(records))
	var limitReached bool

	for _, rec := range records {
		if err := o.processRecord(batchCtx, rec); err != nil {
			// Could not reach a terminal outcome (shutdown mid-retry).
			// Commit what is terminal; the rest redelivers.
			commitErr := o.commit(terminal)
			o.spans.EndSpanWithError(batchSpan, err)
			if commitErr != nil {
				return false, commitErr
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true, nil
			}
			return false, err
		}
		terminal = append(terminal, rec)

		if o.cfg.MaxEvents > 0 && o.stats.Snapshot().Processed >= o.cfg.MaxEvents {
			limitReached = true
			break
		}
	}

	if err := o.commit(terminal); err != nil {
		o.spans.EndSpanWithError(batchSpan, err)
		return false, err
	}

	o.metrics.RecordBatch(batchCtx, len(terminal), time.Since(start))
	o.spans.EndSpanWithError(batchSpan, nil)
	return limitReached, nil
}

// commit acknowledges terminal records. Commit uses a background context so
// a cancelled run still persists the outcomes it completed.
func (o *Orchestrator) commit(records []stream.Record) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := o.consumer.Commit(ctx, records...); err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}
	return nil
}

// processRecord takes one record to a terminal outcome. A non-nil return
// means the record is NOT terminal and must not be committed.
func (o *Orchestrator) processRecord(ctx context.Context, rec stream.Record) error {
	recCtx, span := o.spans.StartRecordSpan(ctx, rec.Partition, rec.Offset)
	done := observability.TimedOperation()
	logger := observability.EnrichLogger(o.cfg.Logger, o.cfg.GroupID, rec.Partition, rec.Offset)

	evt, rejection := event.Validate(rec.Value)
	if rejection != nil {
		err := o.deadLetter(recCtx, dlq.Failure{
			EventID:      rejection.EventID,
			Payload:      rec.Value,
			ErrorKind:    rejection.Reason,
			ErrorMessage: rejection.Error(),
		}, logger)
		o.spans.EndSpanWithError(span, rejection)
		if err != nil {
			return err
		}
		o.finishRecord(recCtx, "dead_lettered", done())
		return nil
	}

	result := ingesterrors.WithRetryContext(recCtx, o.cfg.Retry,
		func(ctx context.Context) (store.Outcome, error) {
			return o.store.Ingest(ctx, evt)
		})
	if result.Attempts > 1 {
		o.metrics.RecordRetry(recCtx, result.Attempts)
	}

	if result.Err == nil {
		switch result.Value {
		case store.OutcomeDuplicate:
			observability.LogEventDuplicate(logger, evt.ID)
			o.stats.AddDuplicate()
			o.finishRecord(recCtx, "duplicate", done())
		default:
			elapsed := done()
			observability.LogEventStored(logger, evt.ID, evt.EntityID, string(evt.Kind), elapsed)
			o.stats.AddStored()
			o.finishRecord(recCtx, "stored", elapsed)
		}
		o.spans.EndSpanWithError(span, nil)
		return nil
	}

	if ingesterrors.Categorize(result.Err) == ingesterrors.CategoryContract {
		observability.LogContractViolation(logger, evt.ID, result.Err)
	}

	if result.Exhausted(o.cfg.Retry) && ctx.Err() == nil {
		// The infrastructure would not take this event within the retry
		// budget; park it rather than stall the partition.
		observability.LogRetryExhausted(logger, evt.ID, result.Attempts, result.Err)
		if err := o.deadLetter(recCtx, dlq.Failure{
			EventID:      evt.ID,
			Payload:      rec.Value,
			ErrorKind:    dlq.ErrorKindInfraExhausted,
			ErrorMessage: result.Err.Error(),
		}, logger); err != nil {
			return err
		}
		o.spans.EndSpanWithError(span, result.Err)
		o.finishRecord(recCtx, "dead_lettered", done())
		return nil
	}

	// Shutdown interrupted the retries; leave the record uncommitted.
	o.spans.EndSpanWithError(span, result.Err)
	return result.Err
}

// deadLetter routes a failure with the same retry policy as storage; the
// dead-letter store is infrastructure too.
func (o *Orchestrator) deadLetter(ctx context.Context, f dlq.Failure, logger *slog.Logger) error {
	result := ingesterrors.WithRetryContext(ctx, o.cfg.Retry,
		func(ctx context.Context) (*dlq.Record, error) {
			return o.dlq.Route(ctx, f)
		})
	if result.Err != nil {
		return fmt.Errorf("route dead letter: %w", result.Err)
	}

	observability.LogEventDeadLettered(logger, f.EventID, f.ErrorKind,
		errors.New(f.ErrorMessage))
	o.metrics.RecordDeadLetter(ctx, f.ErrorKind)
	o.stats.AddDeadLettered()
	return nil
}

// finishRecord records the terminal outcome in stats and metrics.
func (o *Orchestrator) finishRecord(ctx context.Context, outcome string, elapsedMs float64) {
	o.stats.RecordLatency(elapsedMs)
	o.metrics.RecordIngest(ctx, outcome,
		time.Duration(elapsedMs*float64(time.Millisecond)))
}
