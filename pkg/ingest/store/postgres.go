package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/userpulse/ingest/pkg/ingest/aggregate"
	"github.com/userpulse/ingest/pkg/ingest/event"
)

// PostgresStore persists events and aggregates to PostgreSQL.
//
// This is the backend for consumer groups: multiple workers ingest
// concurrently, and the aggregate row is guarded with SELECT ... FOR UPDATE
// so concurrent read-modify-write on the same entity cannot lose updates.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and creates the schema if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (
			event_id     TEXT PRIMARY KEY,
			entity_id    TEXT NOT NULL,
			kind         TEXT NOT NULL,
			occurred_at  TIMESTAMPTZ NOT NULL,
			amount_cents BIGINT,
			duration     DOUBLE PRECISION,
			attributes   JSONB,
			created_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_entity_occurred
			ON events(entity_id, occurred_at)`,
		`CREATE TABLE IF NOT EXISTS entity_aggregates (
			entity_id           TEXT PRIMARY KEY,
			event_count         BIGINT NOT NULL,
			transaction_count   BIGINT NOT NULL,
			total_amount_cents  BIGINT NOT NULL,
			duration_count      BIGINT NOT NULL,
			mean_duration       DOUBLE PRECISION NOT NULL,
			last_seen_at        TIMESTAMPTZ NOT NULL,
			last_transaction_at TIMESTAMPTZ,
			engagement_score    DOUBLE PRECISION NOT NULL,
			created_at          TIMESTAMPTZ NOT NULL,
			updated_at          TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &PostgresStore{pool: pool}, nil
}

// Ingest implements Store.
func (s *PostgresStore) Ingest(ctx context.Context, evt *event.Event) (Outcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	var amount *int64
	if evt.HasAmount {
		v := int64(evt.Amount)
		amount = &v
	}
	var duration *float64
	if evt.HasDuration {
		d := evt.Duration
		duration = &d
	}
	var attrs []byte
	if len(evt.Attributes) > 0 {
		attrs, err = json.Marshal(evt.Attributes)
		if err != nil {
			return 0, fmt.Errorf("marshal attributes: %w", err)
		}
	}

	ct, err := tx.Exec(ctx, `
		INSERT INTO events (event_id, entity_id, kind, occurred_at, amount_cents, duration, attributes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`, evt.ID, evt.EntityID, string(evt.Kind), evt.OccurredAt.UTC(),
		amount, duration, attrs, now)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return OutcomeDuplicate, nil
	}

	agg, err := s.lockAggregate(ctx, tx, evt.EntityID, now)
	if err != nil {
		return 0, err
	}
	agg.Apply(evt, now)

	var lastTxn *time.Time
	if !agg.LastTransactionAt.IsZero() {
		t := agg.LastTransactionAt.UTC()
		lastTxn = &t
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO entity_aggregates (
			entity_id, event_count, transaction_count, total_amount_cents,
			duration_count, mean_duration, last_seen_at, last_transaction_at,
			engagement_score, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (entity_id) DO UPDATE SET
			event_count         = EXCLUDED.event_count,
			transaction_count   = EXCLUDED.transaction_count,
			total_amount_cents  = EXCLUDED.total_amount_cents,
			duration_count      = EXCLUDED.duration_count,
			mean_duration       = EXCLUDED.mean_duration,
			last_seen_at        = EXCLUDED.last_seen_at,
			last_transaction_at = EXCLUDED.last_transaction_at,
			engagement_score    = EXCLUDED.engagement_score,
			updated_at          = EXCLUDED.updated_at
	`, agg.EntityID, agg.EventCount, agg.TransactionCount, int64(agg.TotalAmount),
		agg.DurationCount, agg.MeanDuration, agg.LastSeenAt.UTC(), lastTxn,
		agg.EngagementScore, agg.CreatedAt.UTC(), agg.UpdatedAt.UTC()); err != nil {
		return 0, fmt.Errorf("save aggregate: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit ingest: %w", err)
	}
	return OutcomeInserted, nil
}

// lockAggregate returns the entity's aggregate row with a row lock held until
// commit, so two workers racing on the same entity serialize here instead of
// losing updates.
//
// FOR UPDATE locks nothing when the row does not exist yet, which would let
// two workers ingesting a brand-new entity both start from zero and the
// second overwrite the first. For a new entity an empty row is reserved first
// (the conflict clause absorbs a racing worker's reserve) and the locking
// select is retried against whichever insert won.
func (s *PostgresStore) lockAggregate(ctx context.Context, tx pgx.Tx, entityID string, now time.Time) (*aggregate.Aggregate, error) {
	agg, err := s.selectAggregateForUpdate(ctx, tx, entityID)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := tx.Exec(ctx, `
			INSERT INTO entity_aggregates (
				entity_id, event_count, transaction_count, total_amount_cents,
				duration_count, mean_duration, last_seen_at,
				engagement_score, created_at, updated_at
			) VALUES ($1, 0, 0, 0, 0, 0, $2, 0, $3, $3)
			ON CONFLICT (entity_id) DO NOTHING
		`, entityID, time.Time{}, now); err != nil {
			return nil, fmt.Errorf("reserve aggregate: %w", err)
		}
		agg, err = s.selectAggregateForUpdate(ctx, tx, entityID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock aggregate: %w", err)
	}
	return agg, nil
}

func (s *PostgresStore) selectAggregateForUpdate(ctx context.Context, tx pgx.Tx, entityID string) (*aggregate.Aggregate, error) {
	agg := &aggregate.Aggregate{EntityID: entityID}
	var totalCents int64
	var lastTxn *time.Time

	err := tx.QueryRow(ctx, `
		SELECT event_count, transaction_count, total_amount_cents,
		       duration_count, mean_duration, last_seen_at, last_transaction_at,
		       engagement_score, created_at, updated_at
		FROM entity_aggregates WHERE entity_id = $1
		FOR UPDATE
	`, entityID).Scan(
		&agg.EventCount, &agg.TransactionCount, &totalCents,
		&agg.DurationCount, &agg.MeanDuration, &agg.LastSeenAt, &lastTxn,
		&agg.EngagementScore, &agg.CreatedAt, &agg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	agg.TotalAmount = event.Cents(totalCents)
	if lastTxn != nil {
		agg.LastTransactionAt = *lastTxn
	}
	return agg, nil
}

// Aggregate implements Store.
func (s *PostgresStore) Aggregate(ctx context.Context, entityID string) (*aggregate.Aggregate, error) {
	agg := &aggregate.Aggregate{EntityID: entityID}
	var totalCents int64
	var lastTxn *time.Time

	err := s.pool.QueryRow(ctx, `
		SELECT event_count, transaction_count, total_amount_cents,
		       duration_count, mean_duration, last_seen_at, last_transaction_at,
		       engagement_score, created_at, updated_at
		FROM entity_aggregates WHERE entity_id = $1
	`, entityID).Scan(
		&agg.EventCount, &agg.TransactionCount, &totalCents,
		&agg.DurationCount, &agg.MeanDuration, &agg.LastSeenAt, &lastTxn,
		&agg.EngagementScore, &agg.CreatedAt, &agg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query aggregate: %w", err)
	}

	agg.TotalAmount = event.Cents(totalCents)
	if lastTxn != nil {
		agg.LastTransactionAt = *lastTxn
	}
	return agg, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
