package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/userpulse/ingest/pkg/ingest/aggregate"
	"github.com/userpulse/ingest/pkg/ingest/event"
)

// SQLiteStore persists events and aggregates to SQLite.
// SQLite serializes writers, so the read-modify-write on an aggregate row is
// naturally safe inside the transaction; it is suitable for single-node
// production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite-backed store.
// The path should be a file path (e.g., "./events.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL keeps reads concurrent with the ingest writer
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			event_id    TEXT PRIMARY KEY,
			entity_id   TEXT NOT NULL,
			kind        TEXT NOT NULL,
			occurred_at INTEGER NOT NULL,
			amount_cents INTEGER,
			duration    REAL,
			attributes  TEXT,
			created_at  INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create events table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_events_entity_occurred
		ON events(entity_id, occurred_at)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create events index: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS entity_aggregates (
			entity_id           TEXT PRIMARY KEY,
			event_count         INTEGER NOT NULL,
			transaction_count   INTEGER NOT NULL,
			total_amount_cents  INTEGER NOT NULL,
			duration_count      INTEGER NOT NULL,
			mean_duration       REAL NOT NULL,
			last_seen_at        INTEGER NOT NULL,
			last_transaction_at INTEGER,
			engagement_score    REAL NOT NULL,
			created_at          INTEGER NOT NULL,
			updated_at          INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create aggregates table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Ingest implements Store.
func (s *SQLiteStore) Ingest(ctx context.Context, evt *event.Event) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var amount any
	if evt.HasAmount {
		amount = int64(evt.Amount)
	}
	var duration any
	if evt.HasDuration {
		duration = evt.Duration
	}
	var attrs any
	if len(evt.Attributes) > 0 {
		raw, err := json.Marshal(evt.Attributes)
		if err != nil {
			return 0, fmt.Errorf("marshal attributes: %w", err)
		}
		attrs = string(raw)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (event_id, entity_id, kind, occurred_at, amount_cents, duration, attributes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`, evt.ID, evt.EntityID, string(evt.Kind), evt.OccurredAt.UnixNano(),
		amount, duration, attrs, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if inserted == 0 {
		// Constraint absorbed the duplicate; nothing to commit.
		return OutcomeDuplicate, nil
	}

	agg, err := s.loadAggregateTx(ctx, tx, evt.EntityID, now)
	if err != nil {
		return 0, err
	}
	agg.Apply(evt, now)

	if err := s.saveAggregateTx(ctx, tx, agg); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit ingest: %w", err)
	}
	return OutcomeInserted, nil
}

// loadAggregateTx reads the entity's aggregate row inside the transaction,
// creating a fresh zero record if the entity is new.
func (s *SQLiteStore) loadAggregateTx(ctx context.Context, tx *sql.Tx, entityID string, now time.Time) (*aggregate.Aggregate, error) {
	agg := &aggregate.Aggregate{EntityID: entityID}
	var lastSeen, createdAt, updatedAt int64
	var lastTxn sql.NullInt64

	err := tx.QueryRowContext(ctx, `
		SELECT event_count, transaction_count, total_amount_cents,
		       duration_count, mean_duration, last_seen_at, last_transaction_at,
		       engagement_score, created_at, updated_at
		FROM entity_aggregates WHERE entity_id = ?
	`, entityID).Scan(
		&agg.EventCount, &agg.TransactionCount, (*int64)(&agg.TotalAmount),
		&agg.DurationCount, &agg.MeanDuration, &lastSeen, &lastTxn,
		&agg.EngagementScore, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return aggregate.New(entityID, now), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load aggregate: %w", err)
	}

	agg.LastSeenAt = time.Unix(0, lastSeen).UTC()
	if lastTxn.Valid {
		agg.LastTransactionAt = time.Unix(0, lastTxn.Int64).UTC()
	}
	agg.CreatedAt = time.Unix(0, createdAt).UTC()
	agg.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return agg, nil
}

// saveAggregateTx writes the updated aggregate back inside the transaction.
func (s *SQLiteStore) saveAggregateTx(ctx context.Context, tx *sql.Tx, agg *aggregate.Aggregate) error {
	var lastTxn any
	if !agg.LastTransactionAt.IsZero() {
		lastTxn = agg.LastTransactionAt.UnixNano()
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO entity_aggregates (
			entity_id, event_count, transaction_count, total_amount_cents,
			duration_count, mean_duration, last_seen_at, last_transaction_at,
			engagement_score, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			event_count         = excluded.event_count,
			transaction_count   = excluded.transaction_count,
			total_amount_cents  = excluded.total_amount_cents,
			duration_count      = excluded.duration_count,
			mean_duration       = excluded.mean_duration,
			last_seen_at        = excluded.last_seen_at,
			last_transaction_at = excluded.last_transaction_at,
			engagement_score    = excluded.engagement_score,
			updated_at          = excluded.updated_at
	`, agg.EntityID, agg.EventCount, agg.TransactionCount, int64(agg.TotalAmount),
		agg.DurationCount, agg.MeanDuration, agg.LastSeenAt.UnixNano(), lastTxn,
		agg.EngagementScore, agg.CreatedAt.UnixNano(), agg.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save aggregate: %w", err)
	}
	return nil
}

// Aggregate implements Store.
func (s *SQLiteStore) Aggregate(ctx context.Context, entityID string) (*aggregate.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	agg := &aggregate.Aggregate{EntityID: entityID}
	var lastSeen, createdAt, updatedAt int64
	var lastTxn sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT event_count, transaction_count, total_amount_cents,
		       duration_count, mean_duration, last_seen_at, last_transaction_at,
		       engagement_score, created_at, updated_at
		FROM entity_aggregates WHERE entity_id = ?
	`, entityID).Scan(
		&agg.EventCount, &agg.TransactionCount, (*int64)(&agg.TotalAmount),
		&agg.DurationCount, &agg.MeanDuration, &lastSeen, &lastTxn,
		&agg.EngagementScore, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query aggregate: %w", err)
	}

	agg.LastSeenAt = time.Unix(0, lastSeen).UTC()
	if lastTxn.Valid {
		agg.LastTransactionAt = time.Unix(0, lastTxn.Int64).UTC()
	}
	agg.CreatedAt = time.Unix(0, createdAt).UTC()
	agg.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return agg, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
