package dlq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresQueue persists dead-letter records to PostgreSQL.
type PostgresQueue struct {
	pool *pgxpool.Pool
}

// NewPostgresQueue connects to PostgreSQL and creates the schema if needed.
func NewPostgresQueue(ctx context.Context, dsn string) (*PostgresQueue, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS dead_letter_queue (
			id            TEXT PRIMARY KEY,
			event_id      TEXT NOT NULL DEFAULT '',
			payload       BYTEA NOT NULL,
			error_kind    TEXT NOT NULL,
			error_message TEXT NOT NULL,
			attempt_count INTEGER NOT NULL,
			status        TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_dlq_event_id
			ON dead_letter_queue(event_id) WHERE event_id != ''`,
		`CREATE INDEX IF NOT EXISTS idx_dlq_status_created
			ON dead_letter_queue(status, created_at)`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &PostgresQueue{pool: pool}, nil
}

// Route implements Queue.
func (q *PostgresQueue) Route(ctx context.Context, f Failure) (*Record, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	if f.EventID != "" {
		rec, err := q.routeExistingTx(ctx, tx, f, now)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			if err := tx.Commit(ctx); err != nil {
				return nil, fmt.Errorf("commit route: %w", err)
			}
			return rec, nil
		}
	}

	rec := &Record{
		ID:           uuid.NewString(),
		EventID:      f.EventID,
		Payload:      append([]byte(nil), f.Payload...),
		ErrorKind:    f.ErrorKind,
		ErrorMessage: f.ErrorMessage,
		AttemptCount: 1,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO dead_letter_queue
			(id, event_id, payload, error_kind, error_message, attempt_count, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, rec.EventID, rec.Payload, rec.ErrorKind, rec.ErrorMessage,
		rec.AttemptCount, string(rec.Status), now, now); err != nil {
		return nil, fmt.Errorf("insert dead letter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit route: %w", err)
	}
	return rec, nil
}

// routeExistingTx locks and updates the record for an already-routed event
// ID, or returns nil when none exists.
func (q *PostgresQueue) routeExistingTx(ctx context.Context, tx pgx.Tx, f Failure, now time.Time) (*Record, error) {
	rec := &Record{EventID: f.EventID}
	var status string

	err := tx.QueryRow(ctx, `
		SELECT id, payload, attempt_count, status, created_at
		FROM dead_letter_queue WHERE event_id = $1
		FOR UPDATE
	`, f.EventID).Scan(&rec.ID, &rec.Payload, &rec.AttemptCount, &status, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load dead letter: %w", err)
	}

	rec.Status = Status(status)
	rec.AttemptCount++
	rec.ErrorKind = f.ErrorKind
	rec.ErrorMessage = f.ErrorMessage
	rec.UpdatedAt = now
	rec.Status = nextStatus(rec.Status, rec.AttemptCount)

	if _, err := tx.Exec(ctx, `
		UPDATE dead_letter_queue
		SET error_kind = $1, error_message = $2, attempt_count = $3, status = $4, updated_at = $5
		WHERE id = $6
	`, rec.ErrorKind, rec.ErrorMessage, rec.AttemptCount, string(rec.Status),
		now, rec.ID); err != nil {
		return nil, fmt.Errorf("update dead letter: %w", err)
	}
	return rec, nil
}

// List implements Queue.
func (q *PostgresQueue) List(ctx context.Context, status Status, limit int) ([]*Record, error) {
	query := `
		SELECT id, event_id, payload, error_kind, error_message, attempt_count, status, created_at, updated_at
		FROM dead_letter_queue`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := q.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec := &Record{}
		var st string
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Payload, &rec.ErrorKind,
			&rec.ErrorMessage, &rec.AttemptCount, &st, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		rec.Status = Status(st)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountByKind implements Queue.
func (q *PostgresQueue) CountByKind(ctx context.Context) (map[string]int, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT error_kind, COUNT(*) FROM dead_letter_queue GROUP BY error_kind
	`)
	if err != nil {
		return nil, fmt.Errorf("count dead letters: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// Resolve implements Queue.
func (q *PostgresQueue) Resolve(ctx context.Context, id string) error {
	ct, err := q.pool.Exec(ctx, `
		UPDATE dead_letter_queue SET status = $1, updated_at = $2 WHERE id = $3
	`, string(StatusResolved), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("resolve dead letter: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Close implements Queue.
func (q *PostgresQueue) Close() error {
	q.pool.Close()
	return nil
}
