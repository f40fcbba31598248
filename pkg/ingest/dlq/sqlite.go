package dlq

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteQueue persists dead-letter records to SQLite.
type SQLiteQueue struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteQueue creates a SQLite-backed dead-letter queue. The path may be a
// file path or ":memory:" for testing, and can point at the same database
// file as the event store.
func NewSQLiteQueue(path string) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dead_letter_queue (
			id            TEXT PRIMARY KEY,
			event_id      TEXT,
			payload       BLOB NOT NULL,
			error_kind    TEXT NOT NULL,
			error_message TEXT NOT NULL,
			attempt_count INTEGER NOT NULL,
			status        TEXT NOT NULL,
			created_at    INTEGER NOT NULL,
			updated_at    INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create dead letter table: %w", err)
	}

	for _, stmt := range []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_dlq_event_id
			ON dead_letter_queue(event_id) WHERE event_id != ''`,
		`CREATE INDEX IF NOT EXISTS idx_dlq_status_created
			ON dead_letter_queue(status, created_at)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create dead letter index: %w", err)
		}
	}

	return &SQLiteQueue{db: db}, nil
}

// Route implements Queue.
func (q *SQLiteQueue) Route(ctx context.Context, f Failure) (*Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	if f.EventID != "" {
		rec, err := q.routeExistingTx(ctx, tx, f, now)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			if err := tx.Commit(); err != nil {
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
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO dead_letter_queue
			(id, event_id, payload, error_kind, error_message, attempt_count, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.EventID, rec.Payload, rec.ErrorKind, rec.ErrorMessage,
		rec.AttemptCount, string(rec.Status), now.UnixNano(), now.UnixNano()); err != nil {
		return nil, fmt.Errorf("insert dead letter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit route: %w", err)
	}
	return rec, nil
}

// routeExistingTx updates the record for an already-routed event ID, or
// returns nil when none exists.
func (q *SQLiteQueue) routeExistingTx(ctx context.Context, tx *sql.Tx, f Failure, now time.Time) (*Record, error) {
	rec := &Record{EventID: f.EventID}
	var status string
	var createdAt int64

	err := tx.QueryRowContext(ctx, `
		SELECT id, payload, attempt_count, status, created_at
		FROM dead_letter_queue WHERE event_id = ?
	`, f.EventID).Scan(&rec.ID, &rec.Payload, &rec.AttemptCount, &status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load dead letter: %w", err)
	}

	rec.Status = Status(status)
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.AttemptCount++
	rec.ErrorKind = f.ErrorKind
	rec.ErrorMessage = f.ErrorMessage
	rec.UpdatedAt = now
	rec.Status = nextStatus(rec.Status, rec.AttemptCount)

	if _, err := tx.ExecContext(ctx, `
		UPDATE dead_letter_queue
		SET error_kind = ?, error_message = ?, attempt_count = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, rec.ErrorKind, rec.ErrorMessage, rec.AttemptCount, string(rec.Status),
		now.UnixNano(), rec.ID); err != nil {
		return nil, fmt.Errorf("update dead letter: %w", err)
	}
	return rec, nil
}

// List implements Queue.
func (q *SQLiteQueue) List(ctx context.Context, status Status, limit int) ([]*Record, error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return nil, ErrQueueClosed
	}

	query := `
		SELECT id, event_id, payload, error_kind, error_message, attempt_count, status, created_at, updated_at
		FROM dead_letter_queue`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec := &Record{}
		var st string
		var createdAt, updatedAt int64
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Payload, &rec.ErrorKind,
			&rec.ErrorMessage, &rec.AttemptCount, &st, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		rec.Status = Status(st)
		rec.CreatedAt = time.Unix(0, createdAt).UTC()
		rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountByKind implements Queue.
func (q *SQLiteQueue) CountByKind(ctx context.Context) (map[string]int, error) {
	rows, err := q.db.QueryContext(ctx, `
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
func (q *SQLiteQueue) Resolve(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE dead_letter_queue SET status = ?, updated_at = ? WHERE id = ?
	`, string(StatusResolved), time.Now().UTC().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("resolve dead letter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Close implements Queue.
func (q *SQLiteQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	return q.db.Close()
}
