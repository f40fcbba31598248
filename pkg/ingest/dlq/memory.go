package dlq

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-memory Queue implementation.
// Suitable for testing and single-process embedding.
type MemoryQueue struct {
	mu      sync.RWMutex
	records map[string]*Record // keyed by record ID
	byEvent map[string]string  // event ID -> record ID
	closed  bool

	now func() time.Time
}

// NewMemoryQueue creates an empty in-memory dead-letter queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		records: make(map[string]*Record),
		byEvent: make(map[string]string),
		now:     time.Now,
	}
}

// Route implements Queue.
func (q *MemoryQueue) Route(ctx context.Context, f Failure) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	now := q.now().UTC()

	if f.EventID != "" {
		if id, ok := q.byEvent[f.EventID]; ok {
			rec := q.records[id]
			rec.AttemptCount++
			rec.ErrorKind = f.ErrorKind
			rec.ErrorMessage = f.ErrorMessage
			rec.UpdatedAt = now
			rec.Status = nextStatus(rec.Status, rec.AttemptCount)
			copied := *rec
			return &copied, nil
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
	q.records[rec.ID] = rec
	if f.EventID != "" {
		q.byEvent[f.EventID] = rec.ID
	}

	copied := *rec
	return &copied, nil
}

// List implements Queue.
func (q *MemoryQueue) List(ctx context.Context, status Status, limit int) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	matched := make([]*Record, 0, len(q.records))
	for _, rec := range q.records {
		if status != "" && rec.Status != status {
			continue
		}
		copied := *rec
		matched = append(matched, &copied)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// CountByKind implements Queue.
func (q *MemoryQueue) CountByKind(ctx context.Context) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	counts := make(map[string]int)
	for _, rec := range q.records {
		counts[rec.ErrorKind]++
	}
	return counts, nil
}

// Resolve implements Queue.
func (q *MemoryQueue) Resolve(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	rec, ok := q.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	rec.Status = StatusResolved
	rec.UpdatedAt = q.now().UTC()
	return nil
}

// Len returns the total number of records.
func (q *MemoryQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.records)
}

// Close implements Queue.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
