package store

import (
	"context"
	"sync"
	"time"

	"github.com/userpulse/ingest/pkg/ingest/aggregate"
	"github.com/userpulse/ingest/pkg/ingest/event"
)

// MemoryStore is an in-memory Store implementation.
// Suitable for tests and single-process embedding; state does not survive a
// restart, so crash recovery rebuilds from the log instead.
type MemoryStore struct {
	mu         sync.RWMutex
	events     map[string]*event.Event
	aggregates map[string]*aggregate.Aggregate
	closed     bool

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:     make(map[string]*event.Event),
		aggregates: make(map[string]*aggregate.Aggregate),
		now:        time.Now,
	}
}

// Ingest implements Store. The single mutex is the in-memory equivalent of
// the row lock: updates for the same entity are serialized.
func (s *MemoryStore) Ingest(ctx context.Context, evt *event.Event) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	if _, exists := s.events[evt.ID]; exists {
		return OutcomeDuplicate, nil
	}

	now := s.now()
	stored := *evt
	s.events[evt.ID] = &stored

	agg, ok := s.aggregates[evt.EntityID]
	if !ok {
		agg = aggregate.New(evt.EntityID, now)
		s.aggregates[evt.EntityID] = agg
	}
	agg.Apply(evt, now)

	return OutcomeInserted, nil
}

// Aggregate implements Store. The returned record is a copy.
func (s *MemoryStore) Aggregate(ctx context.Context, entityID string) (*aggregate.Aggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	agg, ok := s.aggregates[entityID]
	if !ok {
		return nil, ErrNotFound
	}

	copied := *agg
	return &copied, nil
}

// Len returns the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
