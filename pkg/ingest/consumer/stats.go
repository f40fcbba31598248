package consumer

import (
	"sync"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/userpulse/ingest/pkg/ingest/observability"
)

// Stats tracks the orchestrator's terminal outcomes and per-record latency
// distribution. Safe for concurrent use.
type Stats struct {
	mu           sync.Mutex
	stored       int64
	duplicates   int64
	deadLettered int64
	latency      *hdrhistogram.Histogram
}

// NewStats creates an empty Stats.
func NewStats() *Stats {
	return &Stats{
		// Latencies in microseconds, up to 60 seconds, 3 significant figures.
		latency: hdrhistogram.New(1, 60_000_000, 3),
	}
}

// AddStored counts a stored event.
func (s *Stats) AddStored() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored++
}

// AddDuplicate counts a redelivered event absorbed by deduplication.
func (s *Stats) AddDuplicate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duplicates++
}

// AddDeadLettered counts an event routed to the dead-letter store.
func (s *Stats) AddDeadLettered() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadLettered++
}

// RecordLatency records one record's processing time in milliseconds.
func (s *Stats) RecordLatency(ms float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.latency.RecordValue(int64(ms * 1000))
}

// Snapshot returns a point-in-time copy of the counters and latency
// percentiles.
func (s *Stats) Snapshot() observability.ConsumerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return observability.ConsumerStats{
		Processed:    s.stored + s.duplicates + s.deadLettered,
		Stored:       s.stored,
		Duplicates:   s.duplicates,
		DeadLettered: s.deadLettered,
		P50Ms:        float64(s.latency.ValueAtQuantile(50)) / 1000.0,
		P99Ms:        float64(s.latency.ValueAtQuantile(99)) / 1000.0,
	}
}
