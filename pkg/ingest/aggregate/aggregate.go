// Package aggregate holds the per-entity running statistics record and the
// incremental update rule applied for each newly stored event.
//
// The rule is pure: storage backends load the current row, call Apply inside
// the same transaction that inserted the event, and write the result back.
// Keeping the arithmetic here means every backend computes identical
// aggregates and the rule is testable without a database.
package aggregate

import (
	"time"

	"github.com/userpulse/ingest/pkg/ingest/event"
)

// Aggregate is the single mutable record kept per entity. It is created
// lazily on the entity's first event and only ever updated inside the
// transaction that stores a new event, so it reflects each logical event
// exactly once regardless of redelivery.
type Aggregate struct {
	EntityID string

	// EventCount is monotonically non-decreasing.
	EventCount int64

	// Monetary running totals. TotalAmount is fixed point; summing the
	// amounts of all accepted monetary events reproduces it exactly.
	TransactionCount int64
	TotalAmount      event.Cents

	// High-water marks over occurred_at. Events may arrive out of order;
	// these never move backwards.
	LastSeenAt        time.Time
	LastTransactionAt time.Time // zero until the first monetary event

	// MeanDuration is the arithmetic mean over all duration-bearing events.
	// DurationCount tracks how many events contributed; it is not derivable
	// from EventCount since not every event carries a duration.
	MeanDuration  float64
	DurationCount int64

	// EngagementScore is a derived convenience metric in [0, 100],
	// recomputed on every apply.
	EngagementScore float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New returns an empty aggregate for an entity, timestamped at now.
func New(entityID string, now time.Time) *Aggregate {
	return &Aggregate{EntityID: entityID, CreatedAt: now, UpdatedAt: now}
}

// Apply folds one newly inserted event into the aggregate.
//
// Callers must invoke Apply exactly once per stored event: duplicates are
// filtered by the event store before this point. The running mean uses the
// incremental formula, so no history replay is ever needed.
func (a *Aggregate) Apply(evt *event.Event, now time.Time) {
	a.EventCount++

	if evt.OccurredAt.After(a.LastSeenAt) {
		a.LastSeenAt = evt.OccurredAt
	}

	if evt.Kind.Monetary() {
		a.TransactionCount++
		a.TotalAmount += evt.Amount
		if evt.OccurredAt.After(a.LastTransactionAt) {
			a.LastTransactionAt = evt.OccurredAt
		}
	}

	if evt.HasDuration {
		prior := float64(a.DurationCount)
		a.MeanDuration = (a.MeanDuration*prior + evt.Duration) / (prior + 1)
		a.DurationCount++
	}

	a.EngagementScore = engagementScore(a.EventCount, a.TransactionCount)
	a.UpdatedAt = now
}

// engagementScore derives a bounded activity metric from the raw counters.
func engagementScore(events, transactions int64) float64 {
	score := float64(events)*0.5 + float64(transactions)*5.0
	if score > 100 {
		score = 100
	}
	return score
}
