// Package store persists validated events exactly once and maintains the
// per-entity aggregates alongside them.
//
// Deduplication rides on the event_id uniqueness constraint: inserting an
// already-present event is not an error but an OutcomeDuplicate, which makes
// Ingest idempotent under the log's at-least-once redelivery. The event
// insert and the aggregate update happen in one transaction; a stored event
// whose aggregate was not updated (or vice versa) is a correctness bug, not
// an acceptable race.
//
// Three backends share a contract test suite: an in-memory store for tests
// and single-process embedding, SQLite for single-node deployments, and
// PostgreSQL for concurrent consumer groups (aggregate rows are guarded by
// SELECT ... FOR UPDATE).
package store

import (
	"context"
	"errors"

	"github.com/userpulse/ingest/pkg/ingest/aggregate"
	"github.com/userpulse/ingest/pkg/ingest/event"
)

// Outcome reports what Ingest did with an event. Both values are successful
// terminal outcomes from the orchestrator's perspective: the offset may
// advance either way.
type Outcome int

const (
	// OutcomeInserted means the event was stored and the aggregate updated.
	OutcomeInserted Outcome = iota

	// OutcomeDuplicate means the event_id was already present. The
	// aggregate is untouched: statistics reflect each logical event exactly
	// once, not once per delivery attempt.
	OutcomeDuplicate
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("store is closed")

// ErrNotFound is returned when no aggregate exists for an entity.
var ErrNotFound = errors.New("aggregate not found")

// Store is the deduplicating event store fused with the aggregate writer.
type Store interface {
	// Ingest persists evt and folds it into the entity's aggregate in a
	// single atomic unit of work. Returns OutcomeDuplicate when the
	// event_id was already stored. Any error is a transient storage
	// failure: nothing was persisted and the call can be retried.
	Ingest(ctx context.Context, evt *event.Event) (Outcome, error)

	// Aggregate returns the running statistics for an entity, or
	// ErrNotFound if the entity has produced no events. This is the
	// read-only query surface consumed by external analytics collaborators.
	Aggregate(ctx context.Context, entityID string) (*aggregate.Aggregate, error)

	// Close releases the underlying resources.
	Close() error
}
