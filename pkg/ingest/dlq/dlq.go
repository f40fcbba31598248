// Package dlq routes events that cannot be processed to durable dead-letter
// storage so the pipeline can keep advancing past them.
//
// Two populations land here: malformed payloads (deterministic failures that
// no retry can fix) and events whose transient storage failures exhausted the
// retry budget. Either way the original payload is kept verbatim for manual
// replay, and routing the same event twice updates the existing record
// instead of erroring, since at-least-once delivery can re-route a failure.
package dlq

import (
	"context"
	"errors"
	"time"
)

// Status tracks a dead-letter record through its lifecycle.
type Status string

const (
	// StatusPending is the initial state of a routed record.
	StatusPending Status = "pending"

	// StatusRetrying marks a record picked up by a replay pass.
	StatusRetrying Status = "retrying"

	// StatusDead marks a record whose attempt count reached the ceiling.
	// Records do not leave this state without operator action.
	StatusDead Status = "dead"

	// StatusResolved marks a record closed by an operator. The pipeline
	// itself never sets this state.
	StatusResolved Status = "resolved"
)

// ErrorKindInfraExhausted is the error kind recorded when a transient storage
// failure survived every retry attempt. Distinct from validation reasons so
// operators can tell bad data from bad infrastructure at a glance.
const ErrorKindInfraExhausted = "infra_exhausted"

// DeadRetryCeiling is the attempt count at which a pending record flips to
// dead on its next routing.
const DeadRetryCeiling = 5

// nextStatus advances the lifecycle on a repeat routing: pending moves to
// retrying, and either flips to dead at the ceiling. Dead and resolved
// records keep their state.
func nextStatus(current Status, attempts int) Status {
	if current != StatusPending && current != StatusRetrying {
		return current
	}
	if attempts >= DeadRetryCeiling {
		return StatusDead
	}
	return StatusRetrying
}

// ErrRecordNotFound is returned when a lookup misses.
var ErrRecordNotFound = errors.New("dead letter record not found")

// ErrQueueClosed is returned by operations on a closed queue.
var ErrQueueClosed = errors.New("dead letter queue is closed")

// Record is one failed event in the dead-letter store.
type Record struct {
	// ID is the storage key, assigned on first insert.
	ID string

	// EventID is the original event identifier. Empty when the payload was
	// too malformed to extract one; such records never merge.
	EventID string

	// Payload is the raw consumed bytes, kept verbatim for replay.
	Payload []byte

	// ErrorKind classifies the failure: a validation reason such as
	// "bad_timestamp", or ErrorKindInfraExhausted.
	ErrorKind string

	// ErrorMessage carries the human-readable detail of the last failure.
	ErrorMessage string

	// AttemptCount is how many times this event has been routed here.
	AttemptCount int

	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Failure describes a processing failure to be routed.
type Failure struct {
	EventID      string
	Payload      []byte
	ErrorKind    string
	ErrorMessage string
}

// Queue is the dead-letter storage contract.
type Queue interface {
	// Route records a failure. When a record with the same non-empty
	// EventID exists, its attempt count is incremented and its error
	// detail refreshed rather than inserting a second row; a pending
	// record whose count reaches DeadRetryCeiling flips to dead. Route
	// never fails because the event was routed before.
	Route(ctx context.Context, f Failure) (*Record, error)

	// List returns records in the given status, newest first. A zero
	// status matches all records.
	List(ctx context.Context, status Status, limit int) ([]*Record, error)

	// CountByKind returns record counts grouped by error kind, the
	// at-a-glance view of what is going wrong.
	CountByKind(ctx context.Context) (map[string]int, error)

	// Resolve closes a record. Operator surface; the pipeline never
	// calls it.
	Resolve(ctx context.Context, id string) error

	// Close releases the underlying resources.
	Close() error
}
