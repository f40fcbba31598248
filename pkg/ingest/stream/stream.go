// Package stream provides the partitioned, offset-addressed log the pipeline
// consumes from.
//
// The log delivers at-least-once: a consumer that crashes after processing
// but before committing sees the same records again on resubscribe. Offsets
// are committed explicitly and only ever move forward; the dedup layer in the
// store absorbs the resulting redeliveries.
//
// Two backends: an in-memory partitioned log for tests and embedding, and
// Redis Streams consumer groups for multi-process deployments.
package stream

import (
	"context"
	"errors"
	"time"
)

// Record is one entry read from the log. Order is guaranteed within a
// partition only.
type Record struct {
	// Partition the record was read from.
	Partition int

	// Offset is the record's position within its partition.
	Offset int64

	// ID is the backend delivery tag used for acknowledgement. Opaque;
	// empty for backends that acknowledge by offset alone.
	ID string

	// Key routed the record to its partition. The producer keys by
	// entity, so one entity's events stay ordered.
	Key string

	// Value is the raw payload. The log does not interpret it; malformed
	// bytes are delivered like any other record.
	Value []byte

	// Timestamp is when the record was appended.
	Timestamp time.Time
}

// ErrLogClosed is returned by operations on a closed log.
var ErrLogClosed = errors.New("log is closed")

// Consumer reads records from the log on behalf of one consumer group
// member.
type Consumer interface {
	// Poll blocks until records are available, the wait duration elapses,
	// or ctx is done. An empty slice with nil error means the wait timed
	// out with nothing to read.
	Poll(ctx context.Context, max int, wait time.Duration) ([]Record, error)

	// Commit durably acknowledges the given records for this group.
	// After a commit, no member of the group sees those records again.
	// Committing is monotonic; acknowledging an already-committed record
	// is a no-op.
	Commit(ctx context.Context, records ...Record) error

	// Close releases the consumer. Uncommitted records are redelivered
	// to the group.
	Close() error
}
