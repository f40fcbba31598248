package stream

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// MemoryLog is an in-memory partitioned log.
//
// Records are retained indefinitely and group offsets survive consumer
// closes, so closing a consumer without committing and subscribing again
// replays the uncommitted tail. Tests use exactly that to simulate a crash
// between processing and commit.
type MemoryLog struct {
	mu         sync.Mutex
	partitions [][]Record
	committed  map[string][]int64 // per group, per partition
	notify     chan struct{}
	closed     bool

	now func() time.Time
}

// NewMemoryLog creates a log with the given number of partitions.
func NewMemoryLog(partitions int) *MemoryLog {
	if partitions <= 0 {
		partitions = 1
	}
	return &MemoryLog{
		partitions: make([][]Record, partitions),
		committed:  make(map[string][]int64),
		notify:     make(chan struct{}),
		now:        time.Now,
	}
}

// Append writes a record, routing it to a partition by key hash so records
// sharing a key stay ordered relative to each other.
func (l *MemoryLog) Append(ctx context.Context, key string, value []byte) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return Record{}, ErrLogClosed
	}

	p := l.partitionFor(key)
	rec := Record{
		Partition: p,
		Offset:    int64(len(l.partitions[p])),
		Key:       key,
		Value:     append([]byte(nil), value...),
		Timestamp: l.now().UTC(),
	}
	l.partitions[p] = append(l.partitions[p], rec)

	// Wake any blocked Poll.
	close(l.notify)
	l.notify = make(chan struct{})

	return rec, nil
}

func (l *MemoryLog) partitionFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(l.partitions)))
}

// Len returns the total number of appended records.
func (l *MemoryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int
	for _, p := range l.partitions {
		n += len(p)
	}
	return n
}

// Close closes the log. Existing consumers fail their next call.
func (l *MemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Subscribe joins a consumer group. The consumer's read position starts at
// the group's committed offsets, so records consumed but never committed by
// a previous member are delivered again.
func (l *MemoryLog) Subscribe(group string) *MemoryConsumer {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.committed[group]; !ok {
		l.committed[group] = make([]int64, len(l.partitions))
	}

	cursors := make([]int64, len(l.partitions))
	copy(cursors, l.committed[group])

	return &MemoryConsumer{log: l, group: group, cursors: cursors}
}

// MemoryConsumer is one group member reading from a MemoryLog.
type MemoryConsumer struct {
	log     *MemoryLog
	group   string
	cursors []int64
	closed  bool
	mu      sync.Mutex
}

// Poll implements Consumer.
func (c *MemoryConsumer) Poll(ctx context.Context, max int, wait time.Duration) ([]Record, error) {
	if max <= 0 {
		max = 1
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		records, notify, err := c.take(max)
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			return records, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-notify:
		}
	}
}

// take reads up to max records past the cursors, or returns the log's notify
// channel to wait on when nothing is available.
func (c *MemoryConsumer) take(max int) ([]Record, <-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, nil, ErrLogClosed
	}

	c.log.mu.Lock()
	defer c.log.mu.Unlock()

	if c.log.closed {
		return nil, nil, ErrLogClosed
	}

	var records []Record
	for p := range c.log.partitions {
		for c.cursors[p] < int64(len(c.log.partitions[p])) && len(records) < max {
			records = append(records, c.log.partitions[p][c.cursors[p]])
			c.cursors[p]++
		}
	}
	if len(records) > 0 {
		return records, nil, nil
	}
	return nil, c.log.notify, nil
}

// Commit implements Consumer.
func (c *MemoryConsumer) Commit(ctx context.Context, records ...Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrLogClosed
	}

	c.log.mu.Lock()
	defer c.log.mu.Unlock()

	committed := c.log.committed[c.group]
	for _, rec := range records {
		if rec.Partition < 0 || rec.Partition >= len(committed) {
			return fmt.Errorf("commit: partition %d out of range", rec.Partition)
		}
		if next := rec.Offset + 1; next > committed[rec.Partition] {
			committed[rec.Partition] = next
		}
	}
	return nil
}

// Committed returns the group's committed offset for a partition.
func (l *MemoryLog) Committed(group string, partition int) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	offsets, ok := l.committed[group]
	if !ok || partition < 0 || partition >= len(offsets) {
		return 0
	}
	return offsets[partition]
}

// Close implements Consumer.
func (c *MemoryConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
