package stream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConsumer reads a Redis Stream through a consumer group, giving the
// pipeline a shared log across processes. Pending entries (delivered to this
// consumer name but never acknowledged, i.e. a crashed predecessor) are
// drained before new entries.
type RedisConsumer struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string

	// checkPending is true until the pending backlog for this consumer
	// name has been drained once.
	checkPending bool
	closed       bool
}

// RedisConsumerOptions configures a RedisConsumer.
type RedisConsumerOptions struct {
	// Addr is the Redis server address, e.g. "localhost:6379".
	Addr string

	// Stream is the stream key to consume.
	Stream string

	// Group is the consumer group name. Created at the start of the
	// stream if it does not exist.
	Group string

	// Consumer is this member's name within the group. Reusing a name
	// after a crash reclaims that member's pending entries.
	Consumer string
}

// NewRedisConsumer connects to Redis and joins (creating if necessary) the
// consumer group.
func NewRedisConsumer(ctx context.Context, opts RedisConsumerOptions) (*RedisConsumer, error) {
	client := redis.NewClient(&redis.Options{Addr: opts.Addr})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	err := client.XGroupCreateMkStream(ctx, opts.Stream, opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		client.Close()
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return &RedisConsumer{
		client:       client,
		stream:       opts.Stream,
		group:        opts.Group,
		consumer:     opts.Consumer,
		checkPending: true,
	}, nil
}

// AppendRedis writes a payload to a Redis Stream with the entity key, for
// producers sharing the consumer's connection settings.
func AppendRedis(ctx context.Context, client *redis.Client, stream, key string, value []byte) (string, error) {
	id, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"key": key, "value": value},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("append to stream: %w", err)
	}
	return id, nil
}

// Poll implements Consumer.
func (c *RedisConsumer) Poll(ctx context.Context, max int, wait time.Duration) ([]Record, error) {
	if c.closed {
		return nil, ErrLogClosed
	}
	if max <= 0 {
		max = 1
	}

	// "0" re-reads this consumer's pending entries; ">" reads new ones.
	id := ">"
	block := wait
	if c.checkPending {
		id = "0"
		block = 0
	}

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, id},
		Count:    int64(max),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	var records []Record
	for _, s := range streams {
		for _, msg := range s.Messages {
			records = append(records, messageToRecord(msg))
		}
	}

	if c.checkPending && len(records) == 0 {
		// Backlog drained; switch to new entries.
		c.checkPending = false
		return c.Poll(ctx, max, wait)
	}
	return records, nil
}

func messageToRecord(msg redis.XMessage) Record {
	rec := Record{ID: msg.ID}
	if key, ok := msg.Values["key"].(string); ok {
		rec.Key = key
	}
	switch v := msg.Values["value"].(type) {
	case string:
		rec.Value = []byte(v)
	case []byte:
		rec.Value = v
	}
	// Stream IDs are "<unix-ms>-<seq>".
	if ms, seq, ok := splitStreamID(msg.ID); ok {
		rec.Timestamp = time.UnixMilli(ms).UTC()
		rec.Offset = seq
	}
	return rec
}

func splitStreamID(id string) (ms int64, seq int64, ok bool) {
	dash := strings.IndexByte(id, '-')
	if dash < 0 {
		return 0, 0, false
	}
	var err error
	if ms, err = strconv.ParseInt(id[:dash], 10, 64); err != nil {
		return 0, 0, false
	}
	if seq, err = strconv.ParseInt(id[dash+1:], 10, 64); err != nil {
		return 0, 0, false
	}
	return ms, seq, true
}

// Commit implements Consumer by acknowledging the records' stream IDs.
func (c *RedisConsumer) Commit(ctx context.Context, records ...Record) error {
	if c.closed {
		return ErrLogClosed
	}
	if len(records) == 0 {
		return nil
	}

	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	if err := c.client.XAck(ctx, c.stream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("ack records: %w", err)
	}
	return nil
}

// Close implements Consumer.
func (c *RedisConsumer) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.client.Close()
}
