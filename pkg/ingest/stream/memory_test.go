package stream_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/userpulse/ingest/pkg/ingest/stream"
)

func TestMemoryLog_AppendAndPoll(t *testing.T) {
	ctx := context.Background()
	log := stream.NewMemoryLog(4)
	defer log.Close()

	for i := 0; i < 10; i++ {
		_, err := log.Append(ctx, fmt.Sprintf("u%d", i%3), []byte(fmt.Sprintf("payload-%d", i)))
		require.NoError(t, err)
	}

	consumer := log.Subscribe("workers")
	defer consumer.Close()

	records, err := consumer.Poll(ctx, 100, time.Second)
	require.NoError(t, err)
	assert.Len(t, records, 10)
}

func TestMemoryLog_SameKeySamePartitionInOrder(t *testing.T) {
	ctx := context.Background()
	log := stream.NewMemoryLog(8)
	defer log.Close()

	for i := 0; i < 5; i++ {
		_, err := log.Append(ctx, "u1", []byte(fmt.Sprintf("%d", i)))
		require.NoError(t, err)
	}

	consumer := log.Subscribe("workers")
	defer consumer.Close()

	records, err := consumer.Poll(ctx, 100, time.Second)
	require.NoError(t, err)
	require.Len(t, records, 5)

	partition := records[0].Partition
	for i, rec := range records {
		assert.Equal(t, partition, rec.Partition)
		assert.Equal(t, []byte(fmt.Sprintf("%d", i)), rec.Value)
	}
}

func TestMemoryLog_PollRespectsMax(t *testing.T) {
	ctx := context.Background()
	log := stream.NewMemoryLog(1)
	defer log.Close()

	for i := 0; i < 10; i++ {
		_, err := log.Append(ctx, "u1", []byte("x"))
		require.NoError(t, err)
	}

	consumer := log.Subscribe("workers")
	defer consumer.Close()

	records, err := consumer.Poll(ctx, 3, time.Second)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	records, err = consumer.Poll(ctx, 100, time.Second)
	require.NoError(t, err)
	assert.Len(t, records, 7)
}

func TestMemoryLog_PollTimesOutEmpty(t *testing.T) {
	log := stream.NewMemoryLog(1)
	defer log.Close()

	consumer := log.Subscribe("workers")
	defer consumer.Close()

	start := time.Now()
	records, err := consumer.Poll(context.Background(), 10, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestMemoryLog_PollWakesOnAppend(t *testing.T) {
	ctx := context.Background()
	log := stream.NewMemoryLog(1)
	defer log.Close()

	consumer := log.Subscribe("workers")
	defer consumer.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		log.Append(ctx, "u1", []byte("late"))
	}()

	records, err := consumer.Poll(ctx, 10, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []byte("late"), records[0].Value)
}

func TestMemoryLog_UncommittedRedeliveredOnResubscribe(t *testing.T) {
	ctx := context.Background()
	log := stream.NewMemoryLog(1)
	defer log.Close()

	for i := 0; i < 4; i++ {
		_, err := log.Append(ctx, "u1", []byte(fmt.Sprintf("%d", i)))
		require.NoError(t, err)
	}

	// First member reads everything, commits only the first two, then dies.
	first := log.Subscribe("workers")
	records, err := first.Poll(ctx, 100, time.Second)
	require.NoError(t, err)
	require.Len(t, records, 4)
	require.NoError(t, first.Commit(ctx, records[0], records[1]))
	require.NoError(t, first.Close())

	// The replacement sees the uncommitted tail again.
	second := log.Subscribe("workers")
	defer second.Close()
	records, err = second.Poll(ctx, 100, time.Second)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []byte("2"), records[0].Value)
	assert.Equal(t, []byte("3"), records[1].Value)
}

func TestMemoryLog_CommitIsMonotonic(t *testing.T) {
	ctx := context.Background()
	log := stream.NewMemoryLog(1)
	defer log.Close()

	for i := 0; i < 3; i++ {
		_, err := log.Append(ctx, "u1", []byte("x"))
		require.NoError(t, err)
	}

	consumer := log.Subscribe("workers")
	defer consumer.Close()

	records, err := consumer.Poll(ctx, 100, time.Second)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Committing the last record then an earlier one must not move the
	// offset backwards.
	require.NoError(t, consumer.Commit(ctx, records[2]))
	require.NoError(t, consumer.Commit(ctx, records[0]))
	assert.Equal(t, int64(3), log.Committed("workers", 0))
}

func TestMemoryLog_GroupsAreIndependent(t *testing.T) {
	ctx := context.Background()
	log := stream.NewMemoryLog(1)
	defer log.Close()

	_, err := log.Append(ctx, "u1", []byte("x"))
	require.NoError(t, err)

	a := log.Subscribe("group-a")
	defer a.Close()
	b := log.Subscribe("group-b")
	defer b.Close()

	recsA, err := a.Poll(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, recsA, 1)
	require.NoError(t, a.Commit(ctx, recsA...))

	// Group B still sees the record even though group A committed it.
	recsB, err := b.Poll(ctx, 10, time.Second)
	require.NoError(t, err)
	assert.Len(t, recsB, 1)
}

func TestMemoryLog_ClosedErrors(t *testing.T) {
	log := stream.NewMemoryLog(1)
	consumer := log.Subscribe("workers")
	require.NoError(t, log.Close())

	_, err := log.Append(context.Background(), "u1", []byte("x"))
	assert.ErrorIs(t, err, stream.ErrLogClosed)

	_, err = consumer.Poll(context.Background(), 1, time.Millisecond)
	assert.ErrorIs(t, err, stream.ErrLogClosed)
}
