package aggregate_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/userpulse/ingest/pkg/ingest/aggregate"
	"github.com/userpulse/ingest/pkg/ingest/event"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func viewEvent(id string, at time.Time) *event.Event {
	return &event.Event{ID: id, EntityID: "u1", Kind: event.KindView, OccurredAt: at}
}

func purchaseEvent(id string, at time.Time, cents event.Cents) *event.Event {
	return &event.Event{
		ID: id, EntityID: "u1", Kind: event.KindPurchase,
		OccurredAt: at, Amount: cents, HasAmount: true,
	}
}

func durationEvent(id string, at time.Time, d float64) *event.Event {
	return &event.Event{
		ID: id, EntityID: "u1", Kind: event.KindVideo,
		OccurredAt: at, Duration: d, HasDuration: true,
	}
}

func TestApply_Counters(t *testing.T) {
	agg := aggregate.New("u1", t0)

	agg.Apply(purchaseEvent("e1", t0, 1050), t0)
	agg.Apply(viewEvent("e2", t0.Add(time.Minute)), t0)

	assert.Equal(t, int64(2), agg.EventCount)
	assert.Equal(t, int64(1), agg.TransactionCount)
	assert.Equal(t, event.Cents(1050), agg.TotalAmount)
	assert.True(t, agg.LastSeenAt.Equal(t0.Add(time.Minute)))
	assert.True(t, agg.LastTransactionAt.Equal(t0))
}

func TestApply_HighWaterMarksTolerateOutOfOrder(t *testing.T) {
	agg := aggregate.New("u1", t0)

	agg.Apply(viewEvent("e1", t0.Add(time.Hour)), t0)
	agg.Apply(viewEvent("e2", t0), t0) // older event arrives later

	assert.True(t, agg.LastSeenAt.Equal(t0.Add(time.Hour)), "last seen must not move backwards")
	assert.Equal(t, int64(2), agg.EventCount)
}

func TestApply_RunningMeanMatchesArithmeticMean(t *testing.T) {
	durations := []float64{30, 45.5, 12, 90, 7.25, 60, 33.3}

	// Interleave non-duration events and shuffle arrival order. The mean is
	// order-independent.
	for trial := 0; trial < 10; trial++ {
		agg := aggregate.New("u1", t0)
		shuffled := append([]float64(nil), durations...)
		rand.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		for i, d := range shuffled {
			agg.Apply(durationEvent("d", t0, d), t0)
			if i%2 == 0 {
				agg.Apply(viewEvent("v", t0), t0)
			}
		}

		var sum float64
		for _, d := range durations {
			sum += d
		}
		want := sum / float64(len(durations))

		assert.InDelta(t, want, agg.MeanDuration, 1e-9)
		assert.Equal(t, int64(len(durations)), agg.DurationCount)
	}
}

func TestApply_MonetaryTotalExact(t *testing.T) {
	agg := aggregate.New("u1", t0)

	// 10,000 two-decimal increments must sum without drift.
	var want event.Cents
	for i := 0; i < 10000; i++ {
		c := event.Cents(1 + i%9999) // 0.01 .. 99.99
		want += c
		agg.Apply(purchaseEvent("e", t0, c), t0)
	}

	assert.Equal(t, want, agg.TotalAmount)
	assert.Equal(t, int64(10000), agg.TransactionCount)
}

func TestApply_EngagementScoreBounded(t *testing.T) {
	agg := aggregate.New("u1", t0)
	for i := 0; i < 50; i++ {
		agg.Apply(purchaseEvent("e", t0, 100), t0)
	}
	assert.Equal(t, 100.0, agg.EngagementScore)

	small := aggregate.New("u2", t0)
	small.Apply(viewEvent("e", t0), t0)
	require.Equal(t, int64(1), small.EventCount)
	assert.Equal(t, 0.5, small.EngagementScore)
}
