package event_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/userpulse/ingest/pkg/ingest/event"
)

func TestValidate_Accepts(t *testing.T) {
	raw := []byte(`{
		"event_id": "e1",
		"entity_id": "u1",
		"kind": "purchase",
		"occurred_at": "2024-01-01T00:00:00Z",
		"amount": 10.50,
		"attributes": {"product_id": "p123", "quantity": 2}
	}`)

	evt, rej := event.Validate(raw)
	require.Nil(t, rej)
	require.NotNil(t, evt)

	assert.Equal(t, "e1", evt.ID)
	assert.Equal(t, "u1", evt.EntityID)
	assert.Equal(t, event.KindPurchase, evt.Kind)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), evt.OccurredAt)
	assert.True(t, evt.HasAmount)
	assert.Equal(t, event.Cents(1050), evt.Amount)
	assert.False(t, evt.HasDuration)
	assert.Equal(t, "p123", evt.Attributes["product_id"])
}

func TestValidate_DurationOnAnyKind(t *testing.T) {
	raw := []byte(`{
		"event_id": "e2",
		"entity_id": "u1",
		"kind": "view",
		"occurred_at": "2024-01-01T00:01:00Z",
		"duration": 30
	}`)

	evt, rej := event.Validate(raw)
	require.Nil(t, rej)
	assert.True(t, evt.HasDuration)
	assert.Equal(t, 30.0, evt.Duration)
	assert.False(t, evt.HasAmount)
}

func TestValidate_Rejections(t *testing.T) {
	base := func(overrides map[string]any) []byte {
		m := map[string]any{
			"event_id":    "e1",
			"entity_id":   "u1",
			"kind":        "view",
			"occurred_at": "2024-01-01T00:00:00Z",
		}
		for k, v := range overrides {
			if v == nil {
				delete(m, k)
			} else {
				m[k] = v
			}
		}
		raw, err := json.Marshal(m)
		require.NoError(t, err)
		return raw
	}

	tests := []struct {
		name   string
		raw    []byte
		reason string
		field  string
	}{
		{"not_json", []byte("not json at all"), event.ReasonBadPayload, ""},
		{"missing_event_id", base(map[string]any{"event_id": nil}), event.ReasonMissingField, "event_id"},
		{"empty_entity_id", base(map[string]any{"entity_id": ""}), event.ReasonMissingField, "entity_id"},
		{"missing_kind", base(map[string]any{"kind": nil}), event.ReasonMissingField, "kind"},
		{"missing_timestamp", base(map[string]any{"occurred_at": nil}), event.ReasonMissingField, "occurred_at"},
		{"bad_timestamp", base(map[string]any{"occurred_at": "yesterday"}), event.ReasonBadTimestamp, "occurred_at"},
		{"unknown_kind", base(map[string]any{"kind": "unknown"}), event.ReasonUnknownKind, "kind"},
		{"purchase_without_amount", base(map[string]any{"kind": "purchase"}), event.ReasonBadAmount, "amount"},
		{"purchase_zero_amount", base(map[string]any{"kind": "purchase", "amount": 0}), event.ReasonBadAmount, "amount"},
		{"purchase_negative_amount", base(map[string]any{"kind": "purchase", "amount": -5}), event.ReasonBadAmount, "amount"},
		{"stray_negative_amount", base(map[string]any{"amount": -1}), event.ReasonBadAmount, "amount"},
		{"negative_duration", base(map[string]any{"duration": -3}), event.ReasonBadDuration, "duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, rej := event.Validate(tt.raw)
			assert.Nil(t, evt)
			require.NotNil(t, rej)
			assert.Equal(t, tt.reason, rej.Reason)
			assert.Equal(t, tt.field, rej.Field)
			assert.NotEmpty(t, rej.Error())
		})
	}
}

func TestValidate_ChecksShortCircuitInOrder(t *testing.T) {
	// A record that is simultaneously missing a field, has a bad timestamp,
	// and an unknown kind reports the missing field first.
	raw := []byte(`{"event_id": "e1", "kind": "nope", "occurred_at": "bad"}`)

	_, rej := event.Validate(raw)
	require.NotNil(t, rej)
	assert.Equal(t, event.ReasonMissingField, rej.Reason)
	assert.Equal(t, "entity_id", rej.Field)
}

func TestValidate_StrayAmountOnNonMonetaryKind(t *testing.T) {
	raw := []byte(`{
		"event_id": "e1", "entity_id": "u1", "kind": "click",
		"occurred_at": "2024-01-01T00:00:00Z", "amount": 3.25
	}`)

	evt, rej := event.Validate(raw)
	require.Nil(t, rej)
	assert.True(t, evt.HasAmount)
	assert.Equal(t, event.Cents(325), evt.Amount)
}

func TestValidate_AttributeLimits(t *testing.T) {
	attrs := map[string]any{}
	for i := 0; i < event.MaxAttributes+1; i++ {
		attrs[fmt.Sprintf("k%03d", i)] = i
	}
	raw, err := json.Marshal(map[string]any{
		"event_id":    "e1",
		"entity_id":   "u1",
		"kind":        "view",
		"occurred_at": "2024-01-01T00:00:00Z",
		"attributes":  attrs,
	})
	require.NoError(t, err)

	_, rej := event.Validate(raw)
	require.NotNil(t, rej)
	assert.Equal(t, event.ReasonOversized, rej.Reason)
}

func TestParseCents_Exact(t *testing.T) {
	tests := []struct {
		in   string
		want event.Cents
	}{
		{"10.50", 1050},
		{"10.5", 1050},
		{"10", 1000},
		{"0.01", 1},
		{"0.99", 99},
		{"12345678.99", 1234567899},
		{"1.05e1", 1050},
		{"2E2", 20000},
	}
	for _, tt := range tests {
		got, err := event.ParseCents(json.Number(tt.in))
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseCents_SubCentPrecision(t *testing.T) {
	// Sub-cent amounts are rejected in both literal shapes, not rounded.
	for _, in := range []string{"10.505", "1.0505e1"} {
		_, err := event.ParseCents(json.Number(in))
		assert.Error(t, err, in)
	}
}

func TestCents_String(t *testing.T) {
	assert.Equal(t, "10.50", event.Cents(1050).String())
	assert.Equal(t, "0.05", event.Cents(5).String())
	assert.Equal(t, "-3.25", event.Cents(-325).String())
}

func TestEncode_RoundTrip(t *testing.T) {
	evt := &event.Event{
		ID:          event.NewID(),
		EntityID:    "u1",
		Kind:        event.KindPurchase,
		OccurredAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Amount:      1050,
		HasAmount:   true,
		Duration:    12.5,
		HasDuration: true,
		Attributes:  map[string]any{"product_id": "p1"},
	}

	raw, err := evt.Encode()
	require.NoError(t, err)

	decoded, rej := event.Validate(raw)
	require.Nil(t, rej)
	assert.Equal(t, evt.ID, decoded.ID)
	assert.Equal(t, evt.Amount, decoded.Amount)
	assert.Equal(t, evt.Duration, decoded.Duration)
	assert.True(t, decoded.OccurredAt.Equal(evt.OccurredAt))
}
