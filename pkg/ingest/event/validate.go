package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Rejection reasons, recorded as the dead-letter error kind.
const (
	ReasonBadPayload   = "bad_payload"   // record is not a JSON object
	ReasonMissingField = "missing_field" // a required field is absent or empty
	ReasonBadTimestamp = "bad_timestamp" // occurred_at is not RFC 3339
	ReasonUnknownKind  = "unknown_kind"  // kind outside the enumeration
	ReasonBadAmount    = "bad_amount"    // amount missing, non-finite, or out of range
	ReasonBadDuration  = "bad_duration"  // duration non-finite or negative
	ReasonOversized    = "oversized"     // attributes exceed size limits
)

// Attribute limits. Attributes are otherwise opaque.
const (
	MaxAttributes    = 64
	MaxAttributeSize = 8 * 1024 // serialized bytes
)

// Rejection explains why a raw record cannot become an Event.
// Rejections are deterministic: redelivering the same record produces the
// same rejection, so the caller dead-letters it and advances the offset.
type Rejection struct {
	Reason  string // one of the Reason constants
	Field   string // offending field, when known
	Message string

	// EventID is the record's event_id when the payload decoded far
	// enough to carry one. Dead-letter storage merges repeats by it.
	EventID string
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	if r.Field != "" {
		return fmt.Sprintf("%s: %s: %s", r.Reason, r.Field, r.Message)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

// rawRecord mirrors the inbound record schema. Numbers are kept as
// json.Number so monetary amounts can be parsed exactly.
type rawRecord struct {
	EventID    string         `json:"event_id"`
	EntityID   string         `json:"entity_id"`
	Kind       string         `json:"kind"`
	OccurredAt string         `json:"occurred_at"`
	Amount     json.Number    `json:"amount"`
	Duration   json.Number    `json:"duration"`
	Attributes map[string]any `json:"attributes"`
}

// Validate turns a raw log record into a typed Event or a Rejection.
//
// Checks run in order and short-circuit on the first failure:
// required fields, timestamp format, kind membership, monetary amount,
// stray amount/duration payloads, attribute limits. Validate has no side
// effects and never panics on malformed input.
func Validate(raw []byte) (*Event, *Rejection) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var rec rawRecord
	if err := dec.Decode(&rec); err != nil {
		return nil, &Rejection{Reason: ReasonBadPayload, Message: err.Error()}
	}

	evt, rej := validateRecord(rec)
	if rej != nil {
		rej.EventID = rec.EventID
		return nil, rej
	}
	return evt, nil
}

func validateRecord(rec rawRecord) (*Event, *Rejection) {
	for _, f := range []struct{ name, value string }{
		{"event_id", rec.EventID},
		{"entity_id", rec.EntityID},
		{"kind", rec.Kind},
		{"occurred_at", rec.OccurredAt},
	} {
		if f.value == "" {
			return nil, &Rejection{
				Reason:  ReasonMissingField,
				Field:   f.name,
				Message: "required field missing or empty",
			}
		}
	}

	occurredAt, err := time.Parse(time.RFC3339, rec.OccurredAt)
	if err != nil {
		return nil, &Rejection{
			Reason:  ReasonBadTimestamp,
			Field:   "occurred_at",
			Message: fmt.Sprintf("not a valid RFC 3339 timestamp: %q", rec.OccurredAt),
		}
	}

	kind := Kind(rec.Kind)
	if !kind.Known() {
		return nil, &Rejection{
			Reason:  ReasonUnknownKind,
			Field:   "kind",
			Message: fmt.Sprintf("unknown kind %q", rec.Kind),
		}
	}

	evt := &Event{
		ID:         rec.EventID,
		EntityID:   rec.EntityID,
		Kind:       kind,
		OccurredAt: occurredAt,
		Attributes: rec.Attributes,
	}

	if kind.Monetary() {
		if rec.Amount == "" {
			return nil, &Rejection{
				Reason:  ReasonBadAmount,
				Field:   "amount",
				Message: fmt.Sprintf("kind %q requires an amount", kind),
			}
		}
		cents, err := ParseCents(rec.Amount)
		if err != nil {
			return nil, &Rejection{Reason: ReasonBadAmount, Field: "amount", Message: err.Error()}
		}
		if cents <= 0 {
			return nil, &Rejection{
				Reason:  ReasonBadAmount,
				Field:   "amount",
				Message: fmt.Sprintf("amount must be positive, got %s", cents),
			}
		}
		evt.Amount = cents
		evt.HasAmount = true
	} else if rec.Amount != "" {
		cents, err := ParseCents(rec.Amount)
		if err != nil {
			return nil, &Rejection{Reason: ReasonBadAmount, Field: "amount", Message: err.Error()}
		}
		if cents < 0 {
			return nil, &Rejection{
				Reason:  ReasonBadAmount,
				Field:   "amount",
				Message: fmt.Sprintf("amount must not be negative, got %s", cents),
			}
		}
		evt.Amount = cents
		evt.HasAmount = true
	}

	if rec.Duration != "" {
		d, err := rec.Duration.Float64()
		if err != nil {
			return nil, &Rejection{Reason: ReasonBadDuration, Field: "duration", Message: err.Error()}
		}
		if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
			return nil, &Rejection{
				Reason:  ReasonBadDuration,
				Field:   "duration",
				Message: fmt.Sprintf("duration must be a finite non-negative number, got %v", d),
			}
		}
		evt.Duration = d
		evt.HasDuration = true
	}

	if len(rec.Attributes) > MaxAttributes {
		return nil, &Rejection{
			Reason:  ReasonOversized,
			Field:   "attributes",
			Message: fmt.Sprintf("%d attributes exceeds limit of %d", len(rec.Attributes), MaxAttributes),
		}
	}
	if len(rec.Attributes) > 0 {
		size, err := json.Marshal(rec.Attributes)
		if err == nil && len(size) > MaxAttributeSize {
			return nil, &Rejection{
				Reason:  ReasonOversized,
				Field:   "attributes",
				Message: fmt.Sprintf("attributes serialize to %d bytes, limit is %d", len(size), MaxAttributeSize),
			}
		}
	}

	return evt, nil
}
