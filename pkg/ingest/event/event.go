// Package event defines the typed event model for the ingestion pipeline
// and the validator that turns raw log records into it.
//
// Records arrive from the log as JSON objects with an at-least-once delivery
// guarantee. Validation happens exactly once, at ingestion: downstream
// components (store, aggregator) trust the typed Event and never re-validate.
package event

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the closed set of event categories.
type Kind string

// Known event kinds. Purchase is the only monetary kind: it requires a
// positive amount. Any kind may carry a duration.
const (
	KindLogin    Kind = "login"
	KindLogout   Kind = "logout"
	KindView     Kind = "view"
	KindClick    Kind = "click"
	KindPurchase Kind = "purchase"
	KindSearch   Kind = "search"
	KindVideo    Kind = "video"
	KindShare    Kind = "share"
)

var knownKinds = map[Kind]struct{}{
	KindLogin:    {},
	KindLogout:   {},
	KindView:     {},
	KindClick:    {},
	KindPurchase: {},
	KindSearch:   {},
	KindVideo:    {},
	KindShare:    {},
}

// Known reports whether k is a member of the kind enumeration.
func (k Kind) Known() bool {
	_, ok := knownKinds[k]
	return ok
}

// Monetary reports whether events of this kind carry a required amount.
func (k Kind) Monetary() bool {
	return k == KindPurchase
}

// Cents is a monetary amount in hundredths of the currency unit.
// Fixed-point integers keep running totals exact across millions of
// increments; float64 would drift.
type Cents int64

// Float64 returns the amount in whole currency units.
func (c Cents) Float64() float64 {
	return float64(c) / 100
}

// String formats the amount with two decimal places, e.g. "10.50".
func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// ParseCents converts a JSON number literal to Cents.
//
// Plain decimal literals ("10.50", "7") are parsed exactly from the text so
// that two-decimal amounts never pass through a float. Exponent forms go
// through float parsing and must still resolve to a whole number of cents.
// Sub-cent precision and non-finite values are errors, whichever shape they
// arrive in.
func ParseCents(n json.Number) (Cents, error) {
	s := n.String()
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	if strings.ContainsAny(s, "eE") {
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("parse amount %q: %w", s, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("amount %q is not finite", s)
		}
		cents := f * 100
		if math.Abs(cents-math.Round(cents)) > 1e-6 {
			return 0, fmt.Errorf("amount %q has sub-cent precision", s)
		}
		return Cents(math.Round(cents)), nil
	}

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has sub-cent precision", n.String())
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", n.String(), err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", n.String(), err)
	}
	v := w*100 + f
	if neg {
		v = -v
	}
	return Cents(v), nil
}

// Event is an immutable validated fact. EventID is the identity used for
// deduplication; once stored an event is never updated.
type Event struct {
	ID          string         `json:"event_id"`
	EntityID    string         `json:"entity_id"`
	Kind        Kind           `json:"kind"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Amount      Cents          `json:"-"`
	HasAmount   bool           `json:"-"`
	Duration    float64        `json:"-"`
	HasDuration bool           `json:"-"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// NewID returns a fresh globally unique event identifier.
func NewID() string {
	return uuid.New().String()
}

// Encode serializes the event to the inbound record schema, suitable for
// publishing onto the log. Round-trips through Validate.
func (e *Event) Encode() ([]byte, error) {
	m := map[string]any{
		"event_id":    e.ID,
		"entity_id":   e.EntityID,
		"kind":        string(e.Kind),
		"occurred_at": e.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if e.HasAmount {
		m["amount"] = json.RawMessage(e.Amount.String())
	}
	if e.HasDuration {
		m["duration"] = e.Duration
	}
	if len(e.Attributes) > 0 {
		m["attributes"] = e.Attributes
	}
	return json.Marshal(m)
}
