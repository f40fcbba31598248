// Package errors classifies pipeline failures and provides the explicit
// retry policy the orchestrator evaluates around storage and log I/O.
//
// The taxonomy drives offset handling:
//   - Malformed input is deterministic: dead-letter and advance.
//   - Transient infrastructure failures are retried with bounded backoff
//     without advancing the offset.
//   - Contract violations signal an invariant breach; they are surfaced
//     loudly but treated as transient so the record is not silently lost.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how a processing failure should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: storage unavailable, timeouts, connection loss.
	CategoryTransient Category = iota

	// CategoryMalformed indicates deterministic input failure.
	// Retrying the same record can never succeed; it is dead-lettered.
	CategoryMalformed

	// CategoryContract indicates a programming or invariant violation,
	// e.g. an aggregate update attempted for an event never stored.
	// Retried like transient failures, but logged at error level.
	CategoryContract
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryMalformed:
		return "malformed"
	case CategoryContract:
		return "contract"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	Err      error
	Category Category
	Attempts int    // attempts made so far, when known
	Context  string // operation being attempted
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Attempts)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)", e.Err, e.Category, e.Attempts)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a transient infrastructure failure.
func Transient(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryTransient, Context: context}
}

// Malformed wraps err as a deterministic input failure.
func Malformed(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryMalformed, Context: context}
}

// Contract wraps err as an invariant violation.
func Contract(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryContract, Context: context}
}

// Categorize determines how an error should be handled.
//
// Unknown errors default to transient: in this pipeline an unexplained
// storage failure must block the offset and be retried, not discarded.
// Only errors explicitly marked malformed skip the record.
func Categorize(err error) Category {
	if err == nil {
		return CategoryTransient
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	return CategoryTransient
}

// IsRetryable reports whether the error should be retried in place.
// Both transient and contract failures retry; only malformed input does not.
func IsRetryable(err error) bool {
	return Categorize(err) != CategoryMalformed
}
