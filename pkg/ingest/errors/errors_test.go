package errors_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/userpulse/ingest/pkg/ingest/errors"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ierrors.Category
	}{
		{"nil", nil, ierrors.CategoryTransient},
		{"plain", stderrors.New("boom"), ierrors.CategoryTransient},
		{"malformed", ierrors.Malformed(stderrors.New("bad field"), "validate"), ierrors.CategoryMalformed},
		{"contract", ierrors.Contract(stderrors.New("aggregate without event"), "apply"), ierrors.CategoryContract},
		{"wrapped_malformed", wrap(ierrors.Malformed(stderrors.New("bad"), "")), ierrors.CategoryMalformed},
		{"deadline", context.DeadlineExceeded, ierrors.CategoryTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ierrors.Categorize(tt.err))
		})
	}
}

func wrap(err error) error {
	return &wrapped{err}
}

type wrapped struct{ err error }

func (w *wrapped) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }

func TestIsRetryable(t *testing.T) {
	assert.True(t, ierrors.IsRetryable(stderrors.New("storage down")))
	assert.True(t, ierrors.IsRetryable(ierrors.Contract(stderrors.New("breach"), "")))
	assert.False(t, ierrors.IsRetryable(ierrors.Malformed(stderrors.New("bad"), "")))
}

func TestWithRetryContext_SucceedsAfterTransientFailures(t *testing.T) {
	cfg := ierrors.RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		BackoffFactor:  2,
	}

	calls := 0
	res := ierrors.WithRetryContext(context.Background(), cfg, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", stderrors.New("temporarily unavailable")
		}
		return "ok", nil
	})

	require.NoError(t, res.Err)
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, 3, res.Attempts)
	assert.False(t, res.Exhausted(cfg))
}

func TestWithRetryContext_StopsOnMalformed(t *testing.T) {
	cfg := ierrors.RetryConfig{MaxAttempts: 5, InitialBackoff: time.Millisecond}

	calls := 0
	res := ierrors.WithRetryContext(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		return 0, ierrors.Malformed(stderrors.New("bad input"), "validate")
	})

	require.Error(t, res.Err)
	assert.Equal(t, 1, calls, "malformed input must not be retried")
	assert.Equal(t, ierrors.CategoryMalformed, ierrors.Categorize(res.Err))
}

func TestWithRetryContext_Exhaustion(t *testing.T) {
	cfg := ierrors.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, BackoffFactor: 2}

	res := ierrors.WithRetryContext(context.Background(), cfg, func(context.Context) (int, error) {
		return 0, stderrors.New("still down")
	})

	require.Error(t, res.Err)
	assert.Equal(t, 3, res.Attempts)
	assert.True(t, res.Exhausted(cfg))

	var catErr *ierrors.CategorizedError
	require.True(t, stderrors.As(res.Err, &catErr))
	assert.Equal(t, ierrors.CategoryTransient, catErr.Category)
}

func TestWithRetryContext_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := ierrors.WithRetryContext(ctx, ierrors.DefaultRetry, func(context.Context) (int, error) {
		t.Fatal("fn must not run with cancelled context")
		return 0, nil
	})

	require.Error(t, res.Err)
	assert.Equal(t, 0, res.Attempts)
}
