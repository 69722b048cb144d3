package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedesk/internal/errors"
)

var errBoom = errors.New("boom")

func TestCircuitOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("backend", CircuitBreakerConfig{FailureThreshold: 3, Timeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := cb.Execute(ctx, func(context.Context) error { return errBoom })
		require.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, int64(1), cb.Stats().TotalRejected)
}

func TestCircuitHalfOpenRecovers(t *testing.T) {
	var transitions []CircuitState
	cb := NewCircuitBreaker("backend", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          time.Second,
		OnStateChange: func(_ string, _, to CircuitState) {
			transitions = append(transitions, to)
		},
	})
	now := time.Date(2024, 11, 14, 9, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	ctx := context.Background()

	_ = cb.Execute(ctx, func(context.Context) error { return errBoom })
	require.Equal(t, CircuitOpen, cb.State())

	now = now.Add(2 * time.Second)
	require.NoError(t, cb.Execute(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, CircuitHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())

	assert.Equal(t, []CircuitState{CircuitOpen, CircuitHalfOpen, CircuitClosed}, transitions)
}

func TestCircuitHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("backend", CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Second})
	now := time.Date(2024, 11, 14, 9, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	ctx := context.Background()

	_ = cb.Execute(ctx, func(context.Context) error { return errBoom })
	now = now.Add(2 * time.Second)
	_ = cb.Execute(ctx, func(context.Context) error { return errBoom })

	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitIgnoresClientErrors(t *testing.T) {
	cb := NewCircuitBreaker("backend", CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure: func(err error) bool {
			var apiErr *errors.APIError
			return !errors.As(err, &apiErr) || apiErr.Status >= 500
		},
	})

	v, err := ExecuteWithResult(cb, context.Background(), func(context.Context) (int, error) {
		return 0, errors.NewAPIError(404, "/user/position", "not found", nil)
	})
	assert.Error(t, err)
	assert.Equal(t, 0, v)
	assert.Equal(t, CircuitClosed, cb.State())

	v, err = ExecuteWithResult(cb, context.Background(), func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestCircuitReset(t *testing.T) {
	cb := NewCircuitBreaker("backend", CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Hour})
	_ = cb.Execute(context.Background(), func(context.Context) error { return errBoom })
	require.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.InDelta(t, 100.0, cb.Stats().FailureRate(), 0.001)
}

func TestCircuitBreakerRegistry(t *testing.T) {
	reg := NewCircuitBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Hour})

	reads := reg.Get("read")
	assert.Same(t, reads, reg.Get("read"))

	_ = reg.Get("commit").Execute(context.Background(), func(context.Context) error { return errBoom })

	stats := reg.AllStats()
	require.Len(t, stats, 2)
	assert.Equal(t, "commit", stats[0].Name)
	assert.Equal(t, CircuitOpen, stats[0].State)
	assert.Equal(t, CircuitClosed, stats[1].State)

	reg.ResetAll()
	assert.Equal(t, CircuitClosed, reg.Get("commit").State())
}
