package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fastTripConfig(name string) *Config {
	return &Config{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     20 * time.Millisecond,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	}
}

func TestCircuitBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cb := New(fastTripConfig("test"))

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return nil, errBoom })
		require.ErrorIs(t, err, errBoom)
	}

	assert.Equal(t, StateOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreakerHalfOpensAfterTimeoutThenCloses(t *testing.T) {
	cb := New(fastTripConfig("test"))

	for i := 0; i < 2; i++ {
		_, _ = cb.Execute(func() (interface{}, error) { return nil, errBoom })
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	result, err := cb.Execute(func() (interface{}, error) { return "recovered", nil })
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := New(fastTripConfig("test"))
	for i := 0; i < 2; i++ {
		_, _ = cb.Execute(func() (interface{}, error) { return nil, errBoom })
	}
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) { return nil, errBoom })
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerExecuteContextPropagatesResult(t *testing.T) {
	cb := New(DefaultConfig("ctx-test"))
	result, err := cb.ExecuteContext(context.Background(), func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestCircuitBreakerAllowReflectsState(t *testing.T) {
	cb := New(fastTripConfig("allow-test"))
	require.NoError(t, cb.Allow())

	for i := 0; i < 2; i++ {
		_, _ = cb.Execute(func() (interface{}, error) { return nil, errBoom })
	}
	require.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestManagerGetOrCreateReturnsSameInstanceForSameName(t *testing.T) {
	m := NewManager(nil)
	a := m.GetOrCreate("gateway:a", DefaultConfig("gateway:a"))
	b := m.GetOrCreate("gateway:a", DefaultConfig("gateway:a"))
	assert.Same(t, a, b)
}

func TestManagerGetCreatesDistinctBreakersPerName(t *testing.T) {
	m := NewManager(nil)
	a := m.Get("a")
	b := m.Get("b")
	assert.NotSame(t, a, b)
	assert.ElementsMatch(t, []string{"a", "b"}, m.List())
}

func TestManagerRemoveDeletesBreaker(t *testing.T) {
	m := NewManager(nil)
	m.Get("a")
	m.Remove("a")
	assert.Empty(t, m.List())
}
