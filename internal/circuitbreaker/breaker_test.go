package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_ClosedAllowsRequestsThrough(t *testing.T) {
	cb := New(DefaultConfig("test"))
	result, err := cb.Execute(func() (interface{}, error) { return "ok", nil })

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_TripsOpenAfterReadyToTrip(t *testing.T) {
	cfg := &Config{
		Name:        "trip-test",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 2 },
	}
	cb := New(cfg)
	boom := errors.New("boom")

	_, _ = cb.Execute(func() (interface{}, error) { return nil, boom })
	_, _ = cb.Execute(func() (interface{}, error) { return nil, boom })

	assert.Equal(t, StateOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) { return "should not run", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenRecoversToClosedOnSuccess(t *testing.T) {
	cfg := &Config{
		Name:        "recover-test",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Millisecond,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	}
	cb := New(cfg)
	boom := errors.New("boom")

	_, _ = cb.Execute(func() (interface{}, error) { return nil, boom })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State(), "timeout elapsed, breaker should probe again")

	_, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ExecuteContextPropagatesContextAndPanics(t *testing.T) {
	cb := New(DefaultConfig("ctx-test"))
	ctx := context.Background()

	var seen context.Context
	_, err := cb.ExecuteContext(ctx, func(c context.Context) (interface{}, error) {
		seen = c
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, ctx, seen)

	assert.Panics(t, func() {
		_, _ = cb.ExecuteContext(ctx, func(context.Context) (interface{}, error) {
			panic("deliberate")
		})
	})
	// A panicking request still counts as a failure rather than wedging
	// the breaker's generation bookkeeping.
	assert.Equal(t, uint32(1), cb.Counts().TotalFailures)
}

func TestCounts_FailureRatio(t *testing.T) {
	var c Counts
	assert.Equal(t, 0.0, c.FailureRatio())

	c.OnSuccess()
	c.OnFailure()
	c.OnFailure()
	assert.InDelta(t, 2.0/3.0, c.FailureRatio(), 1e-9)

	c.Clear()
	assert.Equal(t, Counts{}, c)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
}
