package retry

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veloflow/veloflow/pkg/breaker"
	"github.com/veloflow/veloflow/pkg/models"
)

func fastPolicy(maxRetries int) models.RetryPolicy {
	return models.RetryPolicy{
		MaxRetries:      maxRetries,
		InitialDelay:    time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		ExponentialBase: 2.0,
		Multiplier:      1.0,
	}
}

func newTestCoordinator(t *testing.T, threshold uint32) *Coordinator {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	return NewCoordinator(breaker.NewRegistry(threshold, time.Minute, logger), logger)
}

func TestDoRetriesServerErrorsUntilExhausted(t *testing.T) {
	coordinator := newTestCoordinator(t, 100)

	attempts := 0
	_, err := coordinator.Do(context.Background(), "unit-1", "billing-api", fastPolicy(3), func(_ context.Context) (any, error) {
		attempts++

		return nil, &HTTPError{StatusCode: 503}
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 503, httpErr.StatusCode)
}

func TestDoSucceedsAfterTransientFailure(t *testing.T) {
	coordinator := newTestCoordinator(t, 100)

	attempts := 0
	result, err := coordinator.Do(context.Background(), "unit-1", "billing-api", fastPolicy(3), func(_ context.Context) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, &HTTPError{StatusCode: 502}
		}

		return "recovered", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, 3, attempts)
}

func TestDoZeroPolicyFallsBackToClassDefault(t *testing.T) {
	coordinator := newTestCoordinator(t, 100)

	attempts := 0
	result, err := coordinator.Do(context.Background(), "unit-1", "", models.RetryPolicy{}, func(_ context.Context) (any, error) {
		attempts++
		if attempts == 1 {
			return nil, context.DeadlineExceeded
		}

		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, attempts)
}

func TestPolicyWaitStopsAfterMaxAttempts(t *testing.T) {
	policy := fastPolicy(3)
	wait := &policyWait{policy: &policy}

	assert.NotEqual(t, backoff.Stop, wait.NextBackOff())
	assert.NotEqual(t, backoff.Stop, wait.NextBackOff())
	assert.Equal(t, backoff.Stop, wait.NextBackOff())
}

func TestDefaultPolicyFor(t *testing.T) {
	network := DefaultPolicyFor(ClassNetwork)
	assert.Equal(t, 5, network.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, network.InitialDelay)

	limited := DefaultPolicyFor(ClassRateLimited)
	assert.Equal(t, 30*time.Second, limited.InitialDelay)

	assert.Zero(t, DefaultPolicyFor(ClassPermanent).MaxRetries)
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	coordinator := newTestCoordinator(t, 100)

	attempts := 0
	_, err := coordinator.Do(context.Background(), "unit-1", "billing-api", fastPolicy(5), func(_ context.Context) (any, error) {
		attempts++

		return nil, &HTTPError{StatusCode: 400, Body: "bad payload"}
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoStopsWhenCircuitOpens(t *testing.T) {
	coordinator := newTestCoordinator(t, 1)

	// First call trips the single-failure breaker.
	_, err := coordinator.Do(context.Background(), "unit-1", "flaky-api", fastPolicy(0), func(_ context.Context) (any, error) {
		return nil, &HTTPError{StatusCode: 500}
	})
	require.Error(t, err)

	attempts := 0
	_, err = coordinator.Do(context.Background(), "unit-2", "flaky-api", fastPolicy(5), func(_ context.Context) (any, error) {
		attempts++

		return "unreachable", nil
	})

	require.ErrorIs(t, err, breaker.ErrCircuitOpen)
	assert.Zero(t, attempts)
}

func TestDoBypassesBreakerWithoutServiceName(t *testing.T) {
	coordinator := newTestCoordinator(t, 1)

	for range 3 {
		_, err := coordinator.Do(context.Background(), "unit-1", "", fastPolicy(0), func(_ context.Context) (any, error) {
			return nil, errors.New("invalid input")
		})
		require.Error(t, err)
		require.NotErrorIs(t, err, breaker.ErrCircuitOpen)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{name: "rate limited", err: &HTTPError{StatusCode: 429}, want: ClassRateLimited},
		{name: "server error", err: &HTTPError{StatusCode: 500}, want: ClassServer},
		{name: "client error", err: &HTTPError{StatusCode: 404}, want: ClassPermanent},
		{name: "deadline", err: context.DeadlineExceeded, want: ClassNetwork},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), want: ClassNetwork},
		{name: "generic", err: errors.New("schema mismatch"), want: ClassPermanent},
		{name: "nil", err: nil, want: ClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestNextDelayGrowsAndCaps(t *testing.T) {
	policy := models.RetryPolicy{
		MaxRetries:      10,
		InitialDelay:    time.Second,
		MaxDelay:        time.Minute,
		ExponentialBase: 2.0,
		Multiplier:      1.0,
	}

	previous := time.Duration(0)
	for attempt := range 10 {
		delay := NextDelay(policy, attempt)
		assert.GreaterOrEqual(t, delay, previous, "attempt %d", attempt)
		assert.LessOrEqual(t, delay, policy.MaxDelay, "attempt %d", attempt)
		previous = delay
	}

	assert.Equal(t, time.Second, NextDelay(policy, 0))
	assert.Equal(t, 2*time.Second, NextDelay(policy, 1))
	assert.Equal(t, time.Minute, NextDelay(policy, 9))
}

func TestNextDelayJitterStaysBounded(t *testing.T) {
	policy := models.RetryPolicy{
		InitialDelay:    time.Second,
		MaxDelay:        time.Minute,
		ExponentialBase: 2.0,
		Multiplier:      1.0,
		Jitter:          true,
	}

	for range 100 {
		delay := NextDelay(policy, 2)
		assert.GreaterOrEqual(t, delay, 3*time.Second)
		assert.LessOrEqual(t, delay, 5*time.Second)
	}
}
