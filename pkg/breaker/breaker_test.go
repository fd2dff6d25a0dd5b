package breaker

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(threshold uint32) *Registry {
	return NewRegistry(threshold, time.Minute, slog.New(slog.DiscardHandler))
}

func TestExecuteOpensAfterConsecutiveFailures(t *testing.T) {
	registry := newTestRegistry(5)
	boom := errors.New("upstream down")

	for i := range 5 {
		_, err := registry.Execute("payments", func() (any, error) {
			return nil, boom
		})
		require.ErrorIs(t, err, boom, "failure %d", i)
	}

	require.Equal(t, gobreaker.StateOpen, registry.State("payments"))

	invoked := false
	_, err := registry.Execute("payments", func() (any, error) {
		invoked = true

		return "ok", nil
	})

	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked)
}

func TestExecuteSuccessResetsFailureCount(t *testing.T) {
	registry := newTestRegistry(3)
	boom := errors.New("flaky")

	for range 2 {
		_, err := registry.Execute("search", func() (any, error) { return nil, boom })
		require.Error(t, err)
	}

	result, err := registry.Execute("search", func() (any, error) { return "hit", nil })
	require.NoError(t, err)
	assert.Equal(t, "hit", result)

	// Two more failures stay under the consecutive threshold.
	for range 2 {
		_, err := registry.Execute("search", func() (any, error) { return nil, boom })
		require.ErrorIs(t, err, boom)
	}

	assert.Equal(t, gobreaker.StateClosed, registry.State("search"))
}

func TestBreakersAreIsolatedPerService(t *testing.T) {
	registry := newTestRegistry(1)

	_, err := registry.Execute("failing", func() (any, error) { return nil, errors.New("down") })
	require.Error(t, err)
	require.Equal(t, gobreaker.StateOpen, registry.State("failing"))

	result, err := registry.Execute("healthy", func() (any, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, result)
}

func TestEmptyServiceBypassesBreaking(t *testing.T) {
	registry := newTestRegistry(1)

	for range 10 {
		_, err := registry.Execute("", func() (any, error) { return nil, errors.New("always fails") })
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrCircuitOpen)
	}
}

func TestHalfOpenProbeClosesOnSuccess(t *testing.T) {
	registry := NewRegistry(1, 10*time.Millisecond, slog.New(slog.DiscardHandler))

	_, err := registry.Execute("probe", func() (any, error) { return nil, errors.New("down") })
	require.Error(t, err)
	require.Equal(t, gobreaker.StateOpen, registry.State("probe"))

	time.Sleep(20 * time.Millisecond)

	result, err := registry.Execute("probe", func() (any, error) { return "recovered", nil })
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, gobreaker.StateClosed, registry.State("probe"))
}
