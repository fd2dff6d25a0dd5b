// Package breaker guards calls to external services with per-service
// circuit breakers.
package breaker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is surfaced when a call is short-circuited without being
// attempted because the service's breaker is open.
var ErrCircuitOpen = errors.New("service unavailable, circuit open")

const (
	defaultFailureThreshold = 5
	defaultWindow           = 60 * time.Second
)

// Registry owns one circuit breaker per external-service identity. Breakers
// open after a consecutive-failure threshold, allow a single probe after the
// cooldown window (half-open), and reset to closed on the next success.
// Safe for concurrent use across runs.
type Registry struct {
	mu        sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker
	threshold uint32
	window    time.Duration
	logger    *slog.Logger
}

func NewRegistry(failureThreshold uint32, window time.Duration, logger *slog.Logger) *Registry {
	if failureThreshold == 0 {
		failureThreshold = defaultFailureThreshold
	}

	if window <= 0 {
		window = defaultWindow
	}

	return &Registry{
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		threshold: failureThreshold,
		window:    window,
		logger:    logger.With("module", "circuit_breaker"),
	}
}

// Execute runs op through the service's breaker. A nil or empty service name
// bypasses circuit breaking entirely.
func (r *Registry) Execute(service string, op func() (any, error)) (any, error) {
	if service == "" {
		return op()
	}

	result, err := r.get(service).Execute(op)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, service)
	}

	return result, err
}

// State reports the breaker state for a service, for diagnostics.
func (r *Registry) State(service string) gobreaker.State {
	return r.get(service).State()
}

func (r *Registry) get(service string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[service]; ok {
		return cb
	}

	threshold := r.threshold
	logger := r.logger

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        service,
		MaxRequests: 1, // Single probe while half-open
		Timeout:     r.window,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit state changed", "service", name, "from", from.String(), "to", to.String())
		},
	})

	r.breakers[service] = cb

	return cb
}
