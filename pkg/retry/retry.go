package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/veloflow/veloflow/pkg/breaker"
	"github.com/veloflow/veloflow/pkg/models"
)

const jitterFraction = 0.25

// Coordinator retries units of work per policy, consulting the circuit
// breaker registry before each attempt against a named service. The backoff
// wait is a plain timer; no breaker lock is held while waiting.
type Coordinator struct {
	breakers *breaker.Registry
	logger   *slog.Logger
}

func NewCoordinator(breakers *breaker.Registry, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		breakers: breakers,
		logger:   logger.With("module", "retry_coordinator"),
	}
}

// Do runs op, retrying retryable failures until policy.MaxRetries total
// attempts have been made and failing with the last error once exhausted.
// A zero policy means "choose by class": the class of the first failure
// picks its DefaultPolicyFor policy. Non-retryable errors and open-circuit
// rejections surface immediately.
func (c *Coordinator) Do(ctx context.Context, unitID, service string, policy models.RetryPolicy, op func(ctx context.Context) (any, error)) (any, error) {
	state := models.RetryAttemptState{UnitID: unitID}
	wait := &policyWait{}

	operation := func() (any, error) {
		state.Attempt = state.TotalAttempts
		state.TotalAttempts++
		state.LastAttemptAt = time.Now().UTC()

		result, err := c.breakers.Execute(service, func() (any, error) {
			return op(ctx)
		})
		if err == nil {
			return result, nil
		}

		state.LastError = err.Error()

		if errors.Is(err, breaker.ErrCircuitOpen) {
			return nil, backoff.Permanent(err)
		}

		class := Classify(err)
		if !class.Retryable() {
			return nil, backoff.Permanent(err)
		}

		if wait.policy == nil {
			chosen := policy
			if chosen == (models.RetryPolicy{}) {
				chosen = DefaultPolicyFor(class)
			}

			chosen = chosen.Normalized()
			wait.policy = &chosen
		}

		c.logger.Warn("Unit of work failed, will retry",
			"unit_id", unitID,
			"attempt", state.TotalAttempts,
			"class", string(class),
			"error", err)

		return nil, err
	}

	result, err := backoff.RetryWithData(operation, backoff.WithContext(wait, ctx))
	if err != nil {
		c.logger.Error("Unit of work exhausted retries",
			"unit_id", unitID,
			"attempts", state.TotalAttempts,
			"error", err)

		return nil, err
	}

	return result, nil
}

// NextDelay computes the backoff delay for a zero-based attempt number:
// min(MaxDelay, InitialDelay * ExponentialBase^attempt * Multiplier^attempt),
// perturbed by up to ±25% when jitter is enabled. Ignoring jitter the delay
// is non-decreasing in attempt and never exceeds MaxDelay.
func NextDelay(policy models.RetryPolicy, attempt int) time.Duration {
	policy = policy.Normalized()

	if attempt < 0 {
		attempt = 0
	}

	growth := math.Pow(policy.ExponentialBase*policy.Multiplier, float64(attempt))
	delay := time.Duration(float64(policy.InitialDelay) * growth)

	if delay > policy.MaxDelay || delay <= 0 {
		delay = policy.MaxDelay
	}

	if policy.Jitter {
		// rand.Float64 is not cryptographic; retry spread does not need it.
		offset := (rand.Float64()*2 - 1) * jitterFraction * float64(delay)
		delay += time.Duration(offset)

		if delay < 0 {
			delay = 0
		}
	}

	return delay
}

// policyWait adapts a RetryPolicy to the backoff interface. The policy is
// nil until the first retryable failure chooses one, which lets a zero
// caller policy resolve to the failure class's default. MaxRetries bounds
// total attempts, so the wait stops after MaxRetries-1 delays.
type policyWait struct {
	policy  *models.RetryPolicy
	attempt int
}

func (w *policyWait) NextBackOff() time.Duration {
	if w.policy == nil || w.attempt >= w.policy.MaxRetries-1 {
		return backoff.Stop
	}

	delay := NextDelay(*w.policy, w.attempt)
	w.attempt++

	return delay
}

func (w *policyWait) Reset() {
	w.attempt = 0
}
