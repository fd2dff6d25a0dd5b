package models

import "time"

// RetryPolicy controls retry count and delay growth for a retryable unit of
// work. Delay for attempt n is
//
//	min(MaxDelay, InitialDelay * ExponentialBase^n * Multiplier^n)
//
// optionally perturbed by ±25% jitter.
type RetryPolicy struct {
	MaxRetries      int           `json:"max_retries"`
	InitialDelay    time.Duration `json:"initial_delay"`
	MaxDelay        time.Duration `json:"max_delay"`
	ExponentialBase float64       `json:"exponential_base"`
	Multiplier      float64       `json:"multiplier"`
	Jitter          bool          `json:"jitter"`
}

// Normalized fills zero values with working defaults.
func (p RetryPolicy) Normalized() RetryPolicy {
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}

	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Minute
	}

	if p.ExponentialBase <= 0 {
		p.ExponentialBase = 2.0
	}

	if p.Multiplier <= 0 {
		p.Multiplier = 1.0
	}

	return p
}

// RetryAttemptState tracks the attempts of one retrying unit of work. It
// lives only for the duration of the retrying call and is never persisted.
type RetryAttemptState struct {
	UnitID        string    `json:"unit_id"`
	Attempt       int       `json:"attempt"`
	TotalAttempts int       `json:"total_attempts"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
	LastError     string    `json:"last_error,omitempty"`
}
