// Package retry coordinates retries with exponential backoff and consults
// circuit breakers before re-issuing calls against external services.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/veloflow/veloflow/pkg/models"
)

// ErrorClass buckets failures for retry eligibility.
type ErrorClass string

const (
	ClassNetwork     ErrorClass = "network"      // Connection/timeout failures, retried aggressively
	ClassRateLimited ErrorClass = "rate_limited" // HTTP 429, retried with long delays
	ClassServer      ErrorClass = "server"       // HTTP 5xx, retried moderately
	ClassPermanent   ErrorClass = "permanent"    // Everything else, never retried
)

// HTTPError carries a provider HTTP status so classification can distinguish
// 5xx/429 from other client errors.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}

	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
}

// Classify buckets an error by content: network/timeout/connection errors
// and HTTP 5xx/429 are retryable, other HTTP 4xx are not.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassPermanent
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 429:
			return ClassRateLimited
		case httpErr.StatusCode >= 500:
			return ClassServer
		default:
			return ClassPermanent
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassNetwork
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout", "timed out", "connection refused", "connection reset",
		"no such host", "broken pipe", "network is unreachable", "eof",
	} {
		if strings.Contains(msg, marker) {
			return ClassNetwork
		}
	}

	return ClassPermanent
}

// Retryable reports whether an error class is eligible for retries.
func (c ErrorClass) Retryable() bool {
	return c == ClassNetwork || c == ClassRateLimited || c == ClassServer
}

// DefaultPolicyFor returns the recommended policy per error class:
// aggressive and short for network blips, long delays for rate limiting,
// moderate for server errors.
func DefaultPolicyFor(class ErrorClass) models.RetryPolicy {
	switch class {
	case ClassNetwork:
		return models.RetryPolicy{
			MaxRetries:      5,
			InitialDelay:    200 * time.Millisecond,
			MaxDelay:        10 * time.Second,
			ExponentialBase: 2.0,
			Multiplier:      1.0,
			Jitter:          true,
		}
	case ClassRateLimited:
		return models.RetryPolicy{
			MaxRetries:      3,
			InitialDelay:    30 * time.Second,
			MaxDelay:        10 * time.Minute,
			ExponentialBase: 2.0,
			Multiplier:      1.0,
			Jitter:          true,
		}
	case ClassServer:
		return models.RetryPolicy{
			MaxRetries:      3,
			InitialDelay:    time.Second,
			MaxDelay:        time.Minute,
			ExponentialBase: 2.0,
			Multiplier:      1.0,
			Jitter:          true,
		}
	default:
		return models.RetryPolicy{MaxRetries: 0}
	}
}
