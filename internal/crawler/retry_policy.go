package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"
)

// ExponentialRetryPolicy implements RetryPolicy with jittered backoff. Only
// navigation failures are retried; challenge timeouts and cancellations never
// are.
type ExponentialRetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewExponentialRetryPolicy builds a policy allowing maxRetries extra attempts
// per page. Zero disables retries.
func NewExponentialRetryPolicy(maxRetries int) *ExponentialRetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &ExponentialRetryPolicy{
		maxRetries: maxRetries,
		baseDelay:  2 * time.Second,
		maxDelay:   30 * time.Second,
	}
}

// ShouldRetry decides whether the error is retryable. attempt is zero-based.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || p == nil {
		return false
	}
	if attempt >= p.maxRetries {
		return false
	}
	if errors.Is(err, context.Canceled) || IsChallengeTimeout(err) {
		return false
	}
	var nav *NavigationError
	return errors.As(err, &nav)
}

// Backoff returns the wait before retry attempt+1: half of the capped
// exponential delay plus a random share of the other half.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.maxDelay
	if attempt >= 0 && attempt < 16 {
		if d := p.baseDelay << attempt; d < p.maxDelay {
			delay = d
		}
	}
	half := delay / 2
	return half + jitter(half)
}

// jitter returns a uniformly random duration in [0, limit).
func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
