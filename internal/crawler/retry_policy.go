package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// RetryPolicy decides whether and when a failed attempt is tried again.
// Attempts are 1-based: attempt is the number of the attempt that failed.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// ProgressiveRetryPolicy waits base × attempt between page attempts, capped at
// maxDelay, plus up to 10% jitter.
type ProgressiveRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewProgressiveRetryPolicy builds the page retry policy.
func NewProgressiveRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *ProgressiveRetryPolicy {
	if maxDelay > 0 && maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &ProgressiveRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// ShouldRetry reports whether another attempt is allowed after a failure.
func (p *ProgressiveRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if !IsRetryable(err) {
		return false
	}
	return attempt < p.maxAttempts
}

// Backoff returns the wait before the attempt that follows attempt.
func (p *ProgressiveRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.baseDelay * time.Duration(attempt)
	if p.maxDelay > 0 && delay > p.maxDelay {
		delay = p.maxDelay
	}
	return delay + randomJitter(delay/10)
}

// ExponentialRetryPolicy implements RetryPolicy with jittered exponential
// backoff. It is used for outbound deliveries.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy with sane defaults.
func NewExponentialRetryPolicy(maxAttempts int) *ExponentialRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   250 * time.Millisecond,
		maxDelay:    5 * time.Second,
	}
}

// ShouldRetry decides whether the error is retryable.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	// Transport failures and timeouts are retried. Only cancellation is final.
	return !errors.Is(err, context.Canceled)
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
