package downloader

import (
	"time"

	"clipsync/internal/domain"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 2 * time.Second
)

// RetryPolicy decides whether a failed attempt is repeated and after what
// delay. Only fetch-class (transient network) failures are retryable;
// resolution, trim and merge failures indicate bad input or a missing tool
// and repeating them cannot succeed.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func NewRetryPolicy(maxAttempts int, baseDelay time.Duration) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	return &RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: baseDelay}
}

// Decide returns whether the task should be retried after its attempts-th
// execution failed with err, and the backoff delay before the next attempt.
// The delay doubles per attempt: base, 2*base, 4*base, …
func (p *RetryPolicy) Decide(attempts int, err error) (bool, time.Duration) {
	if !domain.Retryable(err) {
		return false, 0
	}
	if attempts >= p.MaxAttempts {
		return false, 0
	}
	delay := p.BaseDelay << uint(attempts-1)
	return true, delay
}
