package pipeline

import (
	"time"

	"scanpipe/internal/config"
	"scanpipe/internal/services"
)

// RetryPolicy is exponential backoff over a bounded attempt budget.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Coefficient float64
	MaxInterval time.Duration
}

// PolicyFromConfig reads the pipeline section, filling unset values with
// 4 attempts starting at 1s, doubling, capped at 30s.
func PolicyFromConfig(cfg *config.Config) RetryPolicy {
	attempts, initial, coefficient, maxBackoff := cfg.RetryPolicy()
	p := RetryPolicy{MaxAttempts: attempts, Initial: initial, Coefficient: coefficient, MaxInterval: maxBackoff}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 4
	}
	if p.Initial <= 0 {
		p.Initial = time.Second
	}
	if p.Coefficient < 1 {
		p.Coefficient = 2
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 30 * time.Second
	}
	return p
}

// Backoff returns the wait after the given (1-based) failed attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Initial)
	for i := 1; i < attempt; i++ {
		d *= p.Coefficient
		if d >= float64(p.MaxInterval) {
			return p.MaxInterval
		}
	}
	if time.Duration(d) > p.MaxInterval {
		return p.MaxInterval
	}
	return time.Duration(d)
}

// Next decides whether a failed attempt is retried and how long to wait.
// Only transient errors consume the budget; a dependency's Retry-After
// lengthens the wait up to MaxInterval.
func (p RetryPolicy) Next(attempt int, err error) (time.Duration, bool) {
	if err == nil || !services.IsRetryable(err) || attempt >= p.MaxAttempts {
		return 0, false
	}
	wait := p.Backoff(attempt)
	if hint := services.Details(err).RetryAfter; hint > wait {
		wait = min(hint, p.MaxInterval)
	}
	return wait, true
}
