package biz

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/DeifMohamed2/PartsForm-sub004/internal/conf"
)

// RetryOptions customizes ExponentialBackoff.Execute.
type RetryOptions struct {
	// ShouldRetry decides whether err at the given attempt is retryable.
	// Nil means every error is retryable.
	ShouldRetry func(err error, attempt int) bool
	// OnRetry is invoked before sleeping between attempts.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// ExponentialBackoff computes jittered retry delays and drives a retry loop.
// Attempts are 0-indexed; the total number of attempts is MaxRetries+1.
type ExponentialBackoff struct {
	base       time.Duration
	multiplier float64
	maxDelay   time.Duration
	maxRetries int
	jitter     bool

	rand *rand.Rand
}

// NewExponentialBackoff creates a backoff policy from configuration, replacing
// zero values with defaults.
func NewExponentialBackoff(cfg *conf.Backoff) *ExponentialBackoff {
	base := time.Second
	multiplier := 2.0
	maxDelay := 8 * time.Second
	maxRetries := 3
	jitter := false
	if cfg != nil {
		if cfg.Base > 0 {
			base = cfg.Base
		}
		if cfg.Multiplier > 1 {
			multiplier = cfg.Multiplier
		}
		if cfg.MaxDelay > 0 {
			maxDelay = cfg.MaxDelay
		}
		if cfg.MaxRetries > 0 {
			maxRetries = cfg.MaxRetries
		}
		jitter = cfg.Jitter
	}

	return &ExponentialBackoff{
		base:       base,
		multiplier: multiplier,
		maxDelay:   maxDelay,
		maxRetries: maxRetries,
		jitter:     jitter,
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Delay returns the sleep duration before retrying attempt n:
// min(maxDelay, base*multiplier^n), optionally jittered by a uniform factor
// in [0.8, 1.2] to avoid synchronized retries.
func (b *ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := float64(b.base) * math.Pow(b.multiplier, float64(attempt))
	if d > float64(b.maxDelay) {
		d = float64(b.maxDelay)
	}

	if b.jitter {
		d *= 0.8 + 0.4*b.rand.Float64()
	}

	return time.Duration(d)
}

// Execute runs fn until it succeeds, the retry budget is exhausted, or
// ShouldRetry rejects the error. The sleep between attempts is context-aware.
func (b *ExponentialBackoff) Execute(ctx context.Context, fn func(ctx context.Context, attempt int) error, opts *RetryOptions) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}

		if attempt >= b.maxRetries {
			return err
		}
		if opts != nil && opts.ShouldRetry != nil && !opts.ShouldRetry(err, attempt) {
			return err
		}

		delay := b.Delay(attempt)
		if opts != nil && opts.OnRetry != nil {
			opts.OnRetry(err, attempt, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
