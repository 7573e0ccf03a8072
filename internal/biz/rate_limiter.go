package biz

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/DeifMohamed2/PartsForm-sub004/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

var (
	// ErrQueueFull is returned when the waiting queue is at capacity and a
	// new acquire would grow it further.
	ErrQueueFull = errors.New("rate limiter: waiting queue full")
	// ErrAcquireTimeout is returned when a queued acquire waited longer than
	// the configured timeout.
	ErrAcquireTimeout = errors.New("rate limiter: timed out waiting for permit")
)

// RateLimiter bounds the number of concurrently in-flight operations against
// a dependency. It is a throughput shock absorber, not a failure detector:
// it complements the circuit breaker's binary open/closed signal.
type RateLimiter struct {
	permits        chan struct{}
	queueSize      int32
	acquireTimeout time.Duration

	waiting atomic.Int32
	logger  *log.Helper
}

// NewRateLimiter creates a limiter with maxConcurrent permits and a bounded
// FIFO waiting queue.
func NewRateLimiter(cfg *conf.Limiter, logger log.Logger) *RateLimiter {
	maxConcurrent := 10
	queueSize := 50
	timeout := 30 * time.Second
	if cfg != nil {
		if cfg.MaxConcurrent > 0 {
			maxConcurrent = cfg.MaxConcurrent
		}
		if cfg.QueueSize > 0 {
			queueSize = cfg.QueueSize
		}
		if cfg.AcquireTimeout > 0 {
			timeout = cfg.AcquireTimeout
		}
	}

	permits := make(chan struct{}, maxConcurrent)
	for i := 0; i < maxConcurrent; i++ {
		permits <- struct{}{}
	}

	return &RateLimiter{
		permits:        permits,
		queueSize:      int32(queueSize),
		acquireTimeout: timeout,
		logger:         log.NewHelper(logger),
	}
}

// Acquire obtains a permit, waiting in FIFO order when none is free. It fails
// immediately with ErrQueueFull when the waiting queue is at capacity, and
// with ErrAcquireTimeout when the wait exceeds the configured timeout.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	// Fast path: free permit available.
	select {
	case <-l.permits:
		return nil
	default:
	}

	if l.waiting.Add(1) > l.queueSize {
		l.waiting.Add(-1)
		l.logger.Warnw("msg", "rate limiter queue full", "queue_size", l.queueSize)
		return ErrQueueFull
	}
	defer l.waiting.Add(-1)

	timer := time.NewTimer(l.acquireTimeout)
	defer timer.Stop()

	select {
	case <-l.permits:
		return nil
	case <-timer.C:
		l.logger.Warnw("msg", "rate limiter acquire timed out", "timeout", l.acquireTimeout)
		return ErrAcquireTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a permit to the pool.
func (l *RateLimiter) Release() {
	select {
	case l.permits <- struct{}{}:
	default:
		// Release without matching acquire; dropping keeps the pool bounded.
		l.logger.Warn("rate limiter release without matching acquire")
	}
}

// Execute runs fn under a permit.
func (l *RateLimiter) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()

	return fn(ctx)
}

// InFlight returns the number of permits currently held.
func (l *RateLimiter) InFlight() int {
	return cap(l.permits) - len(l.permits)
}

// Waiting returns the current waiting queue length.
func (l *RateLimiter) Waiting() int {
	return int(l.waiting.Load())
}
