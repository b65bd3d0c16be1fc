// Package ratelimit provides the shared admission control placed in front of embedding providers.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrRateLimitExceeded is returned when a caller could not be admitted within the maximum wait.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

type Config struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"` // <= 0 disables the rate
	Burst             int           `mapstructure:"burst"`
	MaxInFlight       int64         `mapstructure:"max_in_flight"` // <= 0 disables the concurrency cap
	MaxWait           time.Duration `mapstructure:"max_wait"`      // <= 0 waits as long as the caller's context allows
}

// Limiter combines a token bucket with an in-flight cap. Both grant admission in arrival
// order, and a single Limiter is shared by every caller class.
type Limiter struct {
	rate     *rate.Limiter
	inflight *semaphore.Weighted
	maxWait  time.Duration
}

func New(cfg Config) *Limiter {
	l := &Limiter{maxWait: cfg.MaxWait}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		l.rate = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	if cfg.MaxInFlight > 0 {
		l.inflight = semaphore.NewWeighted(cfg.MaxInFlight)
	}
	return l
}

// Acquire blocks until the caller is admitted. The returned release func must be called
// once the guarded call has finished.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	waitCtx := ctx
	if l.maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.maxWait)
		defer cancel()
	}

	release := func() {}
	if l.inflight != nil {
		if err := l.inflight.Acquire(waitCtx, 1); err != nil {
			return nil, l.admissionError(ctx, err)
		}
		release = func() { l.inflight.Release(1) }
	}
	if l.rate != nil {
		if err := l.rate.Wait(waitCtx); err != nil {
			release()
			return nil, l.admissionError(ctx, err)
		}
	}
	return release, nil
}

// Do runs fn once admitted.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// admissionError keeps the caller's own cancellation distinct from our bounded wait running out.
func (l *Limiter) admissionError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	return fmt.Errorf("%w: not admitted within %s: %v", ErrRateLimitExceeded, l.maxWait, err)
}
