// Package retrier provides exponential backoff with jitter for transient
// venue API failures.
package retrier

import (
	"context"
	"math/rand"
	"time"
)

const (
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 10 * time.Second
	defaultMultiplier      = 2.0
	defaultMaxRetries      = 3
	defaultJitter          = 0.1
)

// Retrier implements exponential backoff with jitter.
type Retrier struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
	maxRetries      int
	jitter          float64
	retryIf         func(error) bool
}

// Option configures the Retrier.
type Option func(*Retrier)

// WithInitialInterval sets the initial retry interval.
func WithInitialInterval(d time.Duration) Option {
	return func(r *Retrier) {
		r.initialInterval = d
	}
}

// WithMaxInterval sets the maximum retry interval.
func WithMaxInterval(d time.Duration) Option {
	return func(r *Retrier) {
		r.maxInterval = d
	}
}

// WithMultiplier sets the backoff multiplier.
func WithMultiplier(m float64) Option {
	return func(r *Retrier) {
		r.multiplier = m
	}
}

// WithMaxRetries sets the maximum number of retries.
func WithMaxRetries(n int) Option {
	return func(r *Retrier) {
		r.maxRetries = n
	}
}

// WithJitter sets the jitter factor (0.0 to 1.0).
func WithJitter(j float64) Option {
	return func(r *Retrier) {
		r.jitter = j
	}
}

// WithRetryIf sets a predicate deciding whether an error is worth retrying.
// An error the predicate rejects is returned immediately.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) {
		r.retryIf = fn
	}
}

// New creates a Retrier with default values and optional overrides.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		multiplier:      defaultMultiplier,
		maxRetries:      defaultMaxRetries,
		jitter:          defaultJitter,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Do executes fn with retries until it succeeds, retries are exhausted or ctx
// is cancelled.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	interval := r.initialInterval

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			jitter := (rand.Float64()*2 - 1) * r.jitter * float64(interval)
			sleep := time.Duration(float64(interval) + jitter)
			if sleep < 0 {
				sleep = 0
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
			}

			interval = time.Duration(float64(interval) * r.multiplier)
			if interval > r.maxInterval {
				interval = r.maxInterval
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if r.retryIf != nil && !r.retryIf(err) {
			return err
		}
	}

	return err
}

// DoWithData executes fn with retries and returns its value.
func DoWithData[T any](r *Retrier, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var e error
		result, e = fn(ctx)
		return e
	})
	return result, err
}
