// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package resilience retries backend calls that fail before producing output.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jllopis/chorus/pkg/errors"
)

// Backoff controls retry behavior with exponential backoff.
type Backoff struct {
	// Attempts is the total number of tries (values below 1 mean one try).
	Attempts int

	// Initial is the delay before the second try.
	Initial time.Duration

	// Max caps the exponential delay.
	Max time.Duration

	// Factor multiplies the delay on every retry (default 2).
	Factor float64

	// Jitter in [0,1]; 0.1 means ±10%.
	Jitter float64

	// Retryable decides whether an error deserves another try.
	// Defaults to errors.IsRecoverable.
	Retryable func(error) bool

	// OnRetry, when set, is called before each retry with the failed attempt
	// number (1-based) and its error.
	OnRetry func(attempt int, err error)
}

// DefaultBackoff returns three tries starting at 200ms.
func DefaultBackoff() Backoff {
	return Backoff{
		Attempts: 3,
		Initial:  200 * time.Millisecond,
		Max:      5 * time.Second,
		Factor:   2.0,
		Jitter:   0.1,
	}
}

// WithAttempts returns a copy with Attempts set.
func (b Backoff) WithAttempts(n int) Backoff {
	b.Attempts = n
	return b
}

// WithInitial returns a copy with Initial set.
func (b Backoff) WithInitial(d time.Duration) Backoff {
	b.Initial = d
	return b
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempts
// are exhausted. The last error is returned.
func (b Backoff) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := Retry(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Retry is Do for functions returning a value.
func Retry[T any](ctx context.Context, b Backoff, fn func(context.Context) (T, error)) (T, error) {
	attempts := max(b.Attempts, 1)
	retryable := b.Retryable
	if retryable == nil {
		retryable = errors.IsRecoverable
	}

	var (
		zero    T
		lastErr error
	)
	for attempt := range attempts {
		if attempt > 0 {
			if b.OnRetry != nil {
				b.OnRetry(attempt, lastErr)
			}
			timer := time.NewTimer(b.delay(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, errors.New(errors.CodeContextLost, "context canceled during retry", ctx.Err()).
					WithContext("attempt", attempt).
					WithContext("max_attempts", attempts)
			case <-timer.C:
			}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !retryable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}

// delay computes the wait before the given (1-based retry) attempt.
func (b Backoff) delay(attempt int) time.Duration {
	factor := b.Factor
	if factor == 0 {
		factor = 2.0
	}
	d := time.Duration(float64(b.Initial) * math.Pow(factor, float64(attempt-1)))
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 {
		spread := float64(d) * b.Jitter
		d = time.Duration(float64(d) + spread*(2*rand.Float64()-1))
	}
	return max(d, 0)
}
