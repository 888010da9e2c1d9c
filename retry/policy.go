// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package retry provides the bounded exponential backoff policy shared
// by every component that talks to the payment network: the realtime
// feed reconnect loop and the payout broadcaster.  Centralizing the
// policy keeps retry behavior uniform instead of scattering ad-hoc
// sleep loops across packages.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how an operation is retried.  The zero value is not
// usable; construct policies with explicit durations.
type Policy struct {
	// Base is the delay before the first retry.  Subsequent delays
	// double until Max is reached.
	Base time.Duration

	// Max caps the delay between attempts.
	Max time.Duration

	// MaxAttempts bounds the total number of attempts, including the
	// first.  Zero means retry until the context is canceled.
	MaxAttempts uint64

	// Jitter is the randomization factor applied to each delay, in
	// [0, 1].  A delay d is drawn from [d*(1-Jitter), d*(1+Jitter)].
	Jitter float64
}

// Notify is invoked after a failed attempt with the error and the delay
// before the next attempt.
type Notify func(err error, next time.Duration)

// backoff builds the underlying backoff chain for one Do invocation.
// The chain is single-use since ExponentialBackOff carries state.
func (p Policy) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.MaxInterval = p.Max
	b.RandomizationFactor = p.Jitter
	b.Multiplier = 2

	// Attempts are bounded by MaxAttempts and ctx, never by wall
	// clock.
	b.MaxElapsedTime = 0

	var bo backoff.BackOff = b
	if p.MaxAttempts > 0 {
		bo = backoff.WithMaxRetries(bo, p.MaxAttempts-1)
	}
	return backoff.WithContext(bo, ctx)
}

// Do runs op until it returns nil, returns an error marked Permanent,
// the attempt budget is exhausted, or ctx is canceled.  The error from
// the final attempt is returned, or ctx.Err() on cancellation.
func (p Policy) Do(ctx context.Context, op func() error) error {
	return backoff.Retry(op, p.backoff(ctx))
}

// DoNotify behaves like Do but calls notify between attempts, which is
// how callers log "retrying in Ns" lines without owning the loop.
func (p Policy) DoNotify(ctx context.Context, op func() error,
	notify Notify) error {

	return backoff.RetryNotify(op, p.backoff(ctx),
		backoff.Notify(notify))
}

// Permanent marks err as non-retryable.  Do returns the original error
// immediately when op fails with a permanent error.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
