// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

// TestPolicyMaxAttempts ensures the attempt budget counts the first
// attempt and that the last error is surfaced once the budget runs out.
func TestPolicyMaxAttempts(t *testing.T) {
	t.Parallel()

	p := Policy{
		Base:        time.Millisecond,
		Max:         5 * time.Millisecond,
		MaxAttempts: 3,
	}

	var calls int
	err := p.Do(context.Background(), func() error {
		calls++
		return errFlaky
	})

	require.ErrorIs(t, err, errFlaky)
	require.Equal(t, 3, calls)
}

// TestPolicyEventualSuccess ensures Do stops retrying as soon as the
// operation succeeds.
func TestPolicyEventualSuccess(t *testing.T) {
	t.Parallel()

	p := Policy{
		Base:        time.Millisecond,
		Max:         5 * time.Millisecond,
		MaxAttempts: 10,
	}

	var calls int
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

// TestPolicyPermanent ensures a permanent error aborts the loop on the
// first attempt even with budget remaining.
func TestPolicyPermanent(t *testing.T) {
	t.Parallel()

	p := Policy{
		Base:        time.Millisecond,
		Max:         5 * time.Millisecond,
		MaxAttempts: 10,
	}

	var calls int
	err := p.Do(context.Background(), func() error {
		calls++
		return Permanent(errFlaky)
	})

	require.ErrorIs(t, err, errFlaky)
	require.Equal(t, 1, calls)
}

// TestPolicyContextCancel ensures cancellation interrupts the wait
// between attempts.
func TestPolicyContextCancel(t *testing.T) {
	t.Parallel()

	p := Policy{
		Base: time.Hour,
		Max:  time.Hour,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func() error { return errFlaky })
	}()

	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("retry loop did not honor cancellation")
	}
}

// TestPolicyNotify ensures the notify callback observes each failed
// attempt except the last.
func TestPolicyNotify(t *testing.T) {
	t.Parallel()

	p := Policy{
		Base:        time.Millisecond,
		Max:         5 * time.Millisecond,
		MaxAttempts: 4,
	}

	var notified int
	err := p.DoNotify(context.Background(),
		func() error { return errFlaky },
		func(err error, next time.Duration) {
			notified++
			require.ErrorIs(t, err, errFlaky)
			require.Positive(t, next)
		})

	require.ErrorIs(t, err, errFlaky)

	// Three delays separate four attempts.
	require.Equal(t, 3, notified)
}
