// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// JitterTicker is a ticker whose interval varies randomly around a base
// duration.  A scaler of s yields ticks spaced between duration*(1-s)
// and duration*(1+s), floored at zero when s exceeds 1.  A scaler of 0
// behaves like a plain ticker.
type JitterTicker struct {
	// C receives the ticks.
	C <-chan time.Time

	c        chan time.Time
	duration time.Duration
	scaler   float64
	min      int64
	max      int64
	quit     chan struct{}
}

// NewJitterTicker returns a started JitterTicker.  A negative scaler
// panics.
func NewJitterTicker(d time.Duration, scaler float64) *JitterTicker {
	min, max := jitterBounds(d, scaler)

	t := &JitterTicker{
		c:        make(chan time.Time, 1),
		duration: d,
		scaler:   scaler,
		min:      min,
		max:      max,
		quit:     make(chan struct{}),
	}
	t.C = t.c

	go t.run()
	return t
}

// jitterBounds computes the inclusive tick spacing range.
func jitterBounds(d time.Duration, scaler float64) (int64, int64) {
	if scaler < 0 {
		panic(errors.New("scaler must be positive"))
	}

	min := math.Floor(float64(d) * (1 - scaler))
	max := math.Ceil(float64(d) * (1 + scaler))
	if 1-scaler < 0 {
		min = 0
	}
	return int64(min), int64(max)
}

// Stop stops the ticker.  It does not close C.
func (jt *JitterTicker) Stop() {
	close(jt.quit)
}

// run drives the tick channel until Stop.
func (jt *JitterTicker) run() {
	timer := time.NewTimer(jt.rand())
	for {
		select {
		case t := <-timer.C:
			timer.Reset(jt.rand())

			// Ticks must never block the timer loop.  A receiver
			// that lags simply sees fewer ticks.
			select {
			case jt.c <- t:
			default:
			}

		case <-jt.quit:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			return
		}
	}
}

// rand returns the next tick spacing.
func (jt *JitterTicker) rand() time.Duration {
	if jt.max == jt.min {
		return jt.duration
	}

	d := rand.Int63n(jt.max-jt.min) + jt.min
	return time.Duration(d)
}
