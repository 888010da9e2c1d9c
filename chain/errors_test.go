// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{{
		name: "nil",
		err:  nil,
		want: false,
	}, {
		name: "canceled context",
		err:  context.Canceled,
		want: false,
	}, {
		name: "deadline exceeded",
		err:  context.DeadlineExceeded,
		want: false,
	}, {
		name: "wrapped cancellation",
		err:  fmt.Errorf("poll: %w", context.Canceled),
		want: false,
	}, {
		name: "already known",
		err:  ErrTxAlreadyKnown,
		want: false,
	}, {
		name: "feed closed",
		err:  ErrFeedClosed,
		want: false,
	}, {
		name: "throttled",
		err:  &APIError{Op: "rawaddr", StatusCode: 429},
		want: true,
	}, {
		name: "server error",
		err:  &APIError{Op: "pushtx", StatusCode: 500},
		want: true,
	}, {
		name: "bad gateway",
		err:  &APIError{Op: "rawtx", StatusCode: 502},
		want: true,
	}, {
		name: "bad request",
		err:  &APIError{Op: "pushtx", StatusCode: 400},
		want: false,
	}, {
		name: "not found",
		err:  &APIError{Op: "rawtx", StatusCode: 404},
		want: false,
	}, {
		name: "malformed response",
		err:  &APIError{Op: "rawaddr", Message: "malformed response"},
		want: true,
	}, {
		name: "transport failure",
		err:  errors.New("connection refused"),
		want: true,
	}}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, test.want, IsRetryable(test.err))
		})
	}
}

func TestIsAlreadyKnown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want bool
	}{{
		name: "service phrasing",
		body: "ERROR: Transaction Already Exists",
		want: true,
	}, {
		name: "node phrasing",
		body: "txn-already-in-mempool",
		want: true,
	}, {
		name: "mined phrasing",
		body: "transaction already in block chain",
		want: true,
	}, {
		name: "other rejection",
		body: "min relay fee not met",
		want: false,
	}, {
		name: "empty",
		body: "",
		want: false,
	}}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, test.want, isAlreadyKnown(test.body))
		})
	}
}

func TestAPIErrorMessage(t *testing.T) {
	t.Parallel()

	err := &APIError{Op: "pushtx", StatusCode: 500, Message: "nope"}
	require.Equal(t, "pushtx: status 500: nope", err.Error())

	err = &APIError{Op: "unspent", Message: "malformed output script"}
	require.Equal(t, "unspent: malformed output script", err.Error())
}
