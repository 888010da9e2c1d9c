// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTxAlreadyKnown is returned by PushTx when the service already
	// has the transaction in its mempool or chain.  Callers treat this
	// as a successful broadcast.
	ErrTxAlreadyKnown = errors.New("transaction already known")

	// ErrFeedClosed is returned for operations on a feed that has been
	// stopped.
	ErrFeedClosed = errors.New("feed is shut down")
)

// alreadyKnownMsgs are service responses that mean the transaction was
// broadcast before.  The exact wording differs between gateway versions
// and node backends.
var alreadyKnownMsgs = []string{
	"transaction already exists",
	"already have transaction",
	"txn-already-in-mempool",
	"txn-already-known",
	"already in block chain",
}

// APIError describes a failed payment network service request.
type APIError struct {
	// Op is the endpoint that failed, such as "rawaddr" or "pushtx".
	Op string

	// StatusCode is the HTTP status of the response, or zero when the
	// request never produced one.
	StatusCode int

	// Message is the service's response body, truncated.
	Message string
}

// Error satisfies the error interface.
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode,
			e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// IsRetryable reports whether a failed service call may succeed when
// repeated.  Server-side failures and transport errors are retryable,
// client errors and canceled contexts are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {

		return false
	}
	if errors.Is(err, ErrTxAlreadyKnown) || errors.Is(err, ErrFeedClosed) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return true
		case apiErr.StatusCode >= 500:
			return true
		case apiErr.StatusCode >= 400:
			return false
		}
		return true
	}

	// Anything else is a transport-level failure.
	return true
}

// isAlreadyKnown matches service responses that report a previously
// broadcast transaction.
func isAlreadyKnown(body string) bool {
	body = strings.ToLower(body)
	for _, msg := range alreadyKnownMsgs {
		if strings.Contains(body, msg) {
			return true
		}
	}
	return false
}
