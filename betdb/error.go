// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package betdb

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of store error.
type ErrorCode int

// These constants identify a specific StoreError.
const (
	// ErrDatabase indicates an error with the underlying database.
	// When this error code is set, the Err field of the StoreError is
	// the error returned from the driver.
	ErrDatabase ErrorCode = iota

	// ErrDuplicateBet indicates that a bet with the same transaction
	// id has already been admitted.  This is the expected outcome
	// when multiple detection sources race on the same deposit and is
	// treated as an idempotent no-op by callers.
	ErrDuplicateBet

	// ErrDuplicateWallet indicates that a wallet with the same
	// address is already registered.
	ErrDuplicateWallet

	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound

	// ErrStaleState indicates that a guarded state transition matched
	// no row because the bet is no longer in the expected prior
	// state.  Concurrent settlement attempts and crash-recovery
	// replays surface this code.
	ErrStaleState

	// ErrBadConfig indicates an unusable database type or DSN.
	ErrBadConfig

	// ErrInvalidQuery indicates a query struct that does not
	// identify a record, such as a lookup with no key field set.
	ErrInvalidQuery
)

// Map of ErrorCode values back to their constant names for pretty
// printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:        "ErrDatabase",
	ErrDuplicateBet:    "ErrDuplicateBet",
	ErrDuplicateWallet: "ErrDuplicateWallet",
	ErrNotFound:        "ErrNotFound",
	ErrStaleState:      "ErrStaleState",
	ErrBadConfig:       "ErrBadConfig",
	ErrInvalidQuery:    "ErrInvalidQuery",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// StoreError provides a single type for errors that can happen during
// store operation.
type StoreError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e StoreError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying driver error, if any.
func (e StoreError) Unwrap() error {
	return e.Err
}

// storeError creates a StoreError given a set of arguments.
func storeError(c ErrorCode, desc string, err error) StoreError {
	return StoreError{ErrorCode: c, Description: desc, Err: err}
}

// IsError reports whether err is a StoreError with the given code.
func IsError(err error, code ErrorCode) bool {
	var e StoreError
	if !errors.As(err, &e) {
		return false
	}
	return e.ErrorCode == code
}
