// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package vault

import "errors"

// ErrorCode identifies a category of vault error.
type ErrorCode uint8

// These constants are used to identify a specific VaultError.
const (
	// ErrIO indicates a failure reading or writing the vault file.
	ErrIO ErrorCode = iota

	// ErrCorruptVault indicates the stored vault data failed to parse,
	// for example due to a bad magic, truncation, or malformed key
	// parameters.
	ErrCorruptVault

	// ErrWrongPassphrase indicates the supplied passphrase does not
	// derive the vault's master key.
	ErrWrongPassphrase

	// ErrCrypto indicates a sealing or opening failure, such as a
	// corrupt ciphertext.
	ErrCrypto

	// ErrLocked indicates an operation that needs key material was
	// attempted while the vault is locked.
	ErrLocked

	// ErrWrongNet indicates imported key material belongs to a
	// different Bitcoin network than the vault.
	ErrWrongNet

	// ErrInvalidWIF indicates a WIF string that failed to decode or
	// whose checksum does not match.
	ErrInvalidWIF
)

// errorCodeStrings maps the error codes to human readable names.
var errorCodeStrings = map[ErrorCode]string{
	ErrIO:              "ErrIO",
	ErrCorruptVault:    "ErrCorruptVault",
	ErrWrongPassphrase: "ErrWrongPassphrase",
	ErrCrypto:          "ErrCrypto",
	ErrLocked:          "ErrLocked",
	ErrWrongNet:        "ErrWrongNet",
	ErrInvalidWIF:      "ErrInvalidWIF",
}

// String returns the ErrorCode as a human readable name.
func (e ErrorCode) String() string {
	if s, ok := errorCodeStrings[e]; ok {
		return s
	}
	return "Unknown ErrorCode"
}

// VaultError provides a single type for errors that can occur in the
// vault.  The ErrorCode field categorizes the error for callers, while
// Description gives the specifics.
type VaultError struct {
	ErrorCode   ErrorCode
	Description string
	Err         error
}

// Error satisfies the error interface.
func (e VaultError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e VaultError) Unwrap() error {
	return e.Err
}

// vaultError creates a VaultError given a set of arguments.
func vaultError(c ErrorCode, desc string, err error) VaultError {
	return VaultError{ErrorCode: c, Description: desc, Err: err}
}

// IsError reports whether err is a VaultError with the given code.
func IsError(err error, code ErrorCode) bool {
	var e VaultError
	return errors.As(err, &e) && e.ErrorCode == code
}
