// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package build

import (
	"os"

	"github.com/btcsuite/btclog"
)

// LogType selects the logging backend wired in by the build tags.
type LogType byte

const (
	// LogTypeNone indicates no logging.
	LogTypeNone LogType = iota

	// LogTypeStdOut writes all logging directly to stdout.
	LogTypeStdOut

	// LogTypeDefault logs to both stdout and the daemon's rotating log
	// file.
	LogTypeDefault
)

// String returns a human readable identifier for the logging type.
func (t LogType) String() string {
	switch t {
	case LogTypeNone:
		return "none"
	case LogTypeStdOut:
		return "stdout"
	case LogTypeDefault:
		return "default"
	default:
		return "unknown"
	}
}

// NewSubLogger constructs a subsystem logger from the daemon's log
// backend.  Packages call this from their init so they log nothing
// until the daemon installs its backend through genSubLogger.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	switch Deployment {

	// Production builds attach the subsystem to the primary backend.
	// Without a constructor, logging stays disabled.
	case Production:
		if genSubLogger != nil {
			return genSubLogger(subsystem)
		}

	// Development builds distinguish running the daemon from running
	// package tests.
	case Development:
		switch LoggingType {

		// The live daemon behaves the same as a production build.
		case LogTypeDefault:
			if genSubLogger != nil {
				return genSubLogger(subsystem)
			}

		// Package tests write straight to stdout.  Each subsystem
		// gets its own backend, which does not matter since they all
		// share the same destination.
		case LogTypeStdOut:
			backend := btclog.NewBackend(os.Stdout)
			logger := backend.Logger(subsystem)

			// The level comes from the build tags.
			level, _ := btclog.LevelFromString(LogLevel)
			logger.SetLevel(level)

			return logger
		}
	}

	return btclog.Disabled
}
