// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package betdb

import (
	"github.com/btcsuite/btclog"

	"github.com/dicepay/dicepayd/build"
)

// log is a logger that is initialized with no output filters.  This
// means the package will not perform any logging by default until the
// caller requests it.
var log btclog.Logger

// The default amount of logging is none.
func init() {
	UseLogger(build.NewSubLogger("BDB", nil))
}

// DisableLog disables all library log output.  Logging output is
// disabled by default until either UseLogger or SetLogWriter are
// called.
func DisableLog() {
	log = btclog.Disabled
}

// UseLogger uses a specified Logger to output package logging info.
// This should be used in preference to SetLogWriter if the caller is
// also using btclog.
func UseLogger(logger btclog.Logger) {
	log = logger
}
