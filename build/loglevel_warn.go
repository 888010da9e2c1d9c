// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build warn
// +build warn

package build

// LogLevel specifies a warn log level.
var LogLevel = "warn"
