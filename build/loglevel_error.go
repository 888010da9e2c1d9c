// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build error
// +build error

package build

// LogLevel specifies an error log level.
var LogLevel = "error"
