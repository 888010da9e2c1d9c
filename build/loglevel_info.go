// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build info
// +build info

package build

// LogLevel specifies an info log level.
var LogLevel = "info"
