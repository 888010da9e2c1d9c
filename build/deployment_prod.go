// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build !dev
// +build !dev

package build

// Deployment specifies a production deployment.
const Deployment = Production
