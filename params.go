// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import "github.com/dicepay/dicepayd/netparams"

// activeNet is the network dicepayd is currently running on.  All
// network-specific behavior keys off this value, which is set once
// during config parsing.
var activeNet = &netparams.MainNetParams
