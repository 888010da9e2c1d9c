// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package netparams groups chain parameters with the payment network
// service endpoints that vary per network.
package netparams

import "github.com/btcsuite/btcd/chaincfg"

// Params bundles the consensus parameters of a bitcoin network with the
// gateway endpoints used on that network.  FeedURL is the websocket
// endpoint streaming unconfirmed transactions and APIURL is the REST
// endpoint for address, transaction, and broadcast queries.
type Params struct {
	*chaincfg.Params
	FeedURL string
	APIURL  string
}

// MainNetParams contains parameters for running dicepayd against the
// main network and the public gateway.
var MainNetParams = Params{
	Params:  &chaincfg.MainNetParams,
	FeedURL: "wss://ws.blockchain.info/inv",
	APIURL:  "https://blockchain.info",
}

// TestNet3Params contains parameters for running dicepayd against the
// test network (version 3).
var TestNet3Params = Params{
	Params:  &chaincfg.TestNet3Params,
	FeedURL: "wss://ws.blockchain.info/testnet3/inv",
	APIURL:  "https://testnet.blockchain.info",
}

// TestNet4Params contains parameters for running dicepayd against the
// fourth test network.  No public gateway streams testnet4, so the
// endpoints default to a locally run explorer and are expected to be
// overridden in the config.
var TestNet4Params = Params{
	Params:  &TestNet4ChainParams,
	FeedURL: "ws://localhost:3000/inv",
	APIURL:  "http://localhost:3000",
}

// SigNetParams contains parameters for running dicepayd against the
// default signet.  There is no public gateway for signet, so the
// endpoints default to a locally run explorer and are expected to be
// overridden in the config.
var SigNetParams = Params{
	Params:  &chaincfg.SigNetParams,
	FeedURL: "ws://localhost:3000/inv",
	APIURL:  "http://localhost:3000",
}

// RegressionParams contains parameters for running dicepayd against a
// local regression test network, typically backed by a local explorer
// running on top of a regtest node.
var RegressionParams = Params{
	Params:  &chaincfg.RegressionNetParams,
	FeedURL: "ws://localhost:3000/inv",
	APIURL:  "http://localhost:3000",
}
