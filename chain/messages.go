// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"encoding/json"
	"time"

	"github.com/btcsuite/btcd/btcutil"
)

// Source records which detection path produced a transaction
// notification.  Admission is source-agnostic: the store's duplicate
// handling makes concurrent detections of the same transaction safe.
type Source string

const (
	// SourceFeed marks transactions seen on the websocket feed.
	SourceFeed Source = "feed"

	// SourcePoller marks transactions found by the fallback poller.
	SourcePoller Source = "poller"

	// SourceManual marks transactions submitted by an operator.
	SourceManual Source = "manual"
)

// TxInput is one funding input of an observed transaction.
type TxInput struct {
	Addr  string
	Value btcutil.Amount
}

// TxOutput is one output of an observed transaction.
type TxOutput struct {
	Addr  string
	Value btcutil.Amount
	N     uint32
}

// TxSummary is the service-independent view of an observed transaction
// shared by the feed, the poller, and the REST client.
type TxSummary struct {
	Txid          string
	Time          time.Time
	Confirmations int64
	Inputs        []TxInput
	Outputs       []TxOutput
}

// OutputTo returns the total amount the transaction pays to addr.
func (s *TxSummary) OutputTo(addr string) btcutil.Amount {
	var total btcutil.Amount
	for _, out := range s.Outputs {
		if out.Addr == addr {
			total += out.Value
		}
	}
	return total
}

// FirstSender returns the address of the first input that carries one,
// or empty when the service resolved no sender.  Deposits without a
// resolvable sender cannot be paid back.
func (s *TxSummary) FirstSender() string {
	for _, in := range s.Inputs {
		if in.Addr != "" {
			return in.Addr
		}
	}
	return ""
}

// TxNotification is delivered for every observed transaction.
type TxNotification struct {
	Summary TxSummary
	Source  Source
}

// FeedConnected is delivered after each successful feed (re)connect.
// Resubscribed counts the re-issued address subscriptions.
type FeedConnected struct {
	Resubscribed int
}

// FeedDown is delivered for every failed connect attempt.  Failures is
// the consecutive failure count since the last healthy connection.
type FeedDown struct {
	Failures int
}

// feedMessage is the tagged envelope of every inbound feed message.
// The payload format depends on the op.
type feedMessage struct {
	Op string          `json:"op"`
	X  json.RawMessage `json:"x"`
}

// feedOp is an outbound feed operation.
type feedOp struct {
	Op   string `json:"op"`
	Addr string `json:"addr,omitempty"`
}

// Feed and REST wire formats of the payment network service.  The same
// transaction shape appears in utx events, rawaddr listings, and rawtx
// lookups.
type serviceTx struct {
	Hash        string         `json:"hash"`
	Time        int64          `json:"time"`
	BlockHeight int64          `json:"block_height"`
	Inputs      []serviceInput `json:"inputs"`
	Out         []serviceOut   `json:"out"`
}

type serviceInput struct {
	PrevOut serviceOut `json:"prev_out"`
}

type serviceOut struct {
	Addr  string `json:"addr"`
	Value int64  `json:"value"`
	N     uint32 `json:"n"`
}

// serviceAddr is the rawaddr response listing recent transactions of
// one address.
type serviceAddr struct {
	Address string      `json:"address"`
	TxCount int64       `json:"n_tx"`
	Txs     []serviceTx `json:"txs"`
}

// serviceUnspent is the unspent response.
type serviceUnspent struct {
	Outputs []serviceUTXO `json:"unspent_outputs"`
}

type serviceUTXO struct {
	TxHashBE      string `json:"tx_hash_big_endian"`
	N             uint32 `json:"tx_output_n"`
	Script        string `json:"script"`
	Value         int64  `json:"value"`
	Confirmations int64  `json:"confirmations"`
}

// summary converts the service transaction into the normalized form.
// Confirmations are left at zero; only the REST path can know them.
func (tx *serviceTx) summary() TxSummary {
	s := TxSummary{
		Txid:    tx.Hash,
		Time:    time.Unix(tx.Time, 0).UTC(),
		Inputs:  make([]TxInput, 0, len(tx.Inputs)),
		Outputs: make([]TxOutput, 0, len(tx.Out)),
	}
	for _, in := range tx.Inputs {
		s.Inputs = append(s.Inputs, TxInput{
			Addr:  in.PrevOut.Addr,
			Value: btcutil.Amount(in.PrevOut.Value),
		})
	}
	for _, out := range tx.Out {
		s.Outputs = append(s.Outputs, TxOutput{
			Addr:  out.Addr,
			Value: btcutil.Amount(out.Value),
			N:     out.N,
		})
	}
	return s
}
