// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package settle

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"

	"github.com/dicepay/dicepayd/chain"
	"github.com/dicepay/dicepayd/registry"
)

// minBetFloor is the hard floor on a deposit regardless of the relay
// fee derived dust limit.
const minBetFloor = btcutil.Amount(546)

// Deposit rejection reasons.  Rejected deposits are logged and counted
// but never stored.
var (
	// ErrNoWatchedOutput rejects a transaction with no output paying a
	// registered deposit address.
	ErrNoWatchedOutput = errors.New("no output pays a watched address")

	// ErrInactiveWallet rejects a deposit to a deactivated wallet.
	ErrInactiveWallet = errors.New("deposit address is deactivated")

	// ErrBelowMinimum rejects a deposit below the dust threshold.
	ErrBelowMinimum = errors.New("deposit below minimum bet")

	// ErrAboveMaximum rejects a deposit above the configured cap.
	ErrAboveMaximum = errors.New("deposit above maximum bet")

	// ErrNeedsConfirmation rejects an unconfirmed deposit larger than
	// the zero-conf cap.
	ErrNeedsConfirmation = errors.New("deposit exceeds zero-conf cap")
)

// Rules is the admission policy applied to every detected transaction
// before a bet row is created.
type Rules struct {
	// Registry resolves deposit addresses to registered wallets.
	Registry *registry.Registry

	// RelayFeePerKb anchors the dust threshold.
	RelayFeePerKb btcutil.Amount

	// MaxBet caps a single deposit.  Zero means no cap.
	MaxBet btcutil.Amount

	// MinConf is the confirmation count at which a deposit of any size
	// is admitted.
	MinConf int64

	// ZeroConfCap is the largest deposit admitted before reaching
	// MinConf confirmations.
	ZeroConfCap btcutil.Amount
}

// deposit is a verified deposit ready for admission.
type deposit struct {
	entry  *registry.Entry
	txid   string
	sender string
	amount btcutil.Amount
}

// verify checks a detected transaction against the admission policy and
// returns the deposit to admit.  The error is the rejection reason.
func (r *Rules) verify(s *chain.TxSummary) (*deposit, error) {
	entry, extra := r.watchedOutput(s)
	if entry == nil {
		return nil, ErrNoWatchedOutput
	}
	if extra > 0 {
		log.Warnf("Transaction %s pays %d watched addresses, only "+
			"the first output (%s) is admitted", s.Txid, extra+1,
			entry.Address)
	}
	if !entry.Active {
		return nil, fmt.Errorf("%w: %s", ErrInactiveWallet,
			entry.Address)
	}

	depositScript, err := txscript.PayToAddrScript(entry.Address)
	if err != nil {
		return nil, fmt.Errorf("cannot build script for %s: %w",
			entry.Address, err)
	}

	amount := s.OutputTo(entry.Address.EncodeAddress())
	if amount < minBetFloor || txrules.IsDustOutput(
		wire.NewTxOut(int64(amount), depositScript), r.RelayFeePerKb) {

		return nil, fmt.Errorf("%w: %v", ErrBelowMinimum, amount)
	}
	if r.MaxBet > 0 && amount > r.MaxBet {
		return nil, fmt.Errorf("%w: %v over %v", ErrAboveMaximum,
			amount, r.MaxBet)
	}
	if s.Confirmations < r.MinConf && amount > r.ZeroConfCap {
		return nil, fmt.Errorf("%w: %v unconfirmed, cap %v",
			ErrNeedsConfirmation, amount, r.ZeroConfCap)
	}

	// The sender may be empty for exotic input scripts.  The bet is
	// still admitted; a win with no payout address parks in
	// payout_failed instead.
	return &deposit{
		entry:  entry,
		txid:   s.Txid,
		sender: s.FirstSender(),
		amount: amount,
	}, nil
}

// watchedOutput returns the registry entry of the lowest-index output
// paying a watched address, along with how many further watched
// addresses the transaction pays.
func (r *Rules) watchedOutput(s *chain.TxSummary) (*registry.Entry, int) {
	var (
		best  *registry.Entry
		bestN uint32
		seen  = make(map[string]struct{})
	)
	for _, out := range s.Outputs {
		entry, ok := r.Registry.Lookup(out.Addr)
		if !ok {
			continue
		}
		seen[out.Addr] = struct{}{}
		if best == nil || out.N < bestN {
			best, bestN = entry, out.N
		}
	}
	if best == nil {
		return nil, 0
	}
	return best, len(seen) - 1
}
