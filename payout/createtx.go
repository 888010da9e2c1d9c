// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package payout

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"

	"github.com/dicepay/dicepayd/chain"
)

// defaultFeeRatePerKb is the fallback payout fee rate, matching the
// default relay fee policy.
const defaultFeeRatePerKb = txrules.DefaultRelayFeePerKb

// byAmount defines the methods needed to satisfy sort.Interface to
// sort unspent outputs by their amount.
type byAmount []chain.UnspentOutput

func (s byAmount) Len() int           { return len(s) }
func (s byAmount) Less(i, j int) bool { return s[i].Value < s[j].Value }
func (s byAmount) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// buildPayout creates a signed transaction paying amount to dest from
// the pooled house wallet outputs.  Change above the dust threshold
// returns to the house wallet funding the largest selected input.
func (e *Engine) buildPayout(ctx context.Context, dest btcutil.Address,
	amount btcutil.Amount) (*wire.MsgTx, error) {

	wallets, err := e.cfg.Wallets.ListWallets(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list house wallets: %w", err)
	}
	if len(wallets) == 0 {
		return nil, fmt.Errorf("%w: no wallets registered",
			ErrInsufficientFunds)
	}

	encKeys := make(map[string][]byte, len(wallets))
	addrs := make([]string, 0, len(wallets))
	for i := range wallets {
		addrs = append(addrs, wallets[i].Address)
		encKeys[wallets[i].Address] = wallets[i].EncPrivKey
	}

	utxos, err := e.cfg.Client.Unspent(ctx, addrs)
	if err != nil {
		return nil, fmt.Errorf("failed to list house outputs: %w", err)
	}

	// Only outputs with at least one confirmation fund payouts, so a
	// reorged deposit cannot take a payout down with it.
	eligible := make([]chain.UnspentOutput, 0, len(utxos))
	for _, utxo := range utxos {
		if utxo.Confirmations < minInputConf {
			continue
		}
		eligible = append(eligible, utxo)
	}

	// Pick largest outputs first to keep the input count, and with it
	// the fee, small.
	sort.Sort(sort.Reverse(byAmount(eligible)))

	payScript, err := txscript.PayToAddrScript(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to build payout script: %w", err)
	}
	outputs := []*wire.TxOut{wire.NewTxOut(int64(amount), payScript)}

	var (
		selected []chain.UnspentOutput
		total    btcutil.Amount
		fee      btcutil.Amount
	)
	for {
		fee = txrules.FeeForSerializeSize(e.feeRate,
			txsizes.EstimateSerializeSize(len(selected), outputs, true))
		if total >= amount+fee {
			break
		}
		if len(selected) == len(eligible) {
			return nil, fmt.Errorf("%w: need %v, have %v spendable",
				ErrInsufficientFunds, amount+fee, total)
		}
		next := eligible[len(selected)]
		selected = append(selected, next)
		total += next.Value
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(selected))
	for _, utxo := range selected {
		hash, err := chainhash.NewHashFromStr(utxo.Txid)
		if err != nil {
			return nil, fmt.Errorf("malformed funding txid %q: %w",
				utxo.Txid, err)
		}
		op := wire.NewOutPoint(hash, utxo.Vout)
		tx.AddTxIn(wire.NewTxIn(op, nil, nil))
		prevOuts[*op] = wire.NewTxOut(int64(utxo.Value), utxo.PkScript)
	}
	tx.AddTxOut(outputs[0])

	// A change amount too small to stand as an output folds into the
	// fee instead.
	change := total - amount - fee
	if change > 0 {
		changeOut := wire.NewTxOut(int64(change), selected[0].PkScript)
		if !txrules.IsDustOutput(changeOut, txrules.DefaultRelayFeePerKb) {
			tx.AddTxOut(changeOut)
		}
	}

	if err := e.signPayout(tx, selected, encKeys); err != nil {
		return nil, err
	}
	if err := validatePayout(tx, prevOuts); err != nil {
		return nil, err
	}
	return tx, nil
}

// signPayout attaches a signature script to every input.  Keys are
// decrypted one at a time and zeroed as soon as their input is signed.
func (e *Engine) signPayout(tx *wire.MsgTx, selected []chain.UnspentOutput,
	encKeys map[string][]byte) error {

	for i, utxo := range selected {
		_, scriptAddrs, _, err := txscript.ExtractPkScriptAddrs(
			utxo.PkScript, e.cfg.ChainParams)
		if err != nil || len(scriptAddrs) != 1 {
			return fmt.Errorf("house output %s:%d has an "+
				"unexpected script", utxo.Txid, utxo.Vout)
		}
		pkh, ok := scriptAddrs[0].(*btcutil.AddressPubKeyHash)
		if !ok {
			return fmt.Errorf("house output %s:%d is not p2pkh",
				utxo.Txid, utxo.Vout)
		}

		encKey, ok := encKeys[pkh.EncodeAddress()]
		if !ok {
			return fmt.Errorf("no wallet key for house address %s",
				pkh.EncodeAddress())
		}
		priv, err := e.cfg.Vault.PrivKey(encKey)
		if err != nil {
			return fmt.Errorf("failed to decrypt key for %s: %w",
				pkh.EncodeAddress(), err)
		}

		// The stored key does not record whether the address used the
		// compressed form of its public key, so match the hash.
		hash := pkh.Hash160()[:]
		var compress bool
		switch {
		case bytes.Equal(hash, btcutil.Hash160(
			priv.PubKey().SerializeCompressed())):

			compress = true
		case bytes.Equal(hash, btcutil.Hash160(
			priv.PubKey().SerializeUncompressed())):

			compress = false
		default:
			priv.Zero()
			return fmt.Errorf("decrypted key does not match house "+
				"address %s", pkh.EncodeAddress())
		}

		sigScript, err := txscript.SignatureScript(tx, i, utxo.PkScript,
			txscript.SigHashAll, priv, compress)
		priv.Zero()
		if err != nil {
			return fmt.Errorf("failed to sign input %d: %w", i, err)
		}
		tx.TxIn[i].SignatureScript = sigScript
	}
	return nil
}

// validatePayout verifies every input script of the signed transaction
// by executing it, so an unbroadcastable payout can never leave the
// engine.
func validatePayout(tx *wire.MsgTx, prevOuts map[wire.OutPoint]*wire.TxOut) error {
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	hashCache := txscript.NewTxSigHashes(tx, fetcher)
	for i, txIn := range tx.TxIn {
		prev, ok := prevOuts[txIn.PreviousOutPoint]
		if !ok {
			return fmt.Errorf("no previous output for input %d", i)
		}
		vm, err := txscript.NewEngine(prev.PkScript, tx, i,
			txscript.StandardVerifyFlags, nil, hashCache,
			prev.Value, fetcher)
		if err != nil {
			return fmt.Errorf("cannot create script engine: %w", err)
		}
		if err := vm.Execute(); err != nil {
			return fmt.Errorf("cannot validate transaction: %w", err)
		}
	}
	return nil
}
