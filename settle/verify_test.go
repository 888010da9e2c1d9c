// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package settle

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/stretchr/testify/require"

	"github.com/dicepay/dicepayd/chain"
	"github.com/dicepay/dicepayd/registry"
)

// testAddress derives a fresh P2PKH address for the given network.
func testAddress(t *testing.T, params *chaincfg.Params) btcutil.Address {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(priv.PubKey().SerializeCompressed()), params,
	)
	require.NoError(t, err)
	return addr
}

// testRules builds an admission policy watching one active and one
// deactivated address.
func testRules(t *testing.T) (*Rules, btcutil.Address, btcutil.Address) {
	t.Helper()

	params := &chaincfg.MainNetParams
	active := testAddress(t, params)
	inactive := testAddress(t, params)

	reg := registry.New(params)
	require.NoError(t, reg.Add(registry.Entry{
		Address:   active,
		WalletID:  1,
		MultCenti: 200,
		Active:    true,
	}))
	require.NoError(t, reg.Add(registry.Entry{
		Address:   inactive,
		WalletID:  2,
		MultCenti: 300,
		Active:    true,
	}))
	require.True(t, reg.Deactivate(inactive.EncodeAddress()))

	return &Rules{
		Registry:      reg,
		RelayFeePerKb: txrules.DefaultRelayFeePerKb,
		MaxBet:        btcutil.Amount(1_000_000),
		MinConf:       1,
		ZeroConfCap:   btcutil.Amount(50_000),
	}, active, inactive
}

// summaryTo builds a single-output deposit to addr.
func summaryTo(addr string, amount btcutil.Amount, conf int64) chain.TxSummary {
	return chain.TxSummary{
		Txid:          "aa11",
		Time:          time.Now(),
		Confirmations: conf,
		Inputs: []chain.TxInput{
			{Addr: "1SenderAddr", Value: amount},
		},
		Outputs: []chain.TxOutput{
			{Addr: addr, Value: amount, N: 0},
		},
	}
}

func TestVerifyAdmits(t *testing.T) {
	t.Parallel()

	rules, active, _ := testRules(t)
	s := summaryTo(active.EncodeAddress(), 25_000, 1)

	dep, err := rules.verify(&s)
	require.NoError(t, err)
	require.Equal(t, uint32(1), dep.entry.WalletID)
	require.Equal(t, int64(200), dep.entry.MultCenti)
	require.Equal(t, "aa11", dep.txid)
	require.Equal(t, "1SenderAddr", dep.sender)
	require.Equal(t, btcutil.Amount(25_000), dep.amount)
}

func TestVerifyRejections(t *testing.T) {
	t.Parallel()

	rules, active, inactive := testRules(t)
	watched := active.EncodeAddress()

	tests := []struct {
		name    string
		summary chain.TxSummary
		want    error
	}{{
		name:    "no watched output",
		summary: summaryTo("1SomeoneElse", 25_000, 1),
		want:    ErrNoWatchedOutput,
	}, {
		name:    "deactivated wallet",
		summary: summaryTo(inactive.EncodeAddress(), 25_000, 1),
		want:    ErrInactiveWallet,
	}, {
		name:    "dust deposit",
		summary: summaryTo(watched, 545, 1),
		want:    ErrBelowMinimum,
	}, {
		name:    "above maximum",
		summary: summaryTo(watched, 1_000_001, 1),
		want:    ErrAboveMaximum,
	}, {
		name:    "unconfirmed above zero-conf cap",
		summary: summaryTo(watched, 50_001, 0),
		want:    ErrNeedsConfirmation,
	}}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			_, err := rules.verify(&test.summary)
			require.ErrorIs(t, err, test.want)
		})
	}
}

func TestVerifyBoundaries(t *testing.T) {
	t.Parallel()

	rules, active, _ := testRules(t)
	watched := active.EncodeAddress()

	// 546 satoshi is the smallest non-dust P2PKH output at the default
	// relay fee.
	s := summaryTo(watched, 546, 1)
	dep, err := rules.verify(&s)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(546), dep.amount)

	// The maximum itself is admitted.
	s = summaryTo(watched, 1_000_000, 1)
	_, err = rules.verify(&s)
	require.NoError(t, err)

	// An unconfirmed deposit at the zero-conf cap is admitted.
	s = summaryTo(watched, 50_000, 0)
	_, err = rules.verify(&s)
	require.NoError(t, err)

	// A confirmed deposit above the cap is admitted.
	s = summaryTo(watched, 900_000, 1)
	_, err = rules.verify(&s)
	require.NoError(t, err)
}

func TestVerifySumsOutputsToSameAddress(t *testing.T) {
	t.Parallel()

	rules, active, _ := testRules(t)
	watched := active.EncodeAddress()

	s := chain.TxSummary{
		Txid:          "bb22",
		Confirmations: 1,
		Outputs: []chain.TxOutput{
			{Addr: watched, Value: 20_000, N: 0},
			{Addr: "1Change", Value: 5_000, N: 1},
			{Addr: watched, Value: 10_000, N: 2},
		},
	}

	dep, err := rules.verify(&s)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(30_000), dep.amount)
}

func TestVerifyPicksLowestOutputIndex(t *testing.T) {
	t.Parallel()

	rules, active, _ := testRules(t)

	params := &chaincfg.MainNetParams
	second := testAddress(t, params)
	require.NoError(t, rules.Registry.Add(registry.Entry{
		Address:   second,
		WalletID:  3,
		MultCenti: 1000,
		Active:    true,
	}))

	// Outputs arrive out of order; the bet binds to the wallet paid by
	// the lowest output index.
	s := chain.TxSummary{
		Txid:          "cc33",
		Confirmations: 1,
		Outputs: []chain.TxOutput{
			{Addr: second.EncodeAddress(), Value: 10_000, N: 1},
			{Addr: active.EncodeAddress(), Value: 20_000, N: 0},
		},
	}

	dep, err := rules.verify(&s)
	require.NoError(t, err)
	require.Equal(t, uint32(1), dep.entry.WalletID)
	require.Equal(t, btcutil.Amount(20_000), dep.amount)
}

func TestVerifyEmptySenderAdmitted(t *testing.T) {
	t.Parallel()

	rules, active, _ := testRules(t)

	s := summaryTo(active.EncodeAddress(), 25_000, 1)
	s.Inputs = []chain.TxInput{{Addr: "", Value: 25_000}}

	dep, err := rules.verify(&s)
	require.NoError(t, err)
	require.Empty(t, dep.sender)
}
