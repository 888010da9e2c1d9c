// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package payout

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/dicepay/dicepayd/betdb"
	"github.com/dicepay/dicepayd/chain"
)

// startedEngine builds an engine over one funded house wallet and
// starts it.
func startedEngine(t *testing.T) (*Engine, *fakeTxSource) {
	t.Helper()

	v := newTestVault(t)
	w := newHouseWallet(t, v, 1, true)
	src := &fakeTxSource{utxos: []chain.UnspentOutput{
		w.utxo(1, 200_000, 3),
	}}
	e := newTestEngine(t, src, v, w.record)

	e.Start()
	t.Cleanup(func() {
		e.Stop()
		e.WaitForShutdown()
	})
	return e, src
}

func TestEnginePay(t *testing.T) {
	t.Parallel()

	e, src := startedEngine(t)
	dest := destAddress(t)

	bet := &betdb.BetRecord{
		ID:           9,
		Sender:       dest.EncodeAddress(),
		PayoutAmount: 40_000,
	}
	txid, err := e.Pay(context.Background(), bet)
	require.NoError(t, err)
	require.Equal(t, 1, src.pushCount())

	// What went over the wire is the transaction whose id Pay
	// reported, and it pays the win to the bettor.
	var tx wire.MsgTx
	require.NoError(t, tx.Deserialize(bytes.NewReader(src.pushedAt(0))))
	require.Equal(t, tx.TxHash().String(), txid)
	require.Equal(t, int64(40_000), tx.TxOut[0].Value)
}

func TestEnginePayRejectsBadDestination(t *testing.T) {
	t.Parallel()

	e, src := startedEngine(t)

	_, err := e.Pay(context.Background(), &betdb.BetRecord{
		ID:           1,
		Sender:       "not-an-address",
		PayoutAmount: 40_000,
	})
	require.ErrorContains(t, err, "does not parse")

	_, err = e.Pay(context.Background(), &betdb.BetRecord{
		ID:           2,
		Sender:       "",
		PayoutAmount: 40_000,
	})
	require.Error(t, err)

	_, err = e.Pay(context.Background(), &betdb.BetRecord{
		ID:     3,
		Sender: destAddress(t).EncodeAddress(),
	})
	require.ErrorContains(t, err, "no payout amount")

	require.Zero(t, src.pushCount())
}

func TestEngineBroadcastRetries(t *testing.T) {
	t.Parallel()

	e, src := startedEngine(t)
	src.pushErrs = []error{
		&chain.APIError{Op: "pushtx", StatusCode: 503, Message: "unavailable"},
	}

	bet := &betdb.BetRecord{
		ID:           4,
		Sender:       destAddress(t).EncodeAddress(),
		PayoutAmount: 40_000,
	}
	_, err := e.Pay(context.Background(), bet)
	require.NoError(t, err)
	require.Equal(t, 2, src.pushCount())
}

func TestEngineBroadcastAlreadyKnown(t *testing.T) {
	t.Parallel()

	e, src := startedEngine(t)
	src.pushErrs = []error{
		fmt.Errorf("pushtx: %w", chain.ErrTxAlreadyKnown),
	}

	// A rebroadcast after a crash hits the service's duplicate
	// detection; that still counts as a successful payout.
	bet := &betdb.BetRecord{
		ID:           5,
		Sender:       destAddress(t).EncodeAddress(),
		PayoutAmount: 40_000,
	}
	txid, err := e.Pay(context.Background(), bet)
	require.NoError(t, err)
	require.NotEmpty(t, txid)
	require.Equal(t, 1, src.pushCount())
}

func TestEngineBroadcastPermanentFailure(t *testing.T) {
	t.Parallel()

	e, src := startedEngine(t)
	rejection := &chain.APIError{
		Op: "pushtx", StatusCode: 400, Message: "dust output",
	}
	src.pushErrs = []error{rejection, rejection, rejection}

	// A client-side rejection cannot succeed on retry, so the engine
	// gives up after the first attempt.
	bet := &betdb.BetRecord{
		ID:           6,
		Sender:       destAddress(t).EncodeAddress(),
		PayoutAmount: 40_000,
	}
	_, err := e.Pay(context.Background(), bet)
	require.ErrorContains(t, err, "dust output")
	require.Equal(t, 1, src.pushCount())
}

func TestEngineBroadcastSurvivesCancellation(t *testing.T) {
	t.Parallel()

	v := newTestVault(t)
	w := newHouseWallet(t, v, 1, true)
	src := &fakeTxSource{utxos: []chain.UnspentOutput{
		w.utxo(1, 200_000, 3),
	}}
	e := newTestEngine(t, src, v, w.record)

	tx, err := e.buildPayout(context.Background(), destAddress(t), 40_000)
	require.NoError(t, err)

	// Shutdown cancels the pipeline context while the push is in
	// flight.  The attempt still runs to completion so the payout is
	// never abandoned mid-broadcast.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = e.broadcastTx(ctx, tx, tx.TxHash().String())
	require.NoError(t, err)
	require.Equal(t, 1, src.pushCount())
}

func TestEnginePayAfterStop(t *testing.T) {
	t.Parallel()

	v := newTestVault(t)
	w := newHouseWallet(t, v, 1, true)
	e := newTestEngine(t, &fakeTxSource{}, v, w.record)

	e.Start()
	e.Stop()
	e.WaitForShutdown()

	_, err := e.Pay(context.Background(), &betdb.BetRecord{
		ID:           7,
		Sender:       destAddress(t).EncodeAddress(),
		PayoutAmount: 40_000,
	})
	require.ErrorIs(t, err, ErrStopped)

	// Start after Stop stays shut down.
	e.Start()
	_, err = e.Pay(context.Background(), &betdb.BetRecord{
		ID:           8,
		Sender:       destAddress(t).EncodeAddress(),
		PayoutAmount: 40_000,
	})
	require.ErrorIs(t, err, ErrStopped)
}
