// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package payout builds, signs, and broadcasts the transactions that
// pay winning bets.  All payouts flow through a single dispatch
// goroutine so concurrent wins cannot select the same house output
// twice.
package payout

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/dicepay/dicepayd/betdb"
	"github.com/dicepay/dicepayd/chain"
	"github.com/dicepay/dicepayd/retry"
	"github.com/dicepay/dicepayd/vault"
)

const (
	// minInputConf is the confirmation count a house output needs
	// before it may fund a payout.
	minInputConf = 1

	// broadcastAttemptTimeout bounds one broadcast attempt once it has
	// started.
	broadcastAttemptTimeout = 30 * time.Second
)

// defaultBroadcast bounds payout broadcast attempts.  Rejections that
// cannot succeed on retry fail immediately regardless of the budget.
var defaultBroadcast = retry.Policy{
	Base:        5 * time.Second,
	Max:         5 * time.Minute,
	MaxAttempts: 5,
	Jitter:      0.2,
}

var (
	// ErrInsufficientFunds is returned when the spendable house
	// outputs cannot cover a payout plus its fee.  The condition does
	// not clear on retry; the bet parks until an operator funds the
	// wallets and requeues it.
	ErrInsufficientFunds = errors.New("insufficient funds in house wallets")

	// ErrStopped is returned for payouts requested after Stop.
	ErrStopped = errors.New("payout engine is shut down")
)

// TxSource is the part of the REST client the engine uses.
type TxSource interface {
	// Unspent lists the unspent outputs of the given addresses.
	Unspent(ctx context.Context, addrs []string) ([]chain.UnspentOutput, error)

	// PushTx broadcasts a serialized transaction.
	PushTx(ctx context.Context, rawTx []byte) error
}

// Config is the payout engine configuration.
type Config struct {
	// Client lists house outputs and broadcasts payout transactions.
	Client TxSource

	// Vault decrypts the signing keys of the house wallets.
	Vault *vault.Vault

	// Wallets resolves house wallet records for key lookup.
	Wallets betdb.WalletStore

	// ChainParams identifies the network payout addresses must belong
	// to.
	ChainParams *chaincfg.Params

	// FeeRatePerKb is the payout fee rate in satoshi per kilobyte.
	// Zero selects the default relay fee.
	FeeRatePerKb btcutil.Amount

	// Broadcast overrides the broadcast retry policy.  The zero value
	// selects the default.
	Broadcast retry.Policy
}

type payRequest struct {
	ctx    context.Context
	bet    *betdb.BetRecord
	result chan payResult
}

type payResult struct {
	txid string
	err  error
}

// Engine pays winning bets from the pooled house wallet outputs.
type Engine struct {
	cfg       Config
	feeRate   btcutil.Amount
	broadcast retry.Policy

	payRequests chan *payRequest

	started bool
	quitMtx sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine creates a payout engine.  Start must be called before the
// first Pay.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Client == nil {
		return nil, errors.New("payout engine requires a chain client")
	}
	if cfg.Vault == nil {
		return nil, errors.New("payout engine requires a key vault")
	}
	if cfg.Wallets == nil {
		return nil, errors.New("payout engine requires a wallet store")
	}
	if cfg.ChainParams == nil {
		return nil, errors.New("payout engine requires chain params")
	}

	feeRate := cfg.FeeRatePerKb
	if feeRate <= 0 {
		feeRate = defaultFeeRatePerKb
	}
	broadcast := cfg.Broadcast
	if broadcast.Base == 0 {
		broadcast = defaultBroadcast
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:         cfg,
		feeRate:     feeRate,
		broadcast:   broadcast,
		payRequests: make(chan *payRequest),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start launches the dispatch goroutine.
func (e *Engine) Start() {
	e.quitMtx.Lock()
	defer e.quitMtx.Unlock()

	if e.started || e.ctx.Err() != nil {
		return
	}
	e.started = true

	e.wg.Add(1)
	go e.dispatchHandler()
}

// Stop shuts the engine down.  Pending Pay calls fail with ErrStopped.
func (e *Engine) Stop() {
	e.quitMtx.Lock()
	defer e.quitMtx.Unlock()

	select {
	case <-e.ctx.Done():
	default:
		e.cancel()
	}
}

// WaitForShutdown blocks until the dispatch goroutine has exited.
func (e *Engine) WaitForShutdown() {
	e.wg.Wait()
}

// Pay builds, signs, and broadcasts the payout for a winning bet and
// returns the payout transaction id.  Requests are serialized through
// the dispatch goroutine so no two payouts can spend the same house
// output.
func (e *Engine) Pay(ctx context.Context, bet *betdb.BetRecord) (string, error) {
	req := &payRequest{
		ctx:    ctx,
		bet:    bet,
		result: make(chan payResult, 1),
	}

	select {
	case e.payRequests <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-e.ctx.Done():
		return "", ErrStopped
	}

	select {
	case res := <-req.result:
		return res.txid, res.err
	case <-e.ctx.Done():
		return "", ErrStopped
	}
}

// dispatchHandler serializes payout construction.  It must be run as a
// goroutine.
func (e *Engine) dispatchHandler() {
	defer e.wg.Done()

	for {
		select {
		case req := <-e.payRequests:
			txid, err := e.pay(req.ctx, req.bet)
			req.result <- payResult{txid: txid, err: err}

		case <-e.ctx.Done():
			return
		}
	}
}

// pay drives one payout end to end.
func (e *Engine) pay(ctx context.Context, bet *betdb.BetRecord) (string, error) {
	if bet.PayoutAmount <= 0 {
		return "", fmt.Errorf("bet %d has no payout amount", bet.ID)
	}

	dest, err := btcutil.DecodeAddress(bet.Sender, e.cfg.ChainParams)
	if err != nil {
		return "", fmt.Errorf("payout address %q does not parse: %w",
			bet.Sender, err)
	}
	if !dest.IsForNet(e.cfg.ChainParams) {
		return "", fmt.Errorf("payout address %v is not valid for %s",
			dest, e.cfg.ChainParams.Name)
	}

	tx, err := e.buildPayout(ctx, dest, bet.PayoutAmount)
	if err != nil {
		return "", err
	}

	txid := tx.TxHash().String()
	if err := e.broadcastTx(ctx, tx, txid); err != nil {
		return "", err
	}

	log.Infof("Payout %s broadcast for bet %d: %v to %s", txid, bet.ID,
		bet.PayoutAmount, bet.Sender)
	return txid, nil
}

// broadcastTx pushes the transaction with the bounded retry policy.  A
// service that already knows the transaction counts as success, which
// makes rebroadcast after a crash idempotent.
func (e *Engine) broadcastTx(ctx context.Context, tx *wire.MsgTx,
	txid string) error {

	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return fmt.Errorf("failed to serialize payout: %w", err)
	}
	raw := buf.Bytes()

	op := func() error {
		// An attempt that has started runs to completion even when the
		// caller is shutting down; only the waits between attempts
		// honor cancellation.  Abandoning a push mid-flight would
		// leave the payout outcome unknown.
		attemptCtx, cancel := context.WithTimeout(
			context.WithoutCancel(ctx), broadcastAttemptTimeout)
		defer cancel()

		err := e.cfg.Client.PushTx(attemptCtx, raw)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, chain.ErrTxAlreadyKnown):
			log.Debugf("Payout %s is already known to the network",
				txid)
			return nil
		case !chain.IsRetryable(err):
			return retry.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Warnf("Broadcast of payout %s failed: %v (retry in %v)",
			txid, err, next)
	}
	return e.broadcast.DoNotify(ctx, op, notify)
}
