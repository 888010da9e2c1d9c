// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package settle consumes chain notifications and drives every detected
// deposit through the bet state machine: verification, admission, the
// provably-fair roll, and final settlement of the outcome.  All durable
// state lives in the store; the settler itself can be killed at any
// point and resumes from the persisted states on the next start.
package settle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/semaphore"

	"github.com/dicepay/dicepayd/alert"
	"github.com/dicepay/dicepayd/betdb"
	"github.com/dicepay/dicepayd/chain"
	"github.com/dicepay/dicepayd/fair"
	"github.com/dicepay/dicepayd/payout"
)

const (
	// defaultMaxInflight bounds how many bets settle concurrently.
	defaultMaxInflight = 8

	// defaultHousekeepingInterval paces seed rotation, seed reveal,
	// and the stale bet sweep.  Seed state only changes at UTC
	// midnight, so most ticks just sweep.
	defaultHousekeepingInterval = time.Hour

	// defaultFeedAlertThreshold is how many consecutive feed
	// connection failures raise the degraded alert.
	defaultFeedAlertThreshold = 5

	// defaultMaxPayoutRetries bounds how many payout attempts are
	// charged against one bet across restarts before it parks in
	// payout_failed.
	defaultMaxPayoutRetries = 5

	// staleBetAge is how long a bet may sit in a non-terminal state
	// before the housekeeping sweep re-runs it.  Bets younger than
	// this are assumed to still be moving through a live pipeline.
	staleBetAge = time.Hour
)

// PayoutEngine builds, signs, and broadcasts the payout transaction for
// a winning bet and returns its transaction id.
type PayoutEngine interface {
	Pay(ctx context.Context, bet *betdb.BetRecord) (string, error)
}

// Config is the settler configuration.
type Config struct {
	// Store is the relational bet store.
	Store betdb.Store

	// Seeds manages the daily server seed lifecycle.
	Seeds *fair.Manager

	// Payout pays winning bets.
	Payout PayoutEngine

	// Alerter receives operator alerts.  Nil falls back to the log
	// alerter.
	Alerter alert.Alerter

	// Rules is the deposit admission policy.
	Rules Rules

	// Sources are the chain notification channels to consume, one per
	// detector.
	Sources []<-chan interface{}

	// ClientSeed is the public client seed every roll uses.  Empty
	// selects the deposit txid as the per-bet client seed.
	ClientSeed string

	// MaxInflight bounds concurrent settlement pipelines.  Zero
	// selects the default.
	MaxInflight int64

	// MaxPayoutRetries bounds payout attempts per bet across
	// restarts.  Zero selects the default.
	MaxPayoutRetries int64

	// FeedAlertThreshold is the consecutive failure count that raises
	// the feed degraded alert.  Zero selects the default.
	FeedAlertThreshold int

	// HousekeepingTicker paces the daily maintenance work.  Nil
	// selects the default interval; tests install a force ticker.
	HousekeepingTicker ticker.Ticker
}

// Settler drives the bet state machine.
type Settler struct {
	cfg        Config
	sem        *semaphore.Weighted
	ntfnServer *NotificationServer

	feedDegraded int32 // atomic

	started bool
	quitMtx sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSettler creates a settler.  Start launches its goroutines.
func NewSettler(cfg Config) (*Settler, error) {
	if cfg.Store == nil {
		return nil, errors.New("settler requires a store")
	}
	if cfg.Seeds == nil {
		return nil, errors.New("settler requires a seed manager")
	}
	if cfg.Payout == nil {
		return nil, errors.New("settler requires a payout engine")
	}
	if cfg.Rules.Registry == nil {
		return nil, errors.New("settler requires an address registry")
	}

	if cfg.Alerter == nil {
		cfg.Alerter = alert.LogAlerter{}
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = defaultMaxInflight
	}
	if cfg.MaxPayoutRetries <= 0 {
		cfg.MaxPayoutRetries = defaultMaxPayoutRetries
	}
	if cfg.FeedAlertThreshold <= 0 {
		cfg.FeedAlertThreshold = defaultFeedAlertThreshold
	}
	if cfg.HousekeepingTicker == nil {
		cfg.HousekeepingTicker = ticker.New(defaultHousekeepingInterval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Settler{
		cfg:        cfg,
		sem:        semaphore.NewWeighted(cfg.MaxInflight),
		ntfnServer: newNotificationServer(),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start launches the source consumers, the crash recovery scan, and the
// housekeeping loop.
func (s *Settler) Start() {
	s.quitMtx.Lock()
	defer s.quitMtx.Unlock()

	if s.started || s.ctx.Err() != nil {
		return
	}
	s.started = true
	s.cfg.HousekeepingTicker.Resume()

	s.wg.Add(1)
	go s.recoverHandler()

	for _, src := range s.cfg.Sources {
		s.wg.Add(1)
		go s.sourceHandler(src)
	}

	s.wg.Add(1)
	go s.housekeepingHandler()
}

// Stop signals all settler goroutines to shut down.  In-flight store
// operations are canceled, except recording a payout whose broadcast
// already went out; other interrupted bets resume from their persisted
// state on the next start.
func (s *Settler) Stop() {
	s.quitMtx.Lock()
	defer s.quitMtx.Unlock()

	select {
	case <-s.ctx.Done():
	default:
		s.cancel()
	}
}

// WaitForShutdown blocks until all settler goroutines have exited.
func (s *Settler) WaitForShutdown() {
	s.wg.Wait()
}

// NotificationServer returns the settlement event server.
func (s *Settler) NotificationServer() *NotificationServer {
	return s.ntfnServer
}

// sourceHandler consumes one detector's notification channel.  It must
// be run as a goroutine.
func (s *Settler) sourceHandler(src <-chan interface{}) {
	defer s.wg.Done()

	for {
		select {
		case n, ok := <-src:
			if !ok {
				return
			}
			s.dispatchNotification(n)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Settler) dispatchNotification(n interface{}) {
	switch n := n.(type) {
	case chain.TxNotification:
		s.startPipeline(n.Summary, n.Source)

	case chain.FeedDown:
		s.noteFeedDown(n.Failures)

	case chain.FeedConnected:
		s.noteFeedConnected(n.Resubscribed)

	default:
		log.Debugf("Ignoring chain notification %T", n)
	}
}

// startPipeline runs verification and settlement of one detected
// transaction in its own goroutine.  The semaphore bounds concurrency
// and applies backpressure to the source consumers.
func (s *Settler) startPipeline(summary chain.TxSummary, source chain.Source) {
	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		s.process(s.ctx, summary, source)
	}()
}

// process admits and settles one detected transaction.
func (s *Settler) process(ctx context.Context, summary chain.TxSummary,
	source chain.Source) {

	dep, err := s.cfg.Rules.verify(&summary)
	if err != nil {
		log.Debugf("Rejecting tx %s from %s: %v", summary.Txid,
			source, err)
		return
	}

	bet, seed, err := s.admit(ctx, dep, source)
	switch {
	case betdb.IsError(err, betdb.ErrDuplicateBet):
		// Another detector won the admission race.
		log.Debugf("Tx %s already admitted, dropping %s duplicate",
			dep.txid, source)
		return
	case err != nil:
		if ctx.Err() == nil {
			log.Errorf("Failed to admit tx %s: %v", dep.txid, err)
		}
		return
	}

	log.Infof("Bet %d admitted: %v to %s from tx %s (%s)", bet.ID,
		bet.Amount, bet.Address, bet.Txid, source)
	s.ntfnServer.notify(BetDetected{
		BetID:   bet.ID,
		Txid:    bet.Txid,
		Address: bet.Address,
		Amount:  bet.Amount,
		Source:  bet.Source,
	})

	s.settleBet(ctx, bet, seed)
}

// admit captures the active seed and inserts the bet row.  The store
// assigns the nonce atomically with the insert.
func (s *Settler) admit(ctx context.Context, dep *deposit,
	source chain.Source) (*betdb.BetRecord, *betdb.SeedRecord, error) {

	seed, err := s.cfg.Seeds.Active(ctx)
	if err != nil {
		return nil, nil, err
	}

	chance, err := fair.WinChanceBps(dep.entry.MultCenti)
	if err != nil {
		return nil, nil, err
	}

	clientSeed := s.cfg.ClientSeed
	if clientSeed == "" {
		clientSeed = dep.txid
	}

	bet, err := s.cfg.Store.AdmitBet(ctx, betdb.AdmitBetParams{
		Txid:       dep.txid,
		WalletID:   dep.entry.WalletID,
		Address:    dep.entry.Address.EncodeAddress(),
		Sender:     dep.sender,
		Amount:     dep.amount,
		MultCenti:  dep.entry.MultCenti,
		ChanceBps:  chance,
		SeedID:     seed.ID,
		ClientSeed: clientSeed,
		Source:     string(source),
	})
	if err != nil {
		return nil, nil, err
	}
	return bet, seed, nil
}

// settleBet drives a bet from its current state as far toward a
// terminal state as possible.  seed may be nil, in which case the
// bet's admission seed is loaded from the store when a roll is needed.
func (s *Settler) settleBet(ctx context.Context, bet *betdb.BetRecord,
	seed *betdb.SeedRecord) {

	if bet.State == betdb.StateDetected {
		if !s.roll(ctx, bet, seed) {
			return
		}
	}
	if bet.State == betdb.StateRolled {
		if !s.finalizeRoll(ctx, bet) {
			return
		}
	}
	if bet.State == betdb.StateWinPendingPayout {
		s.payWin(ctx, bet, false)
	}
}

// roll computes and persists the roll outcome.  It reports whether the
// bet advanced to StateRolled.
func (s *Settler) roll(ctx context.Context, bet *betdb.BetRecord,
	seed *betdb.SeedRecord) bool {

	if seed == nil || seed.ID != bet.SeedID {
		var err error
		seed, err = s.cfg.Store.GetSeed(ctx, betdb.GetSeedQuery{
			ID: &bet.SeedID,
		})
		if err != nil {
			if ctx.Err() == nil {
				log.Errorf("Cannot load seed %d for bet %d: %v",
					bet.SeedID, bet.ID, err)
			}
			return false
		}
	}

	out, err := fair.Resolve(seed.Seed, bet.ClientSeed, bet.Nonce,
		bet.MultCenti, bet.Amount)
	if err != nil {
		log.Errorf("Cannot resolve roll for bet %d: %v", bet.ID, err)
		return false
	}

	err = s.cfg.Store.MarkRolled(ctx, betdb.MarkRolledParams{
		BetID:        bet.ID,
		RollBps:      out.RollBps,
		Win:          out.Win,
		PayoutAmount: out.Payout,
	})
	switch {
	case betdb.IsError(err, betdb.ErrStaleState):
		log.Debugf("Bet %d was rolled elsewhere", bet.ID)
		return false
	case err != nil:
		if ctx.Err() == nil {
			log.Errorf("Failed to persist roll for bet %d: %v",
				bet.ID, err)
		}
		return false
	}

	bet.State = betdb.StateRolled
	bet.RollBps = out.RollBps
	bet.Win = out.Win
	bet.PayoutAmount = out.Payout

	outcome := "loss"
	if out.Win {
		outcome = "win"
	}
	log.Infof("Bet %d rolled %s against %s: %s", bet.ID,
		fair.FormatBps(out.RollBps), fair.FormatBps(out.ChanceBps),
		outcome)
	s.ntfnServer.notify(BetRolled{
		BetID:     bet.ID,
		Txid:      bet.Txid,
		RollBps:   out.RollBps,
		ChanceBps: out.ChanceBps,
		Win:       out.Win,
	})
	return true
}

// finalizeRoll moves a rolled bet to its post-roll state.  It reports
// whether the bet is a win waiting on payout.
func (s *Settler) finalizeRoll(ctx context.Context, bet *betdb.BetRecord) bool {
	if !bet.Win {
		if !s.transition(ctx, bet, betdb.StateLossFinalized) {
			return false
		}
		log.Infof("Bet %d lost, %v stays with the house", bet.ID,
			bet.Amount)
		s.ntfnServer.notify(BetSettled{
			BetID: bet.ID,
			Txid:  bet.Txid,
			State: betdb.StateLossFinalized,
		})
		return false
	}

	return s.transition(ctx, bet, betdb.StateWinPendingPayout)
}

// payWin hands a winning bet to the payout engine and records the
// result.  force skips the retry budget, which is how an operator
// requeue gets a fresh attempt.
func (s *Settler) payWin(ctx context.Context, bet *betdb.BetRecord, force bool) {
	if bet.Sender == "" {
		s.failPayout(ctx, bet, alert.TypePayoutFailed,
			"deposit has no extractable sender address")
		return
	}

	if !force {
		attempts, err := s.cfg.Store.BumpPayoutRetries(ctx, bet.ID)
		if err != nil {
			if ctx.Err() == nil {
				log.Errorf("Cannot charge payout attempt for "+
					"bet %d: %v", bet.ID, err)
			}
			return
		}
		if attempts > s.cfg.MaxPayoutRetries {
			s.failPayout(ctx, bet, alert.TypePayoutFailed,
				fmt.Sprintf("payout attempt budget exhausted "+
					"after %d tries", attempts-1))
			return
		}
	}

	payoutTxid, err := s.cfg.Payout.Pay(ctx, bet)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-payout: the bet stays in
			// win_pending_payout and re-enters the queue on the
			// next start.
			return
		}
		typ := alert.TypePayoutFailed
		if errors.Is(err, payout.ErrInsufficientFunds) {
			typ = alert.TypeInsufficientFunds
		}
		s.failPayout(ctx, bet, typ, err.Error())
		return
	}

	// The broadcast is out, so recording its outcome must survive a
	// concurrent shutdown of the pipeline context.
	err = s.cfg.Store.RecordPayout(context.WithoutCancel(ctx),
		betdb.RecordPayoutParams{
			BetID:      bet.ID,
			PayoutTxid: payoutTxid,
		})
	if err != nil {
		// The broadcast went out; losing the record here is
		// recoverable because the rebroadcast on the next start is
		// treated as already known.
		log.Errorf("Bet %d paid by %s but recording failed: %v",
			bet.ID, payoutTxid, err)
		return
	}

	bet.State = betdb.StatePaid
	bet.PayoutTxid = payoutTxid
	log.Infof("Bet %d paid %v to %s in %s", bet.ID, bet.PayoutAmount,
		bet.Sender, payoutTxid)
	s.ntfnServer.notify(BetSettled{
		BetID:      bet.ID,
		Txid:       bet.Txid,
		State:      betdb.StatePaid,
		Payout:     bet.PayoutAmount,
		PayoutTxid: payoutTxid,
	})
}

// failPayout parks a winning bet in payout_failed and tells the
// operator.
func (s *Settler) failPayout(ctx context.Context, bet *betdb.BetRecord,
	typ alert.Type, reason string) {

	if !s.transition(ctx, bet, betdb.StatePayoutFailed) {
		return
	}

	log.Errorf("Bet %d payout failed: %s", bet.ID, reason)
	s.ntfnServer.notify(PayoutFailed{
		BetID:  bet.ID,
		Txid:   bet.Txid,
		Reason: reason,
	})
	s.sendAlert(ctx, alert.Alert{
		Type:    typ,
		Key:     fmt.Sprintf("%d", bet.ID),
		Title:   fmt.Sprintf("Payout for bet %d failed", bet.ID),
		Message: reason,
		Fields: map[string]string{
			"bet":    fmt.Sprintf("%d", bet.ID),
			"txid":   bet.Txid,
			"amount": bet.PayoutAmount.String(),
			"sender": bet.Sender,
		},
	})
}

// transition performs a guarded state change and mirrors it on the in-
// memory record.  A stale transition means another path settled the bet
// first and is dropped quietly.
func (s *Settler) transition(ctx context.Context, bet *betdb.BetRecord,
	to betdb.BetState) bool {

	err := s.cfg.Store.SetBetState(ctx, betdb.SetBetStateParams{
		BetID: bet.ID,
		From:  bet.State,
		To:    to,
	})
	switch {
	case betdb.IsError(err, betdb.ErrStaleState):
		log.Debugf("Bet %d left %s elsewhere", bet.ID, bet.State)
		return false
	case err != nil:
		if ctx.Err() == nil {
			log.Errorf("Failed to move bet %d from %s to %s: %v",
				bet.ID, bet.State, to, err)
		}
		return false
	}
	bet.State = to
	return true
}

// Requeue returns a payout_failed bet to the payout queue.  Operators
// call this after resolving the underlying condition, such as topping
// up the house wallets.
func (s *Settler) Requeue(ctx context.Context, betID uint32) error {
	bet, err := s.cfg.Store.GetBet(ctx, betdb.GetBetQuery{ID: &betID})
	if err != nil {
		return err
	}
	if bet.State != betdb.StatePayoutFailed {
		return fmt.Errorf("bet %d is %s, only %s bets can be requeued",
			betID, bet.State, betdb.StatePayoutFailed)
	}

	if !s.transition(ctx, bet, betdb.StateWinPendingPayout) {
		return fmt.Errorf("bet %d left %s before the requeue",
			betID, betdb.StatePayoutFailed)
	}
	log.Infof("Bet %d requeued for payout", betID)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		s.payWin(s.ctx, bet, true)
	}()
	return nil
}

// recoverHandler resumes every bet parked in a non-terminal state by a
// previous run.  It must be run as a goroutine.
func (s *Settler) recoverHandler() {
	defer s.wg.Done()

	err := s.resumeUnsettled(s.ctx, time.Time{})
	if err != nil && s.ctx.Err() == nil {
		log.Errorf("Crash recovery scan failed: %v", err)
	}
}

// resumeUnsettled re-runs settlement for bets in a non-terminal state.
// A zero cutoff resumes every such bet; the housekeeping sweep passes a
// cutoff so bets still moving through a live pipeline are left alone.
func (s *Settler) resumeUnsettled(ctx context.Context, olderThan time.Time) error {
	var resumed int
	for _, st := range []betdb.BetState{
		betdb.StateDetected,
		betdb.StateRolled,
		betdb.StateWinPendingPayout,
	} {
		state := st
		bets, err := s.cfg.Store.ListBets(ctx, betdb.ListBetsQuery{
			State: &state,
		})
		if err != nil {
			return err
		}

		for i := range bets {
			bet := bets[i]
			if !olderThan.IsZero() && bet.UpdatedAt.After(olderThan) {
				continue
			}
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return err
			}
			resumed++
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.sem.Release(1)
				s.settleBet(s.ctx, &bet, nil)
			}()
		}
	}

	if resumed > 0 {
		log.Infof("Resumed %d unsettled bets", resumed)
	}
	return nil
}

// housekeepingHandler runs the periodic maintenance work.  It must be
// run as a goroutine.
func (s *Settler) housekeepingHandler() {
	defer s.wg.Done()

	t := s.cfg.HousekeepingTicker
	defer t.Stop()

	for {
		select {
		case <-t.Ticks():
			s.housekeeping()

		case <-s.ctx.Done():
			return
		}
	}
}

// housekeeping rotates the server seed if the UTC day changed, reveals
// seeds past their retention window, and sweeps stale bets.
func (s *Settler) housekeeping() {
	ctx := s.ctx

	if _, err := s.cfg.Seeds.Active(ctx); err != nil {
		if ctx.Err() == nil {
			log.Warnf("Seed rotation check failed: %v", err)
		}
	}

	revealed, err := s.cfg.Seeds.RevealExpired(ctx)
	switch {
	case err != nil:
		if ctx.Err() == nil {
			log.Warnf("Seed reveal failed: %v", err)
		}
	case revealed > 0:
		log.Infof("Revealed %d expired server seeds", revealed)
	}

	err = s.resumeUnsettled(ctx, time.Now().Add(-staleBetAge))
	if err != nil && ctx.Err() == nil {
		log.Warnf("Stale bet sweep failed: %v", err)
	}
}

// noteFeedDown tracks feed failures and raises the degraded alert once
// the threshold is crossed.  The poller keeps detecting deposits while
// the feed is down.
func (s *Settler) noteFeedDown(failures int) {
	s.ntfnServer.notify(FeedStatus{Connected: false, Failures: failures})

	if failures < s.cfg.FeedAlertThreshold {
		return
	}
	if !atomic.CompareAndSwapInt32(&s.feedDegraded, 0, 1) {
		return
	}

	log.Warnf("Realtime feed degraded after %d consecutive failures, "+
		"relying on the poller", failures)
	s.sendAlert(s.ctx, alert.Alert{
		Type:  alert.TypeFeedDegraded,
		Key:   "feed",
		Title: "Realtime feed degraded",
		Message: fmt.Sprintf("%d consecutive connection failures; "+
			"deposit detection continues via the poller", failures),
	})
}

// noteFeedConnected clears the degraded state on a successful connect.
func (s *Settler) noteFeedConnected(resubscribed int) {
	s.ntfnServer.notify(FeedStatus{
		Connected:    true,
		Resubscribed: resubscribed,
	})

	if !atomic.CompareAndSwapInt32(&s.feedDegraded, 1, 0) {
		return
	}

	log.Infof("Realtime feed recovered, %d subscriptions restored",
		resubscribed)
	s.sendAlert(s.ctx, alert.Alert{
		Type:  alert.TypeFeedRecovered,
		Key:   "feed",
		Title: "Realtime feed recovered",
		Message: fmt.Sprintf("reconnected and restored %d address "+
			"subscriptions", resubscribed),
	})
}

func (s *Settler) sendAlert(ctx context.Context, a alert.Alert) {
	if err := s.cfg.Alerter.Send(ctx, a); err != nil {
		log.Warnf("Alert delivery failed: %v", err)
	}
}
