// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"time"

	"github.com/btcsuite/btcwallet/wallet/txrules"

	"github.com/dicepay/dicepayd/alert"
	"github.com/dicepay/dicepayd/betdb"
	"github.com/dicepay/dicepayd/chain"
	"github.com/dicepay/dicepayd/fair"
	"github.com/dicepay/dicepayd/payout"
	"github.com/dicepay/dicepayd/registry"
	"github.com/dicepay/dicepayd/settle"
	"github.com/dicepay/dicepayd/vault"
)

// oneShotTimeout bounds how long a one-shot command waits for its
// settlement events before falling back to the stored bet state.
const oneShotTimeout = 2 * time.Minute

var cfg *config

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Work around defer not working after os.Exit.
	if err := dicepayMain(); err != nil {
		os.Exit(1)
	}
}

// dicepayMain is a work-around main function that is required since
// deferred functions (such as log flushing) are not called with calls to
// os.Exit.  Instead, main runs this function and checks for a non-nil
// error, at which point any defers have already run, and if the error is
// non-nil, the program can be exited with an error exit status.
func dicepayMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Show version at startup.
	log.Infof("Version %s", version())

	if cfg.Profile != "" {
		go func() {
			listenAddr := net.JoinHostPort("", cfg.Profile)
			log.Infof("Profile server listening on %s", listenAddr)
			profileRedirect := http.RedirectHandler("/debug/pprof",
				http.StatusSeeOther)
			http.Handle("/", profileRedirect)
			log.Errorf("%v", http.ListenAndServe(listenAddr, nil))
		}()
	}

	ctx := context.Background()

	// Open the bet store.  The schema is applied on open, so a fresh
	// database needs no separate migration step.
	store, err := betdb.Open(ctx, betdb.Config{
		Type: cfg.DBType,
		DSN:  cfg.DSN,
	})
	if err != nil {
		log.Errorf("Unable to open the bet store: %v", err)
		return err
	}
	defer store.Close()

	// Seed commitments are served straight from the store, without
	// unlocking any signing keys.
	if cfg.ShowSeed != "" {
		return showSeed(ctx, store, cfg.ShowSeed)
	}

	// Everything past this point signs transactions or encrypts keys,
	// so the vault must be unlocked.
	v, err := openVault(cfg)
	if err != nil {
		log.Errorf("Unable to open the key vault: %v", err)
		return err
	}
	defer v.Lock()

	if cfg.ImportWallet != "" {
		return importWallet(ctx, store, v, cfg.ImportWallet)
	}

	// Load the registered deposit addresses.  The watched set drives
	// both detectors and the admission policy.
	reg := registry.New(activeNet.Params)
	if err := reg.Load(ctx, store); err != nil {
		log.Errorf("Unable to load the address registry: %v", err)
		return err
	}
	addrs := reg.Watched()
	if len(addrs) == 0 {
		log.Warnf("No active deposit wallets are registered.  Use " +
			"--importwallet to register one.")
	} else {
		log.Infof("Watching %d deposit %s", len(addrs),
			pickNoun(len(addrs), "address", "addresses"))
	}

	seeds := fair.NewManager(store, cfg.SeedRetentionDays)

	// Derive today's seed up front and log the commitment so operators
	// can publish it before the first bet of the day is admitted.
	day, seedHash, err := seeds.Commitment(ctx)
	if err != nil {
		log.Errorf("Unable to derive the server seed commitment: %v", err)
		return err
	}
	log.Infof("Server seed commitment for %s: %s", day, seedHash)

	client := chain.NewClient(cfg.APIURL)

	poller, err := chain.NewPoller(&chain.PollerConfig{
		Client:   client,
		Watched:  reg.Watched,
		Interval: cfg.PollInterval,
	})
	if err != nil {
		log.Errorf("Unable to create the address poller: %v", err)
		return err
	}
	sources := []<-chan interface{}{poller.Notifications()}

	var feed *chain.Feed
	if !cfg.NoFeed {
		feed, err = chain.NewFeed(&chain.FeedConfig{
			URL:     cfg.FeedURL,
			Watched: reg.Watched,
		})
		if err != nil {
			log.Errorf("Unable to create the realtime feed: %v", err)
			return err
		}
		sources = append(sources, feed.Notifications())
	}

	alerters := []alert.Alerter{alert.LogAlerter{}}
	if cfg.AlertURL != "" {
		alerters = append(alerters, alert.NewWebhookAlerter(cfg.AlertURL))
	}
	alerter := alert.NewMultiAlerter(cfg.AlertCooldown, alerters...)

	engine, err := payout.NewEngine(payout.Config{
		Client:       client,
		Vault:        v,
		Wallets:      store,
		ChainParams:  activeNet.Params,
		FeeRatePerKb: cfg.FeeRate.Amount,
	})
	if err != nil {
		log.Errorf("Unable to create the payout engine: %v", err)
		return err
	}

	// The admission dust floor stays anchored to the default relay fee
	// rather than the payout fee rate, so raising --feerate never
	// rejects deposits that were admissible before.
	settler, err := settle.NewSettler(settle.Config{
		Store:   store,
		Seeds:   seeds,
		Payout:  engine,
		Alerter: alerter,
		Rules: settle.Rules{
			Registry:      reg,
			RelayFeePerKb: txrules.DefaultRelayFeePerKb,
			MaxBet:        cfg.MaxBet.Amount,
			MinConf:       cfg.MinConf,
			ZeroConfCap:   cfg.ZeroConfCap.Amount,
		},
		Sources:          sources,
		ClientSeed:       cfg.ClientSeed,
		MaxPayoutRetries: cfg.MaxPayoutRetries,
	})
	if err != nil {
		log.Errorf("Unable to create the settler: %v", err)
		return err
	}

	// The settler consumes the detector channels, so it starts before
	// them and stops after them.
	engine.Start()
	settler.Start()
	poller.Start()
	if feed != nil {
		feed.Start()
	}

	addInterruptHandler(func() {
		if feed != nil {
			feed.Stop()
		}
		poller.Stop()
		settler.Stop()
		engine.Stop()
	})

	// One-shot settlement commands run against the fully started
	// daemon so the injected work flows through the same pipeline as
	// any other deposit, then trigger shutdown.
	if cfg.CheckTxid != "" || cfg.Requeue != 0 {
		go runOneShot(ctx, store, settler, poller)
	}

	<-interruptHandlersDone
	if feed != nil {
		feed.WaitForShutdown()
	}
	poller.WaitForShutdown()
	settler.WaitForShutdown()
	engine.WaitForShutdown()
	log.Info("Shutdown complete")
	return nil
}

// showSeed prints the provable-fairness record of one UTC day.  The
// plaintext seed is included only once the retention window has passed
// and the seed is marked revealed.
func showSeed(ctx context.Context, store betdb.Store, day string) error {
	// Today's commitment is minted on demand so it can be published
	// before the daemon admits the first bet of the day.
	if day == time.Now().UTC().Format("2006-01-02") {
		seeds := fair.NewManager(store, cfg.SeedRetentionDays)
		if _, _, err := seeds.Commitment(ctx); err != nil {
			log.Errorf("Unable to derive the server seed "+
				"commitment: %v", err)
			return err
		}
	}

	rec, err := store.GetSeed(ctx, betdb.GetSeedQuery{Day: &day})
	if betdb.IsError(err, betdb.ErrNotFound) {
		log.Errorf("No server seed was committed for %s", day)
		return err
	}
	if err != nil {
		log.Errorf("Unable to query the server seed: %v", err)
		return err
	}

	fmt.Printf("Day:        %s\n", rec.Day)
	fmt.Printf("Commitment: %s\n", rec.SeedHash)
	fmt.Printf("Next nonce: %d\n", rec.NextNonce)
	if rec.Revealed {
		fmt.Printf("Seed:       %s\n", rec.Seed)
	} else {
		fmt.Println("The seed is withheld until its retention window passes.")
	}
	return nil
}

// importWallet registers one payout wallet from a WIF:MULTIPLIER
// argument.  The private key is stored encrypted under the vault key
// and the address joins the watched set on the next daemon start.
func importWallet(ctx context.Context, store betdb.Store, v *vault.Vault,
	arg string) error {

	wifStr, multCenti, err := parseImportWallet(arg)
	if err != nil {
		log.Errorf("Unable to parse the wallet import: %v", err)
		return err
	}
	chanceBps, err := fair.WinChanceBps(multCenti)
	if err != nil {
		log.Errorf("Unable to register the wallet: %v", err)
		return err
	}

	wif, addr, err := v.ImportWIF(wifStr)
	if err != nil {
		log.Errorf("Unable to import the private key: %v", err)
		return err
	}
	encKey, err := v.EncryptPrivKey(wif.PrivKey)
	if err != nil {
		log.Errorf("Unable to encrypt the private key: %v", err)
		return err
	}

	rec, err := store.CreateWallet(ctx, betdb.CreateWalletParams{
		Address:    addr.EncodeAddress(),
		MultCenti:  multCenti,
		EncPrivKey: encKey,
		Active:     true,
	})
	if err != nil {
		log.Errorf("Unable to register the wallet: %v", err)
		return err
	}

	fmt.Printf("Registered wallet %d\n", rec.ID)
	fmt.Printf("Address:    %s\n", rec.Address)
	fmt.Printf("Multiplier: %s\n", fair.FormatMultiplier(rec.MultCenti))
	fmt.Printf("Win chance: %s%%\n", fair.FormatBps(chanceBps))
	return nil
}

// runOneShot performs the requested one-shot settlement command against
// the running daemon, reports the outcome, and triggers shutdown.  It
// must be run as a goroutine after every component has started.
func runOneShot(ctx context.Context, store betdb.Store,
	settler *settle.Settler, poller *chain.Poller) {

	defer simulateInterrupt()

	// Subscribe before injecting anything so no event is missed.
	client := settler.NotificationServer().Subscribe()
	defer client.Done()

	var (
		txid  string
		betID uint32
	)
	switch {
	case cfg.CheckTxid != "":
		// A transaction admitted by a previous run is answered from
		// the store without re-running the pipeline.
		bet, err := store.GetBet(ctx, betdb.GetBetQuery{
			Txid: &cfg.CheckTxid,
		})
		switch {
		case err == nil:
			printBet(bet)
			return
		case !betdb.IsError(err, betdb.ErrNotFound):
			fmt.Fprintf(os.Stderr, "checktxid: %v\n", err)
			return
		}

		summary, err := poller.CheckTxid(ctx, cfg.CheckTxid)
		if err != nil {
			fmt.Fprintf(os.Stderr, "checktxid: %v\n", err)
			return
		}
		txid = summary.Txid

	case cfg.Requeue != 0:
		if err := settler.Requeue(ctx, cfg.Requeue); err != nil {
			fmt.Fprintf(os.Stderr, "requeue: %v\n", err)
			return
		}
		betID = cfg.Requeue
	}

	// The outcome arrives as settlement events.  The periodic sweep
	// can admit the transaction concurrently, which makes the manual
	// injection a dropped duplicate and suppresses the events for it,
	// so the stored state is the fallback of record.
	timeout := time.NewTimer(oneShotTimeout)
	defer timeout.Stop()

	for {
		select {
		case n, ok := <-client.C():
			if !ok {
				return
			}
			if done := printOneShotEvent(n, txid, betID); done {
				return
			}

		case <-timeout.C:
			printBetFromStore(ctx, store, txid, betID)
			return
		}
	}
}

// printOneShotEvent prints the settlement events of the injected bet,
// identified by deposit txid or bet id.  It reports true once a
// terminal event has been printed.
func printOneShotEvent(n interface{}, txid string, betID uint32) bool {
	match := func(eventTxid string, eventID uint32) bool {
		if txid != "" {
			return eventTxid == txid
		}
		return eventID == betID
	}

	switch n := n.(type) {
	case settle.BetDetected:
		if match(n.Txid, n.BetID) {
			fmt.Printf("Bet %d detected: %s to %s\n", n.BetID,
				n.Amount, n.Address)
		}

	case settle.BetRolled:
		if match(n.Txid, n.BetID) {
			fmt.Printf("Bet %d rolled %s against a win chance of %s%%\n",
				n.BetID, fair.FormatBps(n.RollBps),
				fair.FormatBps(n.ChanceBps))
		}

	case settle.BetSettled:
		if match(n.Txid, n.BetID) {
			if n.State == betdb.StatePaid {
				fmt.Printf("Bet %d paid %s in transaction %s\n",
					n.BetID, n.Payout, n.PayoutTxid)
			} else {
				fmt.Printf("Bet %d settled: %s\n", n.BetID, n.State)
			}
			return true
		}

	case settle.PayoutFailed:
		if match(n.Txid, n.BetID) {
			fmt.Printf("Bet %d payout failed: %s\n", n.BetID, n.Reason)
			return true
		}
	}
	return false
}

// printBet reports the stored settlement outcome of one bet.
func printBet(bet *betdb.BetRecord) {
	fmt.Printf("Bet %d (%s) is %s\n", bet.ID, bet.Txid, bet.State)
	if bet.RollBps >= 0 {
		fmt.Printf("Rolled %s against a win chance of %s%%\n",
			fair.FormatBps(bet.RollBps), fair.FormatBps(bet.ChanceBps))
	}
	if bet.PayoutTxid != "" {
		fmt.Printf("Payout %s in transaction %s\n",
			bet.PayoutAmount, bet.PayoutTxid)
	}
}

// printBetFromStore reports the bet state straight from the store after
// the event wait timed out.
func printBetFromStore(ctx context.Context, store betdb.Store, txid string,
	betID uint32) {

	q := betdb.GetBetQuery{}
	if txid != "" {
		q.Txid = &txid
	} else {
		q.ID = &betID
	}
	bet, err := store.GetBet(ctx, q)
	if err != nil {
		fmt.Fprintf(os.Stderr, "settlement did not finish in time: %v\n",
			err)
		return
	}
	printBet(bet)
}
