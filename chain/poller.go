// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// defaultPollInterval is the time between address sweeps when the
	// config does not set one.
	defaultPollInterval = 2 * time.Minute

	// defaultTxsPerAddr caps how many recent transactions are fetched
	// per address each sweep.
	defaultTxsPerAddr = 25

	// pollJitter randomizes each poll interval by this factor to avoid
	// hitting the service on a fixed schedule.
	pollJitter = 0.2
)

// PollerConfig describes a Poller.
type PollerConfig struct {
	// Client queries the payment network REST API.
	Client *Client

	// Watched returns the current set of addresses to scan.
	Watched func() []string

	// Interval is the time between sweeps.  Zero means
	// defaultPollInterval.
	Interval time.Duration

	// TxsPerAddr is the recent transaction page size per address.
	// Zero means defaultTxsPerAddr.
	TxsPerAddr int
}

// Poller periodically sweeps the recent transactions of every watched
// address through the REST API and reports the ones not seen before.
// It is the detection path of record: everything the realtime feed
// delivers is found here too, at most one interval later, and the
// store's duplicate admission collapses the overlap.
type Poller struct {
	client     *Client
	watched    func() []string
	interval   time.Duration
	txsPerAddr int

	seen *seenSet

	enqueueNotification chan interface{}
	dequeueNotification chan interface{}

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	quitMtx sync.Mutex
	wg      sync.WaitGroup
}

// NewPoller creates a poller over the given client.  Sweeping does not
// begin until Start.
func NewPoller(cfg *PollerConfig) (*Poller, error) {
	if cfg.Client == nil {
		return nil, errors.New("poller requires a REST client")
	}

	watched := cfg.Watched
	if watched == nil {
		watched = func() []string { return nil }
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	txsPerAddr := cfg.TxsPerAddr
	if txsPerAddr <= 0 {
		txsPerAddr = defaultTxsPerAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		client:              cfg.Client,
		watched:             watched,
		interval:            interval,
		txsPerAddr:          txsPerAddr,
		seen:                newSeenSet(),
		enqueueNotification: make(chan interface{}),
		dequeueNotification: make(chan interface{}),
		ctx:                 ctx,
		cancel:              cancel,
	}, nil
}

// Start begins the sweep loop and notification delivery.
func (p *Poller) Start() {
	p.quitMtx.Lock()
	defer p.quitMtx.Unlock()

	if p.started || p.ctx.Err() != nil {
		return
	}
	p.started = true
	p.wg.Add(2)
	go p.pollHandler()
	go p.notificationHandler()
}

// Stop ends the sweep loop.  The notification channel is closed during
// shutdown.
func (p *Poller) Stop() {
	p.quitMtx.Lock()
	defer p.quitMtx.Unlock()

	select {
	case <-p.ctx.Done():
	default:
		p.cancel()
		if !p.started {
			close(p.dequeueNotification)
		}
	}
}

// WaitForShutdown blocks until the poller's goroutines have exited.
func (p *Poller) WaitForShutdown() {
	p.wg.Wait()
}

// Notifications returns the channel of poller notifications.  It must
// be continually read until it is closed.
func (p *Poller) Notifications() <-chan interface{} {
	return p.dequeueNotification
}

// CheckTxid fetches the given transaction and, if some output pays a
// watched address, queues it for settlement with SourceManual
// provenance.  The poller must be started.
func (p *Poller) CheckTxid(ctx context.Context, txid string) (*TxSummary, error) {
	if p.ctx.Err() != nil {
		return nil, errors.New("poller is shut down")
	}

	summary, err := p.client.RawTx(ctx, txid)
	if err != nil {
		return nil, err
	}

	if !paysWatched(summary, p.watched()) {
		return nil, fmt.Errorf("transaction %s pays no watched address",
			txid)
	}

	p.seen.add(txid)
	p.enqueue(TxNotification{
		Summary: *summary,
		Source:  SourceManual,
	})
	return summary, nil
}

// pollHandler runs the periodic sweep until the poller is stopped.
func (p *Poller) pollHandler() {
	defer p.wg.Done()
	defer close(p.enqueueNotification)

	ticker := NewJitterTicker(p.interval, pollJitter)
	defer ticker.Stop()

	log.Infof("Started polling watched addresses every %v", p.interval)

	for {
		select {
		case <-ticker.C:
			p.scan()

		case <-p.ctx.Done():
			return
		}
	}
}

// scan pages the recent transactions of every watched address and
// queues the ones not seen before.
func (p *Poller) scan() {
	addrs := p.watched()
	if len(addrs) == 0 {
		return
	}

	// Un-mark the whole set first; every txid the index still returns
	// is re-marked below.
	p.seen.unmarkAll()

	failed := false
	queued := 0
	for _, addr := range addrs {
		if p.ctx.Err() != nil {
			return
		}

		txs, err := p.client.RawAddr(p.ctx, addr, p.txsPerAddr)
		if err != nil {
			log.Errorf("Unable to poll address %v: %v", addr, err)
			failed = true
			continue
		}

		for i := range txs {
			tx := &txs[i]
			if p.seen.contains(tx.Txid) {
				// Mark the txid so that we know not to remove
				// it from the set.
				p.seen.mark(tx.Txid)
				continue
			}

			p.seen.add(tx.Txid)
			p.enqueue(TxNotification{
				Summary: *tx,
				Source:  SourcePoller,
			})
			queued++
		}
	}

	// Drop the txids the index no longer returns.  A sweep with failed
	// scans keeps them; their marks are incomplete.
	if !failed {
		p.seen.deleteUnmarked()
	}

	if queued > 0 {
		log.Debugf("Poller queued %d new transactions", queued)
	}
}

// paysWatched returns true when the transaction pays at least one of
// the watched addresses.
func paysWatched(s *TxSummary, watched []string) bool {
	for _, addr := range watched {
		if s.OutputTo(addr) > 0 {
			return true
		}
	}
	return false
}

// enqueue hands a notification to the delivery queue without blocking
// past shutdown.
func (p *Poller) enqueue(n interface{}) {
	select {
	case p.enqueueNotification <- n:
	case <-p.ctx.Done():
	}
}

// notificationHandler maintains a queue of notifications from the
// sweep loop and delivers them in order on the dequeue channel, so a
// slow consumer never stalls a sweep.
func (p *Poller) notificationHandler() {
	var notifications []interface{}
	enqueue := p.enqueueNotification
	var dequeue chan interface{}
	var next interface{}

out:
	for {
		select {
		case n, ok := <-enqueue:
			if !ok {
				// If no notifications are queued for handling,
				// the queue is finished.
				if len(notifications) == 0 {
					break out
				}
				// nil channel so no more reads can occur.
				enqueue = nil
				continue
			}
			if len(notifications) == 0 {
				next = n
				dequeue = p.dequeueNotification
			}
			notifications = append(notifications, n)

		case dequeue <- next:
			notifications[0] = nil
			notifications = notifications[1:]
			if len(notifications) != 0 {
				next = notifications[0]
			} else {
				// If no more notifications can be enqueued, the
				// queue is finished.
				if enqueue == nil {
					break out
				}
				dequeue = nil
			}

		case <-p.ctx.Done():
			break out
		}
	}

	close(p.dequeueNotification)
	p.wg.Done()
}
