// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/websocket"
	"github.com/davecgh/go-spew/spew"

	"github.com/dicepay/dicepayd/retry"
)

const (
	// feedDialTimeout bounds the websocket dial and handshake through
	// the underlying net dialer.
	feedDialTimeout = 20 * time.Second

	// feedReadTimeout is the read deadline applied before every read.
	// The heartbeat keeps inbound traffic well inside this window on a
	// healthy connection.
	feedReadTimeout = 75 * time.Second

	// feedWriteTimeout bounds each outbound write.
	feedWriteTimeout = 10 * time.Second

	// feedPingInterval is how often the ping op is sent.  The service
	// answers with a pong op.
	feedPingInterval = 15 * time.Second

	// sendQueueLen bounds queued outbound subscription ops.  Dropped
	// ops are recovered on the next reconnect, which replays the full
	// watched set.
	sendQueueLen = 32
)

// feedReconnect is the backoff applied between connection attempts.
// Attempts continue until the feed is stopped.
var feedReconnect = retry.Policy{
	Base:   2 * time.Second,
	Max:    time.Minute,
	Jitter: 0.2,
}

// FeedConfig describes the websocket feed connection.
type FeedConfig struct {
	// URL is the websocket endpoint, ws or wss.
	URL string

	// Watched returns the current set of addresses to subscribe to.
	// It is consulted on every (re)connect.
	Watched func() []string
}

// Feed maintains a websocket subscription to the payment network's
// unconfirmed transaction stream.  Observed transactions are delivered
// as TxNotification values on the channel returned by Notifications.
// The connection is re-established with backoff for as long as the
// feed is running; a feed that cannot connect leaves detection to the
// poller but never stops the daemon.
type Feed struct {
	url       string
	watched   func() []string
	reconnect retry.Policy

	// failures counts consecutive failed connection attempts and
	// resets on every successful connect.
	failures int32

	enqueueNotification chan interface{}
	dequeueNotification chan interface{}
	sendQueue           chan feedOp

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	quitMtx sync.Mutex
	wg      sync.WaitGroup
}

// NewFeed creates a feed for the given endpoint.  The connection is
// not attempted until Start.
func NewFeed(cfg *FeedConfig) (*Feed, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("malformed feed URL %q: %v", cfg.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("feed URL %q: scheme must be ws or wss",
			cfg.URL)
	}

	watched := cfg.Watched
	if watched == nil {
		watched = func() []string { return nil }
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Feed{
		url:                 cfg.URL,
		watched:             watched,
		reconnect:           feedReconnect,
		enqueueNotification: make(chan interface{}),
		dequeueNotification: make(chan interface{}),
		sendQueue:           make(chan feedOp, sendQueueLen),
		ctx:                 ctx,
		cancel:              cancel,
	}, nil
}

// Start begins the connect loop and notification delivery.
func (f *Feed) Start() {
	f.quitMtx.Lock()
	defer f.quitMtx.Unlock()

	if f.started || f.ctx.Err() != nil {
		return
	}
	f.started = true
	f.wg.Add(2)
	go f.connectHandler()
	go f.feedHandler()
}

// Stop disconnects the feed and stops reconnecting.  The notification
// channel is closed during shutdown.
func (f *Feed) Stop() {
	f.quitMtx.Lock()
	defer f.quitMtx.Unlock()

	select {
	case <-f.ctx.Done():
	default:
		f.cancel()
		if !f.started {
			close(f.dequeueNotification)
		}
	}
}

// WaitForShutdown blocks until the feed's goroutines have exited.
func (f *Feed) WaitForShutdown() {
	f.wg.Wait()
}

// Notifications returns the channel of feed notifications.  It must be
// continually read until it is closed or notification processing backs
// up into the in-between queue.
func (f *Feed) Notifications() <-chan interface{} {
	return f.dequeueNotification
}

// ConsecutiveFailures reports how many connection attempts in a row
// have failed.  It resets to zero on a successful connect.
func (f *Feed) ConsecutiveFailures() int {
	return int(atomic.LoadInt32(&f.failures))
}

// SubscribeAddress asks the service to stream transactions involving
// addr.  The op is queued for the connection writer and is also
// replayed from the watched set on every reconnect.  ErrFeedClosed is
// returned once the feed has been stopped.
func (f *Feed) SubscribeAddress(addr string) error {
	select {
	case <-f.ctx.Done():
		return ErrFeedClosed
	default:
	}

	select {
	case f.sendQueue <- feedOp{Op: "addr_sub", Addr: addr}:
	default:
		// Recovered on the next reconnect.
		log.Warnf("Feed send queue full, dropping subscription for %v",
			addr)
	}
	return nil
}

// connectHandler runs the dial and reconnect loop.  Each established
// connection is serviced until it fails, then the loop resumes with
// backoff.
func (f *Feed) connectHandler() {
	defer f.wg.Done()
	defer close(f.enqueueNotification)

	for {
		conn, err := f.connect()
		if err != nil {
			// Only cancellation ends the unbounded retry loop.
			return
		}
		f.runConnection(conn)
		if f.ctx.Err() != nil {
			return
		}
		log.Warnf("Feed connection to %s lost, reconnecting", f.url)
	}
}

// connect dials and subscribes with backoff until it succeeds or the
// feed is stopped.
func (f *Feed) connect() (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := f.reconnect.DoNotify(f.ctx, func() error {
		c, err := f.dial()
		if err != nil {
			f.noteFailure()
			return err
		}
		resubscribed, err := f.subscribe(c)
		if err != nil {
			c.Close()
			f.noteFailure()
			return err
		}

		atomic.StoreInt32(&f.failures, 0)
		f.enqueue(FeedConnected{Resubscribed: resubscribed})
		conn = c
		return nil
	}, func(err error, next time.Duration) {
		log.Errorf("Feed connection attempt failed: %v (retry in %v)",
			err, next.Round(time.Millisecond))
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Established feed connection to %s", f.url)
	return conn, nil
}

// noteFailure bumps the consecutive failure gauge and reports the new
// count downstream.
func (f *Feed) noteFailure() {
	n := atomic.AddInt32(&f.failures, 1)
	f.enqueue(FeedDown{Failures: int(n)})
}

// dial establishes the websocket connection.
func (f *Feed) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		NetDial: (&net.Dialer{Timeout: feedDialTimeout}).Dial,
	}
	conn, _, err := dialer.Dial(f.url, nil)
	return conn, err
}

// subscribe issues the stream subscriptions on a fresh connection: the
// global unconfirmed stream plus one addr_sub per watched address.  It
// runs before the connection's writer goroutine starts and writes on
// the conn directly.
func (f *Feed) subscribe(conn *websocket.Conn) (int, error) {
	if err := writeOp(conn, feedOp{Op: "unconfirmed_sub"}); err != nil {
		return 0, err
	}

	addrs := f.watched()
	for _, addr := range addrs {
		op := feedOp{Op: "addr_sub", Addr: addr}
		if err := writeOp(conn, op); err != nil {
			return 0, err
		}
	}
	return len(addrs), nil
}

// runConnection services one established connection until it fails or
// the feed is stopped.
func (f *Feed) runConnection(conn *websocket.Conn) {
	connCtx, connCancel := context.WithCancel(f.ctx)
	defer connCancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer connCancel()
		f.wsInHandler(conn)
	}()
	go func() {
		defer wg.Done()
		defer connCancel()
		f.wsOutHandler(connCtx, conn)
	}()

	// The reader cannot be interrupted by the context; closing the
	// connection unblocks it.
	<-connCtx.Done()
	conn.Close()
	wg.Wait()
}

// wsInHandler reads and dispatches inbound messages until the
// connection fails.  The read deadline is pushed forward before every
// read, so any quiet period past feedReadTimeout tears the connection
// down.
func (f *Feed) wsInHandler(conn *websocket.Conn) {
	for {
		err := conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		if err != nil {
			log.Errorf("Cannot set feed read deadline: %v", err)
			return
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			if f.ctx.Err() == nil {
				log.Errorf("Feed read failed: %v", err)
			}
			return
		}
		f.handleMessage(payload)
	}
}

// wsOutHandler serializes all writes on an established connection:
// queued subscription ops and the periodic heartbeat ping.
func (f *Feed) wsOutHandler(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()

	for {
		var op feedOp
		select {
		case op = <-f.sendQueue:
		case <-ticker.C:
			op = feedOp{Op: "ping"}
		case <-ctx.Done():
			return
		}

		if err := writeOp(conn, op); err != nil {
			if ctx.Err() == nil {
				log.Errorf("Feed write failed: %v", err)
			}
			return
		}
	}
}

// handleMessage decodes one inbound feed message and queues the
// resulting notification.  Malformed messages are logged and skipped.
func (f *Feed) handleMessage(payload []byte) {
	var msg feedMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Warnf("Skipping unparsable feed message: %v", err)
		return
	}

	switch msg.Op {
	case "utx":
		var tx serviceTx
		if err := json.Unmarshal(msg.X, &tx); err != nil {
			log.Warnf("Skipping unparsable utx payload: %v", err)
			return
		}
		log.Tracef("Feed utx: %v", NewLogClosure(func() string {
			return spew.Sdump(tx)
		}))
		f.enqueue(TxNotification{
			Summary: tx.summary(),
			Source:  SourceFeed,
		})

	case "pong":
		log.Tracef("Feed pong")

	default:
		log.Debugf("Ignoring feed message op %q", msg.Op)
	}
}

// enqueue hands a notification to the delivery queue without blocking
// past shutdown.
func (f *Feed) enqueue(n interface{}) {
	select {
	case f.enqueueNotification <- n:
	case <-f.ctx.Done():
	}
}

// writeOp marshals and writes a single outbound op under the write
// deadline.
func writeOp(conn *websocket.Conn, op feedOp) error {
	payload, err := json.Marshal(op)
	if err != nil {
		return err
	}
	err = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// feedHandler maintains a queue of notifications from the connection
// goroutines and delivers them in order on the dequeue channel.  The
// queue is unbounded so a slow consumer never blocks the websocket
// reader.
func (f *Feed) feedHandler() {
	var notifications []interface{}
	enqueue := f.enqueueNotification
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
				dequeue = f.dequeueNotification
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

		case <-f.ctx.Done():
			break out
		}
	}

	close(f.dequeueNotification)
	f.wg.Done()
}
