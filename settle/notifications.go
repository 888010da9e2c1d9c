// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package settle

import (
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/dicepay/dicepayd/betdb"
)

// clientBufferLen is the notification buffer of one subscribed client.
const clientBufferLen = 100

// BetDetected is emitted after a deposit passes verification and is
// admitted to the store.
type BetDetected struct {
	BetID   uint32
	Txid    string
	Address string
	Amount  btcutil.Amount
	Source  string
}

// BetRolled is emitted after the roll outcome is persisted.
type BetRolled struct {
	BetID     uint32
	Txid      string
	RollBps   int64
	ChanceBps int64
	Win       bool
}

// BetSettled is emitted when a bet reaches loss_finalized or paid.
type BetSettled struct {
	BetID      uint32
	Txid       string
	State      betdb.BetState
	Payout     btcutil.Amount
	PayoutTxid string
}

// PayoutFailed is emitted when a winning bet is parked in
// payout_failed.
type PayoutFailed struct {
	BetID  uint32
	Txid   string
	Reason string
}

// FeedStatus is emitted when the realtime feed connects or fails a
// connection attempt.
type FeedStatus struct {
	Connected    bool
	Failures     int
	Resubscribed int
}

// NotificationServer fans settlement events out to subscribed clients.
// It is the integration surface of the daemon: tests, alerting glue,
// and any future front-end bridge all attach here.
type NotificationServer struct {
	clientCounter uint64 // atomic

	mtx     sync.Mutex
	clients map[uint64]*NotificationClient
}

func newNotificationServer() *NotificationServer {
	return &NotificationServer{
		clients: make(map[uint64]*NotificationClient),
	}
}

// NotificationClient receives settlement events on a buffered channel.
// The channel must be drained; a client that stops reading loses
// notifications rather than stalling settlement.
type NotificationClient struct {
	id     uint64
	server *NotificationServer
	ntfns  chan interface{}
}

// Subscribe registers a new client with the server.  The caller must
// call Done when it no longer reads the channel.
func (s *NotificationServer) Subscribe() *NotificationClient {
	c := &NotificationClient{
		id:     atomic.AddUint64(&s.clientCounter, 1),
		server: s,
		ntfns:  make(chan interface{}, clientBufferLen),
	}

	s.mtx.Lock()
	s.clients[c.id] = c
	s.mtx.Unlock()
	return c
}

// notify delivers n to every subscribed client without blocking.
func (s *NotificationServer) notify(n interface{}) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for _, c := range s.clients {
		select {
		case c.ntfns <- n:
		default:
			log.Warnf("Notification client %d is not keeping up, "+
				"dropping %T", c.id, n)
		}
	}
}

// C returns the channel notifications are delivered on.  The channel
// is closed by Done.
func (c *NotificationClient) C() <-chan interface{} {
	return c.ntfns
}

// Done unsubscribes the client and closes its channel.  Calling Done
// more than once is a no-op.
func (c *NotificationClient) Done() {
	c.server.mtx.Lock()
	defer c.server.mtx.Unlock()

	if _, ok := c.server.clients[c.id]; !ok {
		return
	}
	delete(c.server.clients, c.id)

	// notify holds the same mutex while sending, so no send can race
	// the close.
	close(c.ntfns)
}
