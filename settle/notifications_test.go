// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package settle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dicepay/dicepayd/betdb"
)

// recvNtfn reads one notification or fails the test.
func recvNtfn(t *testing.T, c *NotificationClient) interface{} {
	t.Helper()

	select {
	case n, ok := <-c.C():
		require.True(t, ok, "notification channel closed")
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for notification")
		return nil
	}
}

func TestNotificationFanout(t *testing.T) {
	t.Parallel()

	server := newNotificationServer()
	first := server.Subscribe()
	second := server.Subscribe()

	server.notify(BetSettled{BetID: 7, State: betdb.StatePaid})

	for _, c := range []*NotificationClient{first, second} {
		n := recvNtfn(t, c).(BetSettled)
		require.Equal(t, uint32(7), n.BetID)
		require.Equal(t, betdb.StatePaid, n.State)
	}
}

func TestNotificationDone(t *testing.T) {
	t.Parallel()

	server := newNotificationServer()
	gone := server.Subscribe()
	stays := server.Subscribe()

	gone.Done()

	// The unsubscribed channel is closed.
	_, ok := <-gone.C()
	require.False(t, ok)

	// Delivery to the remaining client is unaffected, and a second
	// Done does not panic.
	server.notify(BetDetected{BetID: 1})
	gone.Done()

	n := recvNtfn(t, stays).(BetDetected)
	require.Equal(t, uint32(1), n.BetID)
}

func TestNotificationSlowClientDrops(t *testing.T) {
	t.Parallel()

	server := newNotificationServer()
	slow := server.Subscribe()

	// A client that never drains must not stall the server.  Overflow
	// beyond the buffer is dropped, oldest notifications kept.
	for i := 0; i < clientBufferLen+10; i++ {
		server.notify(BetRolled{BetID: uint32(i)})
	}

	require.Len(t, slow.ntfns, clientBufferLen)
	first := recvNtfn(t, slow).(BetRolled)
	require.Equal(t, uint32(0), first.BetID)
}
