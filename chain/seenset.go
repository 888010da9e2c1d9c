// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"sync"
)

// seenSet tracks which transaction ids the poller has already reported.
// The boolean in the txs map indicates whether the address index still
// returned the txid during the current sweep; ids that stop appearing
// are dropped so the set does not grow without bound.  A dropped txid
// that reappears is reported again, which the store's duplicate
// admission absorbs.
type seenSet struct {
	sync.RWMutex

	// txs stores the reported txids.
	txs map[string]bool
}

// newSeenSet creates an empty seen set.
func newSeenSet() *seenSet {
	return &seenSet{
		txs: make(map[string]bool),
	}
}

// contains returns true if the given txid has already been reported.
func (s *seenSet) contains(txid string) bool {
	s.RLock()
	defer s.RUnlock()

	_, ok := s.txs[txid]
	return ok
}

// add inserts the given txid and marks it to indicate that it should
// not be deleted.
func (s *seenSet) add(txid string) {
	s.Lock()
	defer s.Unlock()

	s.txs[txid] = true
}

// unmarkAll un-marks all the txids in the set.  This should be done
// just before a new sweep of the watched addresses.
func (s *seenSet) unmarkAll() {
	s.Lock()
	defer s.Unlock()

	for txid := range s.txs {
		s.txs[txid] = false
	}
}

// mark marks the txid to indicate that the address index still returns
// it.
func (s *seenSet) mark(txid string) {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.txs[txid]; !ok {
		return
	}

	s.txs[txid] = true
}

// deleteUnmarked removes all the unmarked txids from the set.
func (s *seenSet) deleteUnmarked() {
	s.Lock()
	defer s.Unlock()

	for txid, marked := range s.txs {
		if marked {
			continue
		}

		delete(s.txs, txid)
	}
}
