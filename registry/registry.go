// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package registry maintains the in-memory set of registered deposit
// addresses.  Every incoming transaction is checked against this set,
// so lookups take a read lock only; mutation happens at startup and on
// the rare wallet registration or deactivation.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/dicepay/dicepayd/betdb"
)

// Entry is one registered payout wallet.  Published entries are never
// mutated; Deactivate replaces the map slot with a fresh entry.
type Entry struct {
	// Address is the deposit address, decoded for the active network.
	Address btcutil.Address

	// WalletID is the wallet's storage id.
	WalletID uint32

	// MultCenti is the payout multiplier in centi-units: 200 means
	// 2.00x.  Immutable after registration.
	MultCenti int64

	// Active indicates whether deposits to this address are admitted.
	Active bool
}

// Registry is the watched-address set.
type Registry struct {
	mtx sync.RWMutex

	chainParams *chaincfg.Params
	byAddr      map[string]*Entry
}

// New creates an empty registry for the given network.
func New(chainParams *chaincfg.Params) *Registry {
	return &Registry{
		chainParams: chainParams,
		byAddr:      make(map[string]*Entry),
	}
}

// Load replaces the registry contents with the active wallets from the
// store.  Wallets whose address does not parse for the configured
// network are skipped with a warning and excluded from detection.
func (r *Registry) Load(ctx context.Context, store betdb.WalletStore) error {
	wallets, err := store.ListWallets(ctx, true)
	if err != nil {
		return err
	}

	byAddr := make(map[string]*Entry, len(wallets))
	for i := range wallets {
		w := &wallets[i]
		addr, err := btcutil.DecodeAddress(w.Address, r.chainParams)
		if err != nil {
			log.Warnf("Skipping wallet %d: address %q does not "+
				"parse for %s: %v", w.ID, w.Address,
				r.chainParams.Name, err)
			continue
		}
		byAddr[addr.EncodeAddress()] = &Entry{
			Address:   addr,
			WalletID:  w.ID,
			MultCenti: w.MultCenti,
			Active:    w.Active,
		}
	}

	r.mtx.Lock()
	r.byAddr = byAddr
	r.mtx.Unlock()

	log.Infof("Watching %d deposit addresses", len(byAddr))
	return nil
}

// Lookup returns the entry registered for the given address string.
func (r *Registry) Lookup(addr string) (*Entry, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	e, ok := r.byAddr[addr]
	return e, ok
}

// Watched returns the sorted addresses currently accepting deposits.
func (r *Registry) Watched() []string {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	addrs := make([]string, 0, len(r.byAddr))
	for addr, e := range r.byAddr {
		if !e.Active {
			continue
		}
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// Add publishes a new entry.  The address must belong to the
// registry's network and must not already be registered.
func (r *Registry) Add(e Entry) error {
	if e.Address == nil {
		return fmt.Errorf("registry entry requires an address")
	}
	if !e.Address.IsForNet(r.chainParams) {
		return fmt.Errorf("address %v is not valid for %s",
			e.Address, r.chainParams.Name)
	}

	key := e.Address.EncodeAddress()

	r.mtx.Lock()
	defer r.mtx.Unlock()

	if _, ok := r.byAddr[key]; ok {
		return fmt.Errorf("address %s is already registered", key)
	}
	entry := e
	r.byAddr[key] = &entry
	return nil
}

// Deactivate marks the address as no longer accepting deposits and
// reports whether it was registered.  The entry stays resolvable
// through Lookup so late deposits can be attributed and refused.
func (r *Registry) Deactivate(addr string) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	e, ok := r.byAddr[addr]
	if !ok {
		return false
	}
	if e.Active {
		inactive := *e
		inactive.Active = false
		r.byAddr[addr] = &inactive
	}
	return true
}
