// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"github.com/dicepay/dicepayd/betdb"
	"github.com/dicepay/dicepayd/registry"
)

// fakeWalletStore serves a fixed wallet list.  Only ListWallets is
// exercised by the registry.
type fakeWalletStore struct {
	wallets []betdb.WalletRecord
	err     error
}

func (s *fakeWalletStore) CreateWallet(ctx context.Context,
	params betdb.CreateWalletParams) (*betdb.WalletRecord, error) {

	return nil, errors.New("not implemented")
}

func (s *fakeWalletStore) GetWallet(ctx context.Context,
	q betdb.GetWalletQuery) (*betdb.WalletRecord, error) {

	return nil, errors.New("not implemented")
}

func (s *fakeWalletStore) ListWallets(ctx context.Context,
	activeOnly bool) ([]betdb.WalletRecord, error) {

	return s.wallets, s.err
}

func (s *fakeWalletStore) SetWalletActive(ctx context.Context,
	address string, active bool) error {

	return errors.New("not implemented")
}

// testAddress derives a fresh P2PKH address for the given network.
func testAddress(t *testing.T, params *chaincfg.Params) btcutil.Address {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(priv.PubKey().SerializeCompressed()), params,
	)
	require.NoError(t, err)
	return addr
}

func TestRegistryLoad(t *testing.T) {
	t.Parallel()

	params := &chaincfg.MainNetParams
	addrA := testAddress(t, params)
	addrB := testAddress(t, params)

	store := &fakeWalletStore{wallets: []betdb.WalletRecord{
		{ID: 1, Address: addrA.EncodeAddress(), MultCenti: 200, Active: true},
		{ID: 2, Address: "not-an-address", MultCenti: 150, Active: true},
		{ID: 3, Address: addrB.EncodeAddress(), MultCenti: 1000, Active: true},
	}}

	r := registry.New(params)
	require.NoError(t, r.Load(context.Background(), store))

	e, ok := r.Lookup(addrA.EncodeAddress())
	require.True(t, ok)
	require.Equal(t, uint32(1), e.WalletID)
	require.Equal(t, int64(200), e.MultCenti)
	require.True(t, e.Active)

	// The malformed address was skipped, not fatal.
	_, ok = r.Lookup("not-an-address")
	require.False(t, ok)

	watched := r.Watched()
	require.Len(t, watched, 2)
	require.Contains(t, watched, addrA.EncodeAddress())
	require.Contains(t, watched, addrB.EncodeAddress())
}

func TestRegistryLoadError(t *testing.T) {
	t.Parallel()

	r := registry.New(&chaincfg.MainNetParams)
	storeErr := errors.New("connection refused")
	err := r.Load(context.Background(), &fakeWalletStore{err: storeErr})
	require.ErrorIs(t, err, storeErr)
}

func TestRegistryAdd(t *testing.T) {
	t.Parallel()

	params := &chaincfg.MainNetParams
	addr := testAddress(t, params)

	r := registry.New(params)
	require.NoError(t, r.Add(registry.Entry{
		Address:   addr,
		WalletID:  7,
		MultCenti: 350,
		Active:    true,
	}))

	e, ok := r.Lookup(addr.EncodeAddress())
	require.True(t, ok)
	require.Equal(t, uint32(7), e.WalletID)

	// Duplicate registration is refused.
	err := r.Add(registry.Entry{Address: addr, WalletID: 8, Active: true})
	require.ErrorContains(t, err, "already registered")

	// An address of another network is refused.
	foreign := testAddress(t, &chaincfg.TestNet3Params)
	err = r.Add(registry.Entry{Address: foreign, WalletID: 9, Active: true})
	require.ErrorContains(t, err, "not valid for")

	// A nil address is refused.
	require.Error(t, r.Add(registry.Entry{WalletID: 10}))
}

func TestRegistryDeactivate(t *testing.T) {
	t.Parallel()

	params := &chaincfg.MainNetParams
	addr := testAddress(t, params)

	r := registry.New(params)
	require.NoError(t, r.Add(registry.Entry{
		Address:   addr,
		WalletID:  1,
		MultCenti: 200,
		Active:    true,
	}))

	key := addr.EncodeAddress()
	require.True(t, r.Deactivate(key))

	// Still resolvable, no longer watched.
	e, ok := r.Lookup(key)
	require.True(t, ok)
	require.False(t, e.Active)
	require.Empty(t, r.Watched())

	// Idempotent, and unknown addresses report false.
	require.True(t, r.Deactivate(key))
	require.False(t, r.Deactivate("1Unknown"))
}
