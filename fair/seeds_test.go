// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fair

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dicepay/dicepayd/betdb"
)

// fakeSeedStore implements betdb.SeedStore in memory.
type fakeSeedStore struct {
	seeds   map[string]*betdb.SeedRecord
	nextID  uint32
	cutoffs []string
}

func newFakeSeedStore() *fakeSeedStore {
	return &fakeSeedStore{seeds: make(map[string]*betdb.SeedRecord)}
}

func (f *fakeSeedStore) UpsertSeed(_ context.Context,
	params betdb.UpsertSeedParams) (*betdb.SeedRecord, error) {

	if rec, ok := f.seeds[params.Day]; ok {
		return rec, nil
	}
	f.nextID++
	rec := &betdb.SeedRecord{
		ID:       f.nextID,
		Day:      params.Day,
		Seed:     params.Seed,
		SeedHash: params.SeedHash,
	}
	f.seeds[params.Day] = rec
	return rec, nil
}

func (f *fakeSeedStore) GetSeed(_ context.Context,
	q betdb.GetSeedQuery) (*betdb.SeedRecord, error) {

	if q.Day != nil {
		if rec, ok := f.seeds[*q.Day]; ok {
			return rec, nil
		}
	}
	return nil, betdb.StoreError{ErrorCode: betdb.ErrNotFound}
}

func (f *fakeSeedStore) RevealSeedsBefore(_ context.Context,
	day string) (int64, error) {

	f.cutoffs = append(f.cutoffs, day)
	var n int64
	for d, rec := range f.seeds {
		if d < day && !rec.Revealed {
			rec.Revealed = true
			n++
		}
	}
	return n, nil
}

// managerAt returns a manager whose clock is pinned to the given UTC
// time.
func managerAt(store betdb.SeedStore, at time.Time) *Manager {
	m := NewManager(store, 1)
	m.now = func() time.Time { return at }
	return m
}

func TestManagerActiveCreatesAndCaches(t *testing.T) {
	t.Parallel()

	store := newFakeSeedStore()
	m := managerAt(store, time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC))

	first, err := m.Active(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2026-08-23", first.Day)
	require.Len(t, first.Seed, 64)

	// The commitment matches the hex seed string.
	sum := sha256.Sum256([]byte(first.Seed))
	require.Equal(t, hex.EncodeToString(sum[:]), first.SeedHash)

	// A second call within the same day returns the cached record
	// without generating new material.
	second, err := m.Active(context.Background())
	require.NoError(t, err)
	require.Equal(t, first.Seed, second.Seed)
	require.Len(t, store.seeds, 1)
}

func TestManagerMidnightRotation(t *testing.T) {
	t.Parallel()

	store := newFakeSeedStore()
	clock := time.Date(2026, 8, 23, 23, 59, 0, 0, time.UTC)
	m := NewManager(store, 1)
	m.now = func() time.Time { return clock }

	before, err := m.Active(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2026-08-23", before.Day)

	// First call after UTC midnight creates the next day's seed.
	clock = time.Date(2026, 8, 24, 0, 1, 0, 0, time.UTC)
	after, err := m.Active(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2026-08-24", after.Day)
	require.NotEqual(t, before.Seed, after.Seed)
	require.Len(t, store.seeds, 2)
}

func TestManagerActiveLocalTimeIsUTC(t *testing.T) {
	t.Parallel()

	store := newFakeSeedStore()

	// 23:30 UTC-5 on the 23rd is already the 24th in UTC.
	loc := time.FixedZone("UTC-5", -5*3600)
	m := managerAt(store, time.Date(2026, 8, 23, 23, 30, 0, 0, loc))

	rec, err := m.Active(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2026-08-24", rec.Day)
}

func TestManagerCommitment(t *testing.T) {
	t.Parallel()

	store := newFakeSeedStore()
	m := managerAt(store, time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC))

	day, hash, err := m.Commitment(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2026-08-23", day)
	require.Equal(t, store.seeds[day].SeedHash, hash)
}

func TestManagerRevealExpired(t *testing.T) {
	t.Parallel()

	store := newFakeSeedStore()
	for _, day := range []string{"2026-08-20", "2026-08-21", "2026-08-22"} {
		_, err := store.UpsertSeed(context.Background(),
			betdb.UpsertSeedParams{Day: day, Seed: "s" + day})
		require.NoError(t, err)
	}

	m := managerAt(store, time.Date(2026, 8, 23, 0, 30, 0, 0, time.UTC))

	// Retention of one day keeps the 22nd hidden on the 23rd.
	n, err := m.RevealExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.Equal(t, []string{"2026-08-22"}, store.cutoffs)

	require.True(t, store.seeds["2026-08-20"].Revealed)
	require.True(t, store.seeds["2026-08-21"].Revealed)
	require.False(t, store.seeds["2026-08-22"].Revealed)
}

func TestGenerateSeed(t *testing.T) {
	t.Parallel()

	seed, hash, err := generateSeed()
	require.NoError(t, err)
	require.Len(t, seed, 64)
	require.Len(t, hash, 64)

	raw, err := hex.DecodeString(seed)
	require.NoError(t, err)
	require.Len(t, raw, 32)

	sum := sha256.Sum256([]byte(seed))
	require.Equal(t, hex.EncodeToString(sum[:]), hash)

	// Two generations never collide.
	other, _, err := generateSeed()
	require.NoError(t, err)
	require.NotEqual(t, seed, other)
}
