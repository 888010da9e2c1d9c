// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fair

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/dicepay/dicepayd/betdb"
)

// dayFormat is the layout of UTC day keys.  The format sorts lexically,
// which the store relies on when revealing old seeds.
const dayFormat = "2006-01-02"

// DefaultRetentionDays is how many full UTC days a server seed stays
// hidden after its day ends before it is revealed for verification.
const DefaultRetentionDays = 1

// Manager handles the daily server seed lifecycle: one seed per UTC
// day, created lazily on first use, committed to by its SHA-256 hash,
// and revealed once the retention window passes.
type Manager struct {
	store         betdb.SeedStore
	retentionDays int

	mtx    sync.Mutex
	active *betdb.SeedRecord

	now func() time.Time
}

// NewManager returns a seed manager over the given store.  A
// retentionDays of zero falls back to DefaultRetentionDays.
func NewManager(store betdb.SeedStore, retentionDays int) *Manager {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Manager{
		store:         store,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

// dayKey returns the UTC day key for t.
func dayKey(t time.Time) string {
	return t.UTC().Format(dayFormat)
}

// Active returns the server seed for the current UTC day, creating it
// on first use.  Rotation at UTC midnight is lazy: the first call after
// midnight creates the new day's seed.  Bets admitted before midnight
// keep the seed captured at admission.
func (m *Manager) Active(ctx context.Context) (*betdb.SeedRecord, error) {
	day := dayKey(m.now())

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.active != nil && m.active.Day == day {
		return m.active, nil
	}

	seed, hash, err := generateSeed()
	if err != nil {
		return nil, err
	}

	// The upsert discards the candidate material when another process
	// already created the day's seed, so concurrent callers converge.
	rec, err := m.store.UpsertSeed(ctx, betdb.UpsertSeedParams{
		Day:      day,
		Seed:     seed,
		SeedHash: hash,
	})
	if err != nil {
		return nil, err
	}

	if m.active == nil {
		log.Infof("Server seed for %s active (commitment %s)",
			rec.Day, rec.SeedHash)
	} else {
		log.Infof("Rotated server seed %s -> %s (commitment %s)",
			m.active.Day, rec.Day, rec.SeedHash)
	}
	m.active = rec
	return rec, nil
}

// Commitment returns the day key and SHA-256 commitment of the active
// seed, creating the seed if needed.  The commitment is safe to publish
// before any roll uses the seed.
func (m *Manager) Commitment(ctx context.Context) (string, string, error) {
	rec, err := m.Active(ctx)
	if err != nil {
		return "", "", err
	}
	return rec.Day, rec.SeedHash, nil
}

// RevealExpired reveals every seed whose day ended more than the
// retention window ago and returns how many were revealed.  Revealed
// seeds are queryable in plaintext so anyone can verify past rolls.
func (m *Manager) RevealExpired(ctx context.Context) (int64, error) {
	cutoff := dayKey(m.now().AddDate(0, 0, -m.retentionDays))
	return m.store.RevealSeedsBefore(ctx, cutoff)
}

// SeedCommitment returns the hex SHA-256 commitment of a seed string.
// Verifiers recompute this from a revealed seed and compare it against
// the commitment published before the seed's day began.
func SeedCommitment(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// generateSeed returns 32 random bytes hex-encoded together with its
// commitment.  The commitment is the hex SHA-256 of the hex seed
// string, not of the raw bytes.
func generateSeed() (seed, hash string, err error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", "", err
	}
	seed = hex.EncodeToString(raw[:])
	return seed, SeedCommitment(seed), nil
}
