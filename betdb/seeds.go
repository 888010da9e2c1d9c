// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package betdb

import (
	"context"
	"database/sql"
	"errors"
)

// seedColumns is the scan order shared by every seed query.
const seedColumns = `id, seed_day, seed, seed_hash, next_nonce,
	revealed, created_at`

// scanSeed reads one seed row in seedColumns order.
func scanSeed(row interface{ Scan(...interface{}) error }) (*SeedRecord, error) {
	var (
		rec     SeedRecord
		created int64
	)
	err := row.Scan(&rec.ID, &rec.Day, &rec.Seed, &rec.SeedHash,
		&rec.NextNonce, &rec.Revealed, &created)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = fromUnix(created)
	return &rec, nil
}

// UpsertSeed creates the seed for a day if absent and returns the
// stored record either way.  The insert-if-absent plus read sequence
// lets concurrent callers race safely: the seed_day unique constraint
// guarantees they converge on a single record.
func (s *SQLStore) UpsertSeed(ctx context.Context,
	params UpsertSeedParams) (*SeedRecord, error) {

	insert := s.rebind(`
		INSERT INTO server_seeds (seed_day, seed, seed_hash,
			next_nonce, revealed, created_at)
		VALUES (?, ?, ?, 0, FALSE, ?)
		ON CONFLICT (seed_day) DO NOTHING`)

	_, err := s.db.ExecContext(ctx, insert, params.Day, params.Seed,
		params.SeedHash, now())
	if err != nil {
		return nil, storeError(ErrDatabase,
			"failed to upsert server seed", err)
	}

	return s.GetSeed(ctx, GetSeedQuery{Day: &params.Day})
}

// GetSeed fetches a seed by day or id.
func (s *SQLStore) GetSeed(ctx context.Context,
	q GetSeedQuery) (*SeedRecord, error) {

	var (
		where string
		arg   interface{}
	)
	switch {
	case q.Day != nil:
		where, arg = "seed_day = ?", *q.Day
	case q.ID != nil:
		where, arg = "id = ?", *q.ID
	default:
		return nil, storeError(ErrInvalidQuery,
			"seed query must set day or id", nil)
	}

	query := s.rebind(`SELECT ` + seedColumns +
		` FROM server_seeds WHERE ` + where)

	rec, err := scanSeed(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeError(ErrNotFound,
			"server seed not found", err)
	}
	if err != nil {
		return nil, storeError(ErrDatabase,
			"failed to query server seed", err)
	}
	return rec, nil
}

// RevealSeedsBefore marks every unrevealed seed strictly older than the
// given UTC day as revealed and returns how many rows changed.  Day
// strings sort lexically because of the 2006-01-02 format.
func (s *SQLStore) RevealSeedsBefore(ctx context.Context,
	day string) (int64, error) {

	query := s.rebind(`
		UPDATE server_seeds SET revealed = TRUE
		WHERE seed_day < ? AND NOT revealed`)

	res, err := s.db.ExecContext(ctx, query, day)
	if err != nil {
		return 0, storeError(ErrDatabase,
			"failed to reveal server seeds", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeError(ErrDatabase,
			"failed to read reveal result", err)
	}

	if n > 0 {
		log.Infof("Revealed %d server %s", n,
			pickNoun(n, "seed", "seeds"))
	}
	return n, nil
}

// pickNoun returns the singular or plural form of a noun depending on
// the count n.
func pickNoun(n int64, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
