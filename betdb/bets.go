// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package betdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
)

// betColumns is the scan order shared by every bet query.
const betColumns = `id, txid, wallet_id, address, sender, amount,
	mult_centi, chance_bps, roll_bps, win, payout_amount, state,
	seed_id, client_seed, nonce, payout_txid, payout_retries, source,
	detected_at, settled_at, updated_at`

// scanBet reads one bet row in betColumns order.
func scanBet(row interface{ Scan(...interface{}) error }) (*BetRecord, error) {
	var (
		rec                        BetRecord
		amount, payout             int64
		detected, settled, updated int64
		state                      string
	)
	err := row.Scan(&rec.ID, &rec.Txid, &rec.WalletID, &rec.Address,
		&rec.Sender, &amount, &rec.MultCenti, &rec.ChanceBps,
		&rec.RollBps, &rec.Win, &payout, &state, &rec.SeedID,
		&rec.ClientSeed, &rec.Nonce, &rec.PayoutTxid,
		&rec.PayoutRetries, &rec.Source, &detected, &settled,
		&updated)
	if err != nil {
		return nil, err
	}

	rec.Amount = toAmount(amount)
	rec.PayoutAmount = toAmount(payout)
	rec.State = BetState(state)
	rec.DetectedAt = fromUnix(detected)
	rec.SettledAt = fromUnix(settled)
	rec.UpdatedAt = fromUnix(updated)
	return &rec, nil
}

// AdmitBet assigns the next nonce from the referenced seed and inserts
// the bet in StateDetected, all inside one transaction.  The nonce
// charge and the insert commit or roll back together, so a duplicate
// txid consumes no nonce and the nonce sequence over admitted bets has
// no gaps.
func (s *SQLStore) AdmitBet(ctx context.Context,
	params AdmitBetParams) (*BetRecord, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeError(ErrDatabase,
			"failed to begin admission transaction", err)
	}
	defer tx.Rollback()

	// Charging the counter first also serializes concurrent
	// admissions against the same seed via the row lock.
	nonceQuery := s.rebind(`
		UPDATE server_seeds SET next_nonce = next_nonce + 1
		WHERE id = ?
		RETURNING next_nonce`)

	var nextNonce uint64
	err = tx.QueryRowContext(ctx, nonceQuery,
		params.SeedID).Scan(&nextNonce)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeError(ErrNotFound,
			"server seed "+strconv.Itoa(int(params.SeedID))+
				" not found", err)
	}
	if err != nil {
		return nil, storeError(ErrDatabase,
			"failed to assign nonce", err)
	}
	nonce := nextNonce - 1

	insert := s.rebind(`
		INSERT INTO bets (txid, wallet_id, address, sender, amount,
			mult_centi, chance_bps, state, seed_id, client_seed,
			nonce, source, detected_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	detectedAt := now()

	var id uint32
	err = tx.QueryRowContext(ctx, insert, params.Txid, params.WalletID,
		params.Address, params.Sender, int64(params.Amount),
		params.MultCenti, params.ChanceBps, string(StateDetected),
		params.SeedID, params.ClientSeed, nonce, params.Source,
		detectedAt, detectedAt).Scan(&id)
	if err != nil {
		if s.isUniqueViolation(err) {
			return nil, storeError(ErrDuplicateBet,
				fmt.Sprintf("bet for tx %s already admitted",
					params.Txid), err)
		}
		return nil, storeError(ErrDatabase,
			"failed to insert bet", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeError(ErrDatabase,
			"failed to commit admission", err)
	}

	log.Debugf("Admitted bet %d for tx %s (nonce %d, source %s)", id,
		params.Txid, nonce, params.Source)

	return &BetRecord{
		ID:         id,
		Txid:       params.Txid,
		WalletID:   params.WalletID,
		Address:    params.Address,
		Sender:     params.Sender,
		Amount:     params.Amount,
		MultCenti:  params.MultCenti,
		ChanceBps:  params.ChanceBps,
		RollBps:    -1,
		State:      StateDetected,
		SeedID:     params.SeedID,
		ClientSeed: params.ClientSeed,
		Nonce:      nonce,
		Source:     params.Source,
		DetectedAt: fromUnix(detectedAt),
		UpdatedAt:  fromUnix(detectedAt),
	}, nil
}

// GetBet fetches a bet by id or deposit txid.
func (s *SQLStore) GetBet(ctx context.Context,
	q GetBetQuery) (*BetRecord, error) {

	var (
		where string
		arg   interface{}
	)
	switch {
	case q.ID != nil:
		where, arg = "id = ?", *q.ID
	case q.Txid != nil:
		where, arg = "txid = ?", *q.Txid
	default:
		return nil, storeError(ErrInvalidQuery,
			"bet query must set id or txid", nil)
	}

	query := s.rebind(`SELECT ` + betColumns + ` FROM bets WHERE ` +
		where)

	rec, err := scanBet(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeError(ErrNotFound, "bet not found", err)
	}
	if err != nil {
		return nil, storeError(ErrDatabase,
			"failed to query bet", err)
	}
	return rec, nil
}

// ListBets returns bets matching the query, oldest first.
func (s *SQLStore) ListBets(ctx context.Context,
	q ListBetsQuery) ([]BetRecord, error) {

	query := `SELECT ` + betColumns + ` FROM bets`
	var (
		conds []string
		args  []interface{}
	)
	if q.State != nil {
		conds = append(conds, "state = ?")
		args = append(args, string(*q.State))
	}
	if q.SeedID != nil {
		conds = append(conds, "seed_id = ?")
		args = append(args, *q.SeedID)
	}
	for i, cond := range conds {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY id"
	if q.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, storeError(ErrDatabase,
			"failed to list bets", err)
	}
	defer rows.Close()

	var bets []BetRecord
	for rows.Next() {
		rec, err := scanBet(rows)
		if err != nil {
			return nil, storeError(ErrDatabase,
				"failed to scan bet", err)
		}
		bets = append(bets, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(ErrDatabase,
			"failed to iterate bets", err)
	}
	return bets, nil
}

// MarkRolled transitions detected -> rolled and persists the roll
// outcome in the same guarded update, so no partial outcome is ever
// visible.
func (s *SQLStore) MarkRolled(ctx context.Context,
	params MarkRolledParams) error {

	query := s.rebind(`
		UPDATE bets SET state = ?, roll_bps = ?, win = ?,
			payout_amount = ?, updated_at = ?
		WHERE id = ? AND state = ?`)

	res, err := s.db.ExecContext(ctx, query, string(StateRolled),
		params.RollBps, params.Win, int64(params.PayoutAmount),
		now(), params.BetID, string(StateDetected))
	if err != nil {
		return storeError(ErrDatabase,
			"failed to persist roll", err)
	}
	return s.requireTransition(res, params.BetID, StateDetected,
		StateRolled)
}

// SetBetState performs a guarded transition between two states.
func (s *SQLStore) SetBetState(ctx context.Context,
	params SetBetStateParams) error {

	var (
		res sql.Result
		err error
	)
	ts := now()
	if params.To.Terminal() {
		query := s.rebind(`
			UPDATE bets SET state = ?, settled_at = ?,
				updated_at = ?
			WHERE id = ? AND state = ?`)
		res, err = s.db.ExecContext(ctx, query, string(params.To),
			ts, ts, params.BetID, string(params.From))
	} else {
		query := s.rebind(`
			UPDATE bets SET state = ?, updated_at = ?
			WHERE id = ? AND state = ?`)
		res, err = s.db.ExecContext(ctx, query, string(params.To),
			ts, params.BetID, string(params.From))
	}
	if err != nil {
		return storeError(ErrDatabase,
			"failed to transition bet", err)
	}
	return s.requireTransition(res, params.BetID, params.From,
		params.To)
}

// RecordPayout transitions win_pending_payout -> paid and stores the
// payout txid.
func (s *SQLStore) RecordPayout(ctx context.Context,
	params RecordPayoutParams) error {

	query := s.rebind(`
		UPDATE bets SET state = ?, payout_txid = ?, settled_at = ?,
			updated_at = ?
		WHERE id = ? AND state = ?`)

	ts := now()
	res, err := s.db.ExecContext(ctx, query, string(StatePaid),
		params.PayoutTxid, ts, ts, params.BetID,
		string(StateWinPendingPayout))
	if err != nil {
		return storeError(ErrDatabase,
			"failed to record payout", err)
	}
	return s.requireTransition(res, params.BetID,
		StateWinPendingPayout, StatePaid)
}

// BumpPayoutRetries increments the persistent broadcast attempt counter
// and returns the new value.
func (s *SQLStore) BumpPayoutRetries(ctx context.Context,
	betID uint32) (int64, error) {

	query := s.rebind(`
		UPDATE bets SET payout_retries = payout_retries + 1,
			updated_at = ?
		WHERE id = ?
		RETURNING payout_retries`)

	var retries int64
	err := s.db.QueryRowContext(ctx, query, now(), betID).Scan(&retries)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storeError(ErrNotFound, "bet not found", err)
	}
	if err != nil {
		return 0, storeError(ErrDatabase,
			"failed to bump payout retries", err)
	}
	return retries, nil
}

// requireTransition converts a zero-row guarded update into
// ErrStaleState, which callers treat as "someone else settled this
// first".
func (s *SQLStore) requireTransition(res sql.Result, betID uint32,
	from, to BetState) error {

	n, err := res.RowsAffected()
	if err != nil {
		return storeError(ErrDatabase,
			"failed to read transition result", err)
	}
	if n == 0 {
		return storeError(ErrStaleState,
			fmt.Sprintf("bet %d is not in state %s (wanted %s)",
				betID, from, to), nil)
	}
	return nil
}

// toAmount converts a stored satoshi value.
func toAmount(v int64) btcutil.Amount {
	return btcutil.Amount(v)
}
