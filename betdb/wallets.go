// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package betdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// walletColumns is the scan order shared by every wallet query.
const walletColumns = `id, address, mult_centi, enc_priv_key, active,
	created_at`

// scanWallet reads one wallet row in walletColumns order.
func scanWallet(row interface{ Scan(...interface{}) error }) (*WalletRecord, error) {
	var (
		w       WalletRecord
		created int64
	)
	err := row.Scan(&w.ID, &w.Address, &w.MultCenti, &w.EncPrivKey,
		&w.Active, &created)
	if err != nil {
		return nil, err
	}
	w.CreatedAt = fromUnix(created)
	return &w, nil
}

// CreateWallet registers a new payout wallet and returns the stored
// record.
func (s *SQLStore) CreateWallet(ctx context.Context,
	params CreateWalletParams) (*WalletRecord, error) {

	query := s.rebind(`
		INSERT INTO wallets (address, mult_centi, enc_priv_key,
			active, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`)

	createdAt := now()

	var id uint32
	err := s.db.QueryRowContext(ctx, query, params.Address,
		params.MultCenti, params.EncPrivKey, params.Active,
		createdAt).Scan(&id)
	if err != nil {
		if s.isUniqueViolation(err) {
			return nil, storeError(ErrDuplicateWallet,
				fmt.Sprintf("wallet %s already registered",
					params.Address), err)
		}
		return nil, storeError(ErrDatabase,
			"failed to create wallet", err)
	}

	log.Debugf("Registered wallet %d for address %s", id,
		params.Address)

	return &WalletRecord{
		ID:         id,
		Address:    params.Address,
		MultCenti:  params.MultCenti,
		EncPrivKey: params.EncPrivKey,
		Active:     params.Active,
		CreatedAt:  fromUnix(createdAt),
	}, nil
}

// GetWallet fetches a wallet by address or id.
func (s *SQLStore) GetWallet(ctx context.Context,
	q GetWalletQuery) (*WalletRecord, error) {

	var (
		where string
		arg   interface{}
	)
	switch {
	case q.Address != nil:
		where, arg = "address = ?", *q.Address
	case q.ID != nil:
		where, arg = "id = ?", *q.ID
	default:
		return nil, storeError(ErrInvalidQuery,
			"wallet query must set address or id", nil)
	}

	query := s.rebind(`SELECT ` + walletColumns +
		` FROM wallets WHERE ` + where)

	w, err := scanWallet(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeError(ErrNotFound, "wallet not found", err)
	}
	if err != nil {
		return nil, storeError(ErrDatabase,
			"failed to query wallet", err)
	}
	return w, nil
}

// ListWallets returns registered wallets, restricted to active ones
// when activeOnly is set.
func (s *SQLStore) ListWallets(ctx context.Context,
	activeOnly bool) ([]WalletRecord, error) {

	query := `SELECT ` + walletColumns + ` FROM wallets`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query))
	if err != nil {
		return nil, storeError(ErrDatabase,
			"failed to list wallets", err)
	}
	defer rows.Close()

	var wallets []WalletRecord
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, storeError(ErrDatabase,
				"failed to scan wallet", err)
		}
		wallets = append(wallets, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(ErrDatabase,
			"failed to iterate wallets", err)
	}
	return wallets, nil
}

// SetWalletActive flips the active flag of a wallet.
func (s *SQLStore) SetWalletActive(ctx context.Context, address string,
	active bool) error {

	query := s.rebind(`UPDATE wallets SET active = ? WHERE address = ?`)

	res, err := s.db.ExecContext(ctx, query, active, address)
	if err != nil {
		return storeError(ErrDatabase,
			"failed to update wallet", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeError(ErrDatabase,
			"failed to read update result", err)
	}
	if n == 0 {
		return storeError(ErrNotFound,
			fmt.Sprintf("wallet %s not found", address), nil)
	}

	log.Infof("Wallet %s active=%v", address, active)
	return nil
}
