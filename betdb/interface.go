// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package betdb

import "context"

// WalletStore persists registered payout wallets.
type WalletStore interface {
	// CreateWallet registers a new payout wallet and returns the
	// stored record.  A duplicate address reports ErrDuplicateWallet.
	CreateWallet(ctx context.Context, params CreateWalletParams) (*WalletRecord, error)

	// GetWallet fetches a wallet by address or id.  A missing wallet
	// reports ErrNotFound.
	GetWallet(ctx context.Context, q GetWalletQuery) (*WalletRecord, error)

	// ListWallets returns registered wallets, restricted to active
	// ones when activeOnly is set.
	ListWallets(ctx context.Context, activeOnly bool) ([]WalletRecord, error)

	// SetWalletActive flips the active flag of a wallet.
	SetWalletActive(ctx context.Context, address string, active bool) error
}

// SeedStore persists server seeds and their nonce counters.
type SeedStore interface {
	// UpsertSeed creates the seed for a day if absent and returns
	// the stored record either way.  Concurrent upserts for the same
	// day converge on one record.
	UpsertSeed(ctx context.Context, params UpsertSeedParams) (*SeedRecord, error)

	// GetSeed fetches a seed by day or id.  A missing seed reports
	// ErrNotFound.
	GetSeed(ctx context.Context, q GetSeedQuery) (*SeedRecord, error)

	// RevealSeedsBefore marks every unrevealed seed strictly older
	// than the given UTC day as revealed and returns how many rows
	// changed.
	RevealSeedsBefore(ctx context.Context, day string) (int64, error)
}

// BetStore persists bets and drives their state machine.
type BetStore interface {
	// AdmitBet assigns the next nonce from the referenced seed and
	// inserts the bet in StateDetected, atomically.  A duplicate
	// deposit txid reports ErrDuplicateBet and consumes no nonce.
	AdmitBet(ctx context.Context, params AdmitBetParams) (*BetRecord, error)

	// GetBet fetches a bet by id or deposit txid.  A missing bet
	// reports ErrNotFound.
	GetBet(ctx context.Context, q GetBetQuery) (*BetRecord, error)

	// ListBets returns bets matching the query, oldest first.
	ListBets(ctx context.Context, q ListBetsQuery) ([]BetRecord, error)

	// MarkRolled transitions detected -> rolled and persists the
	// outcome fields in the same update.  A bet no longer in
	// StateDetected reports ErrStaleState.
	MarkRolled(ctx context.Context, params MarkRolledParams) error

	// SetBetState performs a guarded transition between two states.
	// A bet not in the expected From state reports ErrStaleState.
	SetBetState(ctx context.Context, params SetBetStateParams) error

	// RecordPayout transitions win_pending_payout -> paid and stores
	// the payout txid.
	RecordPayout(ctx context.Context, params RecordPayoutParams) error

	// BumpPayoutRetries increments the persistent broadcast attempt
	// counter and returns the new value.
	BumpPayoutRetries(ctx context.Context, betID uint32) (int64, error)
}

// Store is the full relational store used by the daemon.
type Store interface {
	WalletStore
	SeedStore
	BetStore

	// Close releases the underlying database handle.
	Close() error
}
