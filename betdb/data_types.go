// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package betdb provides the relational store for payout wallets,
// server seeds, and bets.  The unique constraint on the bet's
// transaction id is the single concurrency-correctness mechanism for
// exactly-once admission: every detection source funnels into the same
// insert, and whichever lands second is rejected by the database rather
// than by in-memory bookkeeping.
package betdb

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
)

// BetState is the settlement state of a bet.  States form a fixed DAG:
//
//	detected -> rolled -> win_pending_payout -> paid
//	                   \                     \-> payout_failed
//	                    \-> loss_finalized
//
// Transitions are enforced by guarded updates so an illegal transition
// is impossible to persist, including across process restarts.
type BetState string

const (
	// StateDetected is the state of a bet immediately after
	// admission, before any roll has been computed.
	StateDetected BetState = "detected"

	// StateRolled indicates the roll outcome has been persisted.
	// From this point roll, win flag, and payout amount are
	// immutable.
	StateRolled BetState = "rolled"

	// StateWinPendingPayout indicates a winning bet waiting on the
	// payout engine.
	StateWinPendingPayout BetState = "win_pending_payout"

	// StateLossFinalized is the terminal state of a losing bet.
	StateLossFinalized BetState = "loss_finalized"

	// StatePaid is the terminal state of a winning bet whose payout
	// transaction was accepted by the network.
	StatePaid BetState = "paid"

	// StatePayoutFailed is the terminal state of a winning bet whose
	// payout could not be completed.  The roll outcome remains
	// visible; an operator can requeue the bet after resolving the
	// underlying condition.
	StatePayoutFailed BetState = "payout_failed"
)

// Terminal reports whether a state has no outgoing transitions other
// than an operator requeue.
func (s BetState) Terminal() bool {
	switch s {
	case StateLossFinalized, StatePaid, StatePayoutFailed:
		return true
	}
	return false
}

// --------------------
// WalletStore types
// --------------------

// WalletRecord describes a registered payout wallet.  The multiplier is
// fixed at registration; settlement reads it from the bet row captured
// at admission rather than from this record.
type WalletRecord struct {
	// ID is the unique identifier for the wallet.
	//
	// NOTE: This is a uint32 rather than a uint64 to ensure
	// compatibility with standard SQL databases (PostgreSQL, SQLite)
	// which use signed 64-bit integers for their BIGINT/INTEGER
	// types.
	ID uint32

	// Address is the deposit address, in the encoding of the
	// configured network.
	Address string

	// MultCenti is the payout multiplier in centi-units: 200 means
	// 2.00x.
	MultCenti int64

	// EncPrivKey is the address private key encrypted by the vault.
	// Plaintext key material never reaches this struct.
	EncPrivKey []byte

	// Active indicates whether deposits to this address are admitted.
	Active bool

	// CreatedAt is the registration time.
	CreatedAt time.Time
}

// CreateWalletParams contains the parameters required to register a
// payout wallet.
type CreateWalletParams struct {
	// Address is the deposit address string.
	Address string

	// MultCenti is the payout multiplier in centi-units.
	MultCenti int64

	// EncPrivKey is the vault-encrypted private key for Address.
	EncPrivKey []byte

	// Active indicates whether the wallet accepts deposits
	// immediately.
	Active bool
}

// GetWalletQuery identifies a wallet by address or by id.  Exactly one
// field must be set; pointers keep the zero-value ambiguity out of the
// query.
type GetWalletQuery struct {
	// Address is the deposit address to look up, if non-nil.
	Address *string

	// ID is the wallet id to look up, if non-nil.
	ID *uint32
}

// --------------------
// SeedStore types
// --------------------

// SeedRecord describes one server seed.  Exactly one seed exists per
// UTC day; its hash commitment is durable before the first roll that
// uses it, and its plaintext is exposed externally only once Revealed
// is set.
type SeedRecord struct {
	// ID is the unique identifier for the seed.
	//
	// NOTE: uint32 for the same SQL compatibility reason as
	// WalletRecord.ID.
	ID uint32

	// Day is the UTC day the seed is bound to, formatted 2006-01-02.
	Day string

	// Seed is the hex-encoded secret seed.
	Seed string

	// SeedHash is the hex-encoded SHA-256 commitment of Seed.
	SeedHash string

	// NextNonce is the nonce the next admitted bet will consume.
	NextNonce uint64

	// Revealed indicates the seed plaintext may be served to
	// verifiers.
	Revealed bool

	// CreatedAt is the creation time of the seed.
	CreatedAt time.Time
}

// UpsertSeedParams creates the seed for a day if absent.  The upsert is
// idempotent: when a seed already exists for Day the stored record wins
// and the supplied seed material is discarded.
type UpsertSeedParams struct {
	// Day is the UTC day, formatted 2006-01-02.
	Day string

	// Seed is the hex-encoded secret for a fresh day.
	Seed string

	// SeedHash is the hex-encoded SHA-256 commitment of Seed.
	SeedHash string
}

// GetSeedQuery identifies a seed by day or by id.
type GetSeedQuery struct {
	// Day is the UTC day to look up, if non-nil.
	Day *string

	// ID is the seed id to look up, if non-nil.
	ID *uint32
}

// --------------------
// BetStore types
// --------------------

// BetRecord is one settled or in-flight bet.  RollBps, ChanceBps, Win,
// and PayoutAmount are meaningful from StateRolled on; PayoutTxid from
// StatePaid.
type BetRecord struct {
	// ID is the unique identifier for the bet.
	//
	// NOTE: uint32 for the same SQL compatibility reason as
	// WalletRecord.ID.
	ID uint32

	// Txid is the deposit transaction id.  Unique across all bets;
	// this uniqueness is the exactly-once admission mechanism.
	Txid string

	// WalletID is the receiving wallet.
	WalletID uint32

	// Address is the deposit address, denormalized for event
	// emission.
	Address string

	// Sender is the payout return address extracted from the deposit
	// inputs.  Empty when extraction failed.
	Sender string

	// Amount is the deposit amount paid to Address.
	Amount btcutil.Amount

	// MultCenti is the wallet multiplier captured at admission.
	MultCenti int64

	// ChanceBps is the win chance in basis points captured at
	// admission.
	ChanceBps int64

	// RollBps is the roll in basis points; -1 before StateRolled.
	RollBps int64

	// Win reports the roll outcome.
	Win bool

	// PayoutAmount is the amount owed for a win, zero for a loss.
	PayoutAmount btcutil.Amount

	// State is the current settlement state.
	State BetState

	// SeedID references the server seed the roll is scoped to.
	SeedID uint32

	// ClientSeed is the client seed used for the roll.
	ClientSeed string

	// Nonce is the per-seed nonce assigned at admission.
	Nonce uint64

	// PayoutTxid is the broadcast payout transaction id, empty until
	// StatePaid.
	PayoutTxid string

	// PayoutRetries counts broadcast attempts that have been charged
	// against the bet across process restarts.
	PayoutRetries int64

	// Source records which detector admitted the bet: "feed",
	// "poller", or "manual".
	Source string

	// DetectedAt is the admission time.
	DetectedAt time.Time

	// SettledAt is the time of entry into a terminal state.  Zero
	// until then.
	SettledAt time.Time

	// UpdatedAt is the time of the last state change.
	UpdatedAt time.Time
}

// AdmitBetParams contains everything captured at admission time.  The
// store assigns the nonce from the seed's counter and inserts the bet
// in StateDetected within a single transaction, so a duplicate txid
// cannot burn a nonce.
type AdmitBetParams struct {
	// Txid is the deposit transaction id.
	Txid string

	// WalletID is the receiving wallet.
	WalletID uint32

	// Address is the deposit address.
	Address string

	// Sender is the extracted return address, possibly empty.
	Sender string

	// Amount is the deposit amount.
	Amount btcutil.Amount

	// MultCenti is the wallet multiplier at admission.
	MultCenti int64

	// ChanceBps is the derived win chance at admission.
	ChanceBps int64

	// SeedID is the active server seed.
	SeedID uint32

	// ClientSeed is the client seed for the roll.
	ClientSeed string

	// Source is the admitting detector.
	Source string
}

// GetBetQuery identifies a bet by id or by deposit txid.
type GetBetQuery struct {
	// ID is the bet id to look up, if non-nil.
	ID *uint32

	// Txid is the deposit txid to look up, if non-nil.
	Txid *string
}

// ListBetsQuery filters bets for recovery scans and reporting.
type ListBetsQuery struct {
	// State restricts results to one state, if non-nil.
	State *BetState

	// SeedID restricts results to one server seed, if non-nil.
	SeedID *uint32

	// Limit bounds the result set.  Zero means no limit.
	Limit int
}

// MarkRolledParams persists the roll outcome together with the
// detected -> rolled transition in one guarded update.
type MarkRolledParams struct {
	// BetID is the bet to transition.
	BetID uint32

	// RollBps is the computed roll in basis points.
	RollBps int64

	// Win is the roll outcome.
	Win bool

	// PayoutAmount is the amount owed on a win, zero on a loss.
	PayoutAmount btcutil.Amount
}

// SetBetStateParams performs a guarded state transition.  The update
// matches only when the bet is still in From; a miss reports
// ErrStaleState.
type SetBetStateParams struct {
	// BetID is the bet to transition.
	BetID uint32

	// From is the expected current state.
	From BetState

	// To is the target state.
	To BetState
}

// RecordPayoutParams finalizes a winning bet after an accepted
// broadcast.
type RecordPayoutParams struct {
	// BetID is the bet to finalize.
	BetID uint32

	// PayoutTxid is the broadcast transaction id.
	PayoutTxid string
}
