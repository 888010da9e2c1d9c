// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package fair implements the provably-fair roll computation and the
// server seed lifecycle.  A roll is a pure function of the server seed,
// the client seed, and a per-seed nonce, so any third party holding the
// revealed seed can recompute every outcome independently.
package fair

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
)

const (
	// HouseEdgeBps is the house edge in basis points of probability
	// (2%).  The win chance for a multiplier M is (100-edge)/M
	// percent.
	HouseEdgeBps = 200

	// rollRange is the number of distinct roll values.  Rolls are
	// expressed in basis points of the [0, 100) range, so a roll of
	// 3567 reads as 35.67.
	rollRange = 10000

	// minMultCenti is the smallest multiplier the chance formula
	// accepts, 1.01x.  Anything at or below 1.00x implies a win
	// chance of 97% or more and no house margin.
	minMultCenti = 101

	// maxChanceBps caps the win chance at 98%.  The cap is implied
	// by the house edge: no admissible multiplier can produce a
	// higher chance.
	maxChanceBps = (rollRange - HouseEdgeBps)
)

var (
	// ErrMultiplierRange is returned when a multiplier falls outside
	// the admissible range for the chance formula.
	ErrMultiplierRange = errors.New("multiplier out of range")

	// ErrPayoutOverflow is returned when amount*multiplier exceeds
	// the maximum representable amount.
	ErrPayoutOverflow = errors.New("payout amount overflows")
)

// Roll computes the roll for a bet in basis points of [0, 100).  The
// digest is HMAC-SHA512 keyed by the server seed over the message
// "<clientSeed>:<nonce>" with the nonce in decimal.  The first four
// digest bytes, read big-endian, are reduced modulo 10000.  The exact
// message format matters: verifiers recompute this from published
// values.
func Roll(serverSeed, clientSeed string, nonce uint64) int64 {
	mac := hmac.New(sha512.New, []byte(serverSeed))
	mac.Write([]byte(clientSeed))
	mac.Write([]byte(":"))
	mac.Write([]byte(strconv.FormatUint(nonce, 10)))
	digest := mac.Sum(nil)

	u := binary.BigEndian.Uint32(digest[:4])
	return int64(u % rollRange)
}

// WinChanceBps derives the win chance in basis points from a multiplier
// expressed in centi-units (200 means 2.00x).  The chance is
// (100 - houseEdge)/multiplier percent, truncated to basis points.  A
// 2.00x wallet therefore wins 49.00% of rolls.
func WinChanceBps(multCenti int64) (int64, error) {
	if multCenti < minMultCenti {
		return 0, fmt.Errorf("%w: %s below 1.01x floor",
			ErrMultiplierRange, FormatMultiplier(multCenti))
	}

	chance := (rollRange - HouseEdgeBps) * 100 / multCenti
	if chance <= 0 || chance > maxChanceBps {
		return 0, fmt.Errorf("%w: %s implies win chance %s%%",
			ErrMultiplierRange, FormatMultiplier(multCenti),
			FormatBps(chance))
	}
	return chance, nil
}

// IsWin reports whether a roll wins against a chance, both in basis
// points.  A roll strictly below the chance wins.
func IsWin(rollBps, chanceBps int64) bool {
	return rollBps < chanceBps
}

// PayoutAmount computes the payout for a winning bet: the bet amount
// times the multiplier, in integer satoshi arithmetic.  A 100,000
// satoshi bet on a 2.00x wallet pays 200,000 satoshi.
func PayoutAmount(amount btcutil.Amount, multCenti int64) (btcutil.Amount, error) {
	if amount < 0 || multCenti <= 0 {
		return 0, ErrPayoutOverflow
	}
	if int64(amount) > btcutil.MaxSatoshi/multCenti {
		return 0, ErrPayoutOverflow
	}
	return amount * btcutil.Amount(multCenti) / 100, nil
}

// Outcome is the fully resolved result of a roll against a wallet
// multiplier.
type Outcome struct {
	// RollBps is the roll in basis points of [0, 100).
	RollBps int64

	// ChanceBps is the win chance in basis points the roll was
	// compared against.
	ChanceBps int64

	// Win reports whether the roll was below the chance.
	Win bool

	// Payout is the amount owed for a win, zero for a loss.
	Payout btcutil.Amount
}

// Resolve computes the complete outcome for a bet.  It combines Roll,
// WinChanceBps, IsWin, and PayoutAmount so settlement persists one
// consistent record.
func Resolve(serverSeed, clientSeed string, nonce uint64, multCenti int64,
	amount btcutil.Amount) (Outcome, error) {

	chance, err := WinChanceBps(multCenti)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{
		RollBps:   Roll(serverSeed, clientSeed, nonce),
		ChanceBps: chance,
	}
	out.Win = IsWin(out.RollBps, chance)
	if out.Win {
		out.Payout, err = PayoutAmount(amount, multCenti)
		if err != nil {
			return Outcome{}, err
		}
	}
	return out, nil
}

// FormatBps renders a basis-point value as a two-decimal string, such
// as 3567 -> "35.67".
func FormatBps(bps int64) string {
	return fmt.Sprintf("%d.%02d", bps/100, bps%100)
}

// FormatMultiplier renders a centi-multiplier as a human-readable
// string, such as 250 -> "2.50x".
func FormatMultiplier(multCenti int64) string {
	return fmt.Sprintf("%d.%02dx", multCenti/100, multCenti%100)
}

// ValidateMultiplier enforces the configured floor and ceiling on a
// wallet multiplier at registration time.  The roll path never
// revalidates: a wallet that was admissible when registered stays
// admissible for its lifetime.
func ValidateMultiplier(multCenti, floorCenti, ceilCenti int64) error {
	if multCenti < floorCenti || multCenti > ceilCenti {
		return fmt.Errorf("%w: %s not in [%s, %s]",
			ErrMultiplierRange,
			FormatMultiplier(multCenti),
			FormatMultiplier(floorCenti),
			FormatMultiplier(ceilCenti))
	}

	// The chance formula has its own hard floor.
	_, err := WinChanceBps(multCenti)
	return err
}
