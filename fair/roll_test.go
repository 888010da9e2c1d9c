// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fair

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

// TestRollVectors pins the roll computation to known digests so the
// published verification procedure can never drift silently.  The
// expected values were computed independently with a reference HMAC
// implementation.
func TestRollVectors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		serverSeed string
		clientSeed string
		nonce      uint64
		want       int64
	}{{
		name:       "base vector",
		serverSeed: "a3f1c9",
		clientSeed: "lucky",
		nonce:      0,
		want:       4051,
	}, {
		name:       "nonce changes outcome",
		serverSeed: "a3f1c9",
		clientSeed: "lucky",
		nonce:      1,
		want:       9455,
	}, {
		name:       "nonce two",
		serverSeed: "a3f1c9",
		clientSeed: "lucky",
		nonce:      2,
		want:       3885,
	}, {
		name:       "client seed changes outcome",
		serverSeed: "a3f1c9",
		clientSeed: "lucky7",
		nonce:      0,
		want:       6496,
	}, {
		name:       "server seed changes outcome",
		serverSeed: "b7e2d0",
		clientSeed: "lucky",
		nonce:      0,
		want:       7727,
	}, {
		name:       "hex seed high nonce",
		serverSeed: "0c64e245c1ea273f31b632868e886f18e58f6bd777bcb62cb292b518f0c708ba",
		clientSeed: "dicepay-default",
		nonce:      42,
		want:       2471,
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := Roll(test.serverSeed, test.clientSeed,
				test.nonce)
			require.Equal(t, test.want, got)

			// Pure function: recomputation must agree.
			require.Equal(t, got, Roll(test.serverSeed,
				test.clientSeed, test.nonce))

			require.GreaterOrEqual(t, got, int64(0))
			require.Less(t, got, int64(10000))
		})
	}
}

// TestWinChanceBps checks the house-edge-adjusted chance derivation
// against hand-computed values.
func TestWinChanceBps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		multCenti int64
		want      int64
		wantErr   error
	}{{
		name:      "two x pays 49 percent",
		multCenti: 200,
		want:      4900,
	}, {
		name:      "three x truncates",
		multCenti: 300,
		want:      3266,
	}, {
		name:      "ten x",
		multCenti: 1000,
		want:      980,
	}, {
		name:      "floor multiplier",
		multCenti: 101,
		want:      9702,
	}, {
		name:      "hundred x",
		multCenti: 10000,
		want:      98,
	}, {
		name:      "even money rejected",
		multCenti: 100,
		wantErr:   ErrMultiplierRange,
	}, {
		name:      "below even money rejected",
		multCenti: 50,
		wantErr:   ErrMultiplierRange,
	}, {
		name:      "zero rejected",
		multCenti: 0,
		wantErr:   ErrMultiplierRange,
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := WinChanceBps(test.multCenti)
			if test.wantErr != nil {
				require.ErrorIs(t, err, test.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.want, got)
		})
	}
}

// TestPayoutAmount checks integer payout arithmetic including the
// overflow guard.
func TestPayoutAmount(t *testing.T) {
	t.Parallel()

	got, err := PayoutAmount(100_000, 200)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(200_000), got)

	got, err = PayoutAmount(12_345, 150)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(18_517), got)

	_, err = PayoutAmount(btcutil.MaxSatoshi, 200)
	require.ErrorIs(t, err, ErrPayoutOverflow)

	_, err = PayoutAmount(-1, 200)
	require.ErrorIs(t, err, ErrPayoutOverflow)
}

// TestResolve exercises the full outcome path with the canonical 2.00x
// wallet: a sub-49.00 roll wins double the bet, anything else loses.
func TestResolve(t *testing.T) {
	t.Parallel()

	const (
		serverSeed = "fairness-audit-seed"
		clientSeed = "player-one"
	)

	// Nonce 0 rolls 2466 (win at 49.00%), nonce 2 rolls 5887 (loss).
	win, err := Resolve(serverSeed, clientSeed, 0, 200, 100_000)
	require.NoError(t, err)
	require.Equal(t, int64(2466), win.RollBps)
	require.Equal(t, int64(4900), win.ChanceBps)
	require.True(t, win.Win)
	require.Equal(t, btcutil.Amount(200_000), win.Payout)

	loss, err := Resolve(serverSeed, clientSeed, 2, 200, 100_000)
	require.NoError(t, err)
	require.Equal(t, int64(5887), loss.RollBps)
	require.False(t, loss.Win)
	require.Zero(t, loss.Payout)

	_, err = Resolve(serverSeed, clientSeed, 0, 100, 100_000)
	require.ErrorIs(t, err, ErrMultiplierRange)
}

// TestIsWinBoundary checks the strict comparison at the chance
// boundary: a roll equal to the chance is a loss.
func TestIsWinBoundary(t *testing.T) {
	t.Parallel()

	require.True(t, IsWin(4899, 4900))
	require.False(t, IsWin(4900, 4900))
	require.False(t, IsWin(4901, 4900))
	require.True(t, IsWin(0, 1))
	require.False(t, IsWin(0, 0))
}

// TestFormatBps checks two-decimal rendering of basis points and
// multipliers.
func TestFormatBps(t *testing.T) {
	t.Parallel()

	require.Equal(t, "35.67", FormatBps(3567))
	require.Equal(t, "0.05", FormatBps(5))
	require.Equal(t, "99.99", FormatBps(9999))
	require.Equal(t, "49.00", FormatBps(4900))

	require.Equal(t, "2.00x", FormatMultiplier(200))
	require.Equal(t, "2.50x", FormatMultiplier(250))
	require.Equal(t, "10.01x", FormatMultiplier(1001))
}

// TestValidateMultiplier checks registration-time bounds enforcement.
func TestValidateMultiplier(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateMultiplier(200, 101, 10000))
	require.NoError(t, ValidateMultiplier(101, 101, 10000))
	require.NoError(t, ValidateMultiplier(10000, 101, 10000))

	require.ErrorIs(t, ValidateMultiplier(100, 101, 10000),
		ErrMultiplierRange)
	require.ErrorIs(t, ValidateMultiplier(10001, 101, 10000),
		ErrMultiplierRange)

	// A floor below the formula's own minimum still rejects.
	require.ErrorIs(t, ValidateMultiplier(100, 50, 10000),
		ErrMultiplierRange)
}
