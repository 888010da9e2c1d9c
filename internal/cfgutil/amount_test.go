// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

func TestAmountFlagUnmarshal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   string
		want    btcutil.Amount
		wantErr bool
	}{{
		name:  "btc decimal",
		value: "0.05",
		want:  5_000_000,
	}, {
		name:  "marshaled form",
		value: "0.05 BTC",
		want:  5_000_000,
	}, {
		name:  "satoshi suffix",
		value: "5000000sat",
		want:  5_000_000,
	}, {
		name:  "satoshi suffix with space",
		value: "546 sat",
		want:  546,
	}, {
		name:  "zero",
		value: "0",
		want:  0,
	}, {
		name:    "fractional satoshi",
		value:   "0.5sat",
		wantErr: true,
	}, {
		name:    "garbage",
		value:   "lots",
		wantErr: true,
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var f AmountFlag
			err := f.UnmarshalFlag(test.value)
			if test.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.want, f.Amount)
		})
	}
}

func TestAmountFlagRoundTrip(t *testing.T) {
	t.Parallel()

	f := NewAmountFlag(5_000_000)
	s, err := f.MarshalFlag()
	require.NoError(t, err)

	var back AmountFlag
	require.NoError(t, back.UnmarshalFlag(s))
	require.Equal(t, f.Amount, back.Amount)
}
