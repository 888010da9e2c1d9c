// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build integration_test

package betdb_test

import (
	"testing"

	"github.com/dicepay/dicepayd/internal/sqltest"
)

// TestStoreBackends runs the full store suite against every supported
// database backend.  Each subtest provisions its own isolated database.
func TestStoreBackends(t *testing.T) {
	t.Parallel()

	sqltest.RunStoreTest(t, func(t *testing.T,
		factory sqltest.ConfigFactory) {

		t.Run("Wallets", func(t *testing.T) {
			testWalletStore(t, sqltest.OpenStore(t, factory))
		})
		t.Run("Seeds", func(t *testing.T) {
			testSeedStore(t, sqltest.OpenStore(t, factory))
		})
		t.Run("AdmitBet", func(t *testing.T) {
			testAdmitBet(t, sqltest.OpenStore(t, factory))
		})
		t.Run("ConcurrentAdmission", func(t *testing.T) {
			testConcurrentAdmission(t, sqltest.OpenStore(t, factory))
		})
		t.Run("StateMachine", func(t *testing.T) {
			testBetStateMachine(t, sqltest.OpenStore(t, factory))
		})
		t.Run("ListBets", func(t *testing.T) {
			testListBets(t, sqltest.OpenStore(t, factory))
		})
		t.Run("PayoutRetries", func(t *testing.T) {
			testBumpPayoutRetries(t, sqltest.OpenStore(t, factory))
		})
	})
}
