//go:build integration_test

// Package sqltest provisions isolated throwaway databases for store
// tests: file-backed SQLite databases in temporary directories and
// per-test PostgreSQL databases inside a shared container.
package sqltest

import (
	"context"
	"fmt"
	"hash/fnv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dicepay/dicepayd/betdb"
)

// ConfigFactory creates the connection configuration for a fresh,
// isolated test database.  It takes a testing.TB interface to fail the
// test when provisioning fails and to register cleanup logic.
type ConfigFactory func(t testing.TB) betdb.Config

// StoreTestFunc is the signature for store test functions that run
// against different database backends.  The factory yields a fresh
// database per call, so a test may provision several.
type StoreTestFunc func(t *testing.T, factory ConfigFactory)

// RunStoreTest runs the same test function against both PostgreSQL and
// SQLite.  Every factory call creates a new database, ensuring that
// tests are isolated and can run in parallel.
func RunStoreTest(t *testing.T, testFunc StoreTestFunc) {
	t.Helper()

	testCases := []struct {
		name    string
		factory ConfigFactory
	}{
		{
			name:    "Postgres",
			factory: NewPostgresConfig,
		},
		{
			name:    "SQLite",
			factory: NewSQLiteConfig,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			testFunc(t, tc.factory)
		})
	}
}

// OpenStore provisions a database from the factory, opens the store
// over it, and closes the store when the test ends.
func OpenStore(t testing.TB, factory ConfigFactory) *betdb.SQLStore {
	t.Helper()

	s, err := betdb.Open(context.Background(), factory(t))
	require.NoError(t, err, "failed to open store")
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// deterministicTestID generates a deterministic identifier based on the
// test name.  This ensures that Golang test caching works properly by
// avoiding random generations for the database name.  The hash also
// keeps database names short enough not to be cropped.
func deterministicTestID(t testing.TB) string {
	t.Helper()
	h := fnv.New32a()
	_, err := h.Write([]byte(t.Name()))

	// This should never fail, but we handle it just in case.
	require.NoError(t, err)

	return fmt.Sprintf("%08x", h.Sum32())
}
