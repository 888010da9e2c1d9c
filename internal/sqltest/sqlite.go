//go:build integration_test

package sqltest

import (
	"path/filepath"
	"testing"

	"github.com/dicepay/dicepayd/betdb"
)

// NewSQLiteConfig creates an isolated fresh SQLite database file in a
// temporary directory.  The directory is removed by the testing
// package when the test ends.
func NewSQLiteConfig(t testing.TB) betdb.Config {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir,
		"dicepaytest_"+deterministicTestID(t)+".sqlite")

	return betdb.Config{Type: "sqlite", DSN: path}
}
