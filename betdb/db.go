// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package betdb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dialect selects the SQL flavor of the backing database.
type dialect string

const (
	dialectSQLite   dialect = "sqlite"
	dialectPostgres dialect = "postgres"
)

// Config describes the database to open.
type Config struct {
	// Type is "sqlite" or "postgres".
	Type string

	// DSN is the database file path for sqlite or the connection
	// string for postgres.
	DSN string
}

// SQLStore implements Store over database/sql with either the pure-Go
// SQLite driver or pgx.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// Compile-time check that SQLStore satisfies Store.
var _ Store = (*SQLStore)(nil)

// Open connects to the configured database, applies the schema, and
// returns the store.  The schema is idempotent, so opening an existing
// database is a no-op beyond validation.
func Open(ctx context.Context, cfg Config) (*SQLStore, error) {
	var (
		s   *SQLStore
		err error
	)
	switch dialect(cfg.Type) {
	case dialectSQLite:
		s, err = openSQLite(cfg.DSN)
	case dialectPostgres:
		s, err = openPostgres(cfg.DSN)
	default:
		return nil, storeError(ErrBadConfig,
			fmt.Sprintf("unsupported database type %q", cfg.Type),
			nil)
	}
	if err != nil {
		return nil, err
	}

	if err := s.db.PingContext(ctx); err != nil {
		s.db.Close()
		return nil, storeError(ErrDatabase,
			"database is unreachable", err)
	}

	if err := s.initSchema(ctx); err != nil {
		s.db.Close()
		return nil, err
	}

	log.Infof("Opened %s bet store", s.dialect)
	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// initSchema applies the DDL one statement at a time, since the pgx
// extended protocol rejects multi-statement commands.
func (s *SQLStore) initSchema(ctx context.Context) error {
	ddl, err := schemaFor(s.dialect)
	if err != nil {
		return err
	}

	for _, stmt := range strings.Split(ddl, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storeError(ErrDatabase,
				"failed to apply schema", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to the $n form when talking to
// postgres.  Queries in this package never contain a literal question
// mark.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// isUniqueViolation reports whether err is a unique constraint failure
// from either supported driver.
func (s *SQLStore) isUniqueViolation(err error) bool {
	switch s.dialect {
	case dialectSQLite:
		return isSQLiteUniqueViolation(err)
	case dialectPostgres:
		return isPostgresUniqueViolation(err)
	}
	return false
}

// now returns the current time as stored in timestamp columns.
func now() int64 {
	return time.Now().Unix()
}

// fromUnix converts a stored timestamp back to a time.Time, mapping the
// zero sentinel to the zero time.
func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
