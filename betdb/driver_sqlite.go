// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package betdb

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// openSQLite opens the pure-Go SQLite driver over the given database
// file.  WAL journaling and a busy timeout keep the writer usable
// alongside the read-heavy recovery scans.
func openSQLite(dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, storeError(ErrBadConfig,
			"sqlite requires a database path", nil)
	}

	memory := strings.Contains(dsn, ":memory:")
	if !memory {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)"+
			"&_pragma=journal_mode(WAL)"+
			"&_pragma=foreign_keys(1)", dsn)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storeError(ErrDatabase,
			"failed to open sqlite database", err)
	}

	// An in-memory database exists per connection, so the pool must
	// collapse to one.  A file-backed database permits one writer at
	// a time regardless; a small pool avoids busy churn.
	if memory {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
	}

	return &SQLStore{db: db, dialect: dialectSQLite}, nil
}

// isSQLiteUniqueViolation matches the SQLITE_CONSTRAINT family of
// result codes raised for unique and primary key violations.
func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT,
		sqlite3.SQLITE_CONSTRAINT_UNIQUE,
		sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:

		return true
	}
	return false
}
