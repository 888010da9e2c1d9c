// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package betdb

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // Register the pgx driver.
)

// pgUniqueViolation is the PostgreSQL error code for a unique
// constraint violation.
const pgUniqueViolation = "23505"

// openPostgres opens a pooled connection through the pgx stdlib
// adapter.
func openPostgres(dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, storeError(ErrBadConfig,
			"postgres requires a connection string", nil)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, storeError(ErrDatabase,
			"failed to open postgres database", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &SQLStore{db: db, dialect: dialectPostgres}, nil
}

// isPostgresUniqueViolation matches the unique_violation SQLSTATE.
func isPostgresUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
