// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package betdb

import "fmt"

// The schema is shared between SQLite and PostgreSQL.  Only the
// auto-increment primary key and the binary column type differ, so the
// DDL is a template with those two substitutions.  Timestamps are unix
// seconds in BIGINT columns to keep the dialects identical.
//
// The UNIQUE constraint on bets.txid is load-bearing: it is the only
// mechanism serializing concurrent admission of the same deposit.
const schemaTemplate = `
CREATE TABLE IF NOT EXISTS wallets (
	id %[1]s,
	address TEXT NOT NULL UNIQUE,
	mult_centi BIGINT NOT NULL,
	enc_priv_key %[2]s NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS server_seeds (
	id %[1]s,
	seed_day TEXT NOT NULL UNIQUE,
	seed TEXT NOT NULL,
	seed_hash TEXT NOT NULL,
	next_nonce BIGINT NOT NULL DEFAULT 0,
	revealed BOOLEAN NOT NULL DEFAULT FALSE,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS bets (
	id %[1]s,
	txid TEXT NOT NULL UNIQUE,
	wallet_id BIGINT NOT NULL REFERENCES wallets (id),
	address TEXT NOT NULL,
	sender TEXT NOT NULL DEFAULT '',
	amount BIGINT NOT NULL,
	mult_centi BIGINT NOT NULL,
	chance_bps BIGINT NOT NULL,
	roll_bps BIGINT NOT NULL DEFAULT -1,
	win BOOLEAN NOT NULL DEFAULT FALSE,
	payout_amount BIGINT NOT NULL DEFAULT 0,
	state TEXT NOT NULL,
	seed_id BIGINT NOT NULL REFERENCES server_seeds (id),
	client_seed TEXT NOT NULL,
	nonce BIGINT NOT NULL,
	payout_txid TEXT NOT NULL DEFAULT '',
	payout_retries BIGINT NOT NULL DEFAULT 0,
	source TEXT NOT NULL,
	detected_at BIGINT NOT NULL,
	settled_at BIGINT NOT NULL DEFAULT 0,
	updated_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bets_state ON bets (state);

CREATE INDEX IF NOT EXISTS idx_bets_seed ON bets (seed_id);

CREATE UNIQUE INDEX IF NOT EXISTS idx_bets_payout_txid
	ON bets (payout_txid) WHERE payout_txid <> '';
`

// schemaFor renders the DDL for one dialect.
func schemaFor(d dialect) (string, error) {
	switch d {
	case dialectSQLite:
		return fmt.Sprintf(schemaTemplate,
			"INTEGER PRIMARY KEY AUTOINCREMENT", "BLOB"), nil

	case dialectPostgres:
		pk := "BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
		return fmt.Sprintf(schemaTemplate, pk, "BYTEA"), nil
	}

	return "", storeError(ErrBadConfig,
		fmt.Sprintf("unknown dialect %q", d), nil)
}
