// Package index persists the realm's fingerprint store and link graph in a
// single SQLite file that is replaced atomically on every commit.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SchemaVersion is the layout written by Commit.
const SchemaVersion = 1

const schemaSQL = `
CREATE TABLE meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE nodes (
	id          TEXT PRIMARY KEY,
	path        TEXT NOT NULL UNIQUE,
	title       TEXT NOT NULL DEFAULT '',
	fingerprint TEXT NOT NULL,
	size        INTEGER NOT NULL,
	mod_time    INTEGER NOT NULL,
	last_seen   INTEGER NOT NULL
);

CREATE TABLE links (
	source      TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	target      TEXT NOT NULL,
	section     TEXT NOT NULL DEFAULT '',
	alias       TEXT NOT NULL DEFAULT '',
	byte_offset INTEGER NOT NULL,
	line        INTEGER NOT NULL,
	kind        INTEGER NOT NULL,
	ids         TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (source, seq)
);

CREATE INDEX idx_links_target ON links(target);
`

// migration upgrades a database from one schema version to the next inside tx.
type migration func(tx *sql.Tx) error

// migrations is keyed by the version a step upgrades from.
var migrations = map[int]migration{}

// migrate brings tx from version to SchemaVersion. It fails when a step is
// missing or the database is newer than this build.
func migrate(tx *sql.Tx, version int) error {
	if version > SchemaVersion {
		return fmt.Errorf("schema version %d is newer than %d", version, SchemaVersion)
	}
	for v := version; v < SchemaVersion; v++ {
		m, ok := migrations[v]
		if !ok {
			return fmt.Errorf("no migration from schema version %d", v)
		}
		if err := m(tx); err != nil {
			return fmt.Errorf("migrate from %d: %w", v, err)
		}
	}
	return nil
}

// openDB opens path with the given DSN parameters and checks the connection.
func openDB(path, params string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", "file:"+path+"?"+params)
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	return conn, nil
}
