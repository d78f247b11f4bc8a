// Package snapshotdb implements the sqlite3-backed cardinality snapshot
// store: a periodic, purely diagnostic record of how large the in-memory
// store is. It is never consulted for recovery — the append-only log
// remains the sole source of truth on startup — so its absence or
// corruption must never affect store correctness.
package snapshotdb

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/klauspost/compress/gzip"
)

// DB stores cardinality snapshots in a sqlite3 database.
type DB struct {
	x *sqlx.DB
}

// schemaVersion is the `PRAGMA user_version` this package expects. The
// snapshot table is diagnostic-only and has never outgrown its original
// shape, so there is exactly one schema: no migration registry is needed.
const schemaVersion = 1

// Version gets the current and required database versions. It should be
// checked before using the database.
func (db *DB) Version() (current, required uint64, err error) {
	if err = db.x.Get(&current, `PRAGMA user_version`); err != nil {
		return 0, 0, fmt.Errorf("get version: %w", err)
	}
	return current, schemaVersion, nil
}

// MigrateUp brings the database up to the given version, which must be
// schemaVersion. It is a no-op if the database is already there.
func (db *DB) MigrateUp(ctx context.Context, to uint64) error {
	if to != schemaVersion {
		return fmt.Errorf("unknown schema version %d", to)
	}

	tx, err := db.x.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var cv uint64
	if err := tx.GetContext(ctx, &cv, `PRAGMA user_version`); err != nil {
		return fmt.Errorf("get version: %w", err)
	}
	if cv >= schemaVersion {
		return nil
	}

	if _, err := tx.ExecContext(ctx, strings.ReplaceAll(`
		CREATE TABLE snapshot (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			taken_at   INTEGER NOT NULL,
			aof_offset INTEGER NOT NULL,
			body_gzip  BLOB NOT NULL
		) STRICT;
	`, `
		`, "\n")); err != nil {
		return fmt.Errorf("create snapshot table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `CREATE INDEX snapshot_taken_at_idx ON snapshot(taken_at)`); err != nil {
		return fmt.Errorf("create snapshot index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion)); err != nil {
		return fmt.Errorf("update version: %w", err)
	}

	return tx.Commit()
}

// Open opens a DB from the provided sqlite3 path, creating it if needed.
func Open(name string) (*DB, error) {
	// note: WAL makes the periodic writes cheap and non-blocking for readers
	x, err := sqlx.Connect("sqlite3", (&url.URL{
		Path: name,
		RawQuery: (url.Values{
			"_journal":      {"WAL"},
			"_busy_timeout": {"6000"},
		}).Encode(),
	}).String())
	if err != nil {
		return nil, err
	}
	return &DB{x}, nil
}

func (db *DB) Close() error {
	return db.x.Close()
}

// Snapshot is a single cardinality sample.
type Snapshot struct {
	TakenAt    time.Time
	AOFOffset  int64
	Values     int
	Sets       int
	SetMembers map[string]int
}

type snapshotBody struct {
	Values     int            `json:"values"`
	Sets       int            `json:"sets"`
	SetMembers map[string]int `json:"set_members"`
}

// Insert persists one cardinality snapshot, gzip-compressing the
// per-sorted-set member-count breakdown since it can grow arbitrarily with
// the number of distinct sorted sets.
func (db *DB) Insert(ctx context.Context, takenAt time.Time, aofOffset int64, values, sets int, setMembers map[string]int) error {
	body, err := json.Marshal(snapshotBody{Values: values, Sets: sets, SetMembers: setMembers})
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	_, err = db.x.ExecContext(ctx, `
		INSERT INTO snapshot (taken_at, aof_offset, body_gzip)
		VALUES (?, ?, ?)
	`, takenAt.Unix(), aofOffset, buf.Bytes())
	return err
}

// Latest returns the most recently inserted snapshot, if any.
func (db *DB) Latest(ctx context.Context) (Snapshot, bool, error) {
	var row struct {
		TakenAt   int64  `db:"taken_at"`
		AOFOffset int64  `db:"aof_offset"`
		BodyGzip  []byte `db:"body_gzip"`
	}
	if err := db.x.GetContext(ctx, &row, `
		SELECT taken_at, aof_offset, body_gzip FROM snapshot
		ORDER BY id DESC LIMIT 1
	`); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}

	zr, err := gzip.NewReader(bytes.NewReader(row.BodyGzip))
	if err != nil {
		return Snapshot{}, false, err
	}
	defer zr.Close()

	var body snapshotBody
	if err := json.NewDecoder(zr).Decode(&body); err != nil {
		return Snapshot{}, false, err
	}

	return Snapshot{
		TakenAt:    time.Unix(row.TakenAt, 0).UTC(),
		AOFOffset:  row.AOFOffset,
		Values:     body.Values,
		Sets:       body.Sets,
		SetMembers: body.SetMembers,
	}, true, nil
}

// Prune deletes all but the most recent keep snapshots, since this table is
// diagnostic-only and otherwise grows without bound.
func (db *DB) Prune(ctx context.Context, keep int) error {
	_, err := db.x.ExecContext(ctx, `
		DELETE FROM snapshot WHERE id NOT IN (
			SELECT id FROM snapshot ORDER BY id DESC LIMIT ?
		)
	`, keep)
	return err
}
