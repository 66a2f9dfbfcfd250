package localstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/classcomm/classcomm/internal/sync"
)

// ErrStorageUnavailable wraps any failure to open or initialize the local
// database. It is fatal to sync and surfaced to the caller.
var ErrStorageUnavailable = errors.New("local storage unavailable")

// ErrNotFound is returned by Get for missing or tombstoned records.
var ErrNotFound = errors.New("record not found")

const dbFile = "classcomm.db"

const localSchema = `
CREATE TABLE IF NOT EXISTS records (
    tbl        TEXT NOT NULL,
    id         TEXT NOT NULL,
    data       JSON NOT NULL,
    version    INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    client_id  TEXT NOT NULL DEFAULT '',
    is_deleted INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (tbl, id)
);
CREATE INDEX IF NOT EXISTS idx_records_tbl ON records(tbl, is_deleted);

CREATE TABLE IF NOT EXISTS pending_operations (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    op_id      TEXT UNIQUE NOT NULL,
    tbl        TEXT NOT NULL,
    operation  TEXT NOT NULL CHECK(operation IN ('insert', 'update', 'delete')),
    record_id  TEXT NOT NULL,
    data       JSON NOT NULL,
    timestamp  INTEGER NOT NULL,
    client_id  TEXT NOT NULL,
    version    INTEGER NOT NULL,
    status     TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'synced', 'error')),
    error      TEXT
);
CREATE INDEX IF NOT EXISTS idx_pending_status ON pending_operations(status, seq);

CREATE TABLE IF NOT EXISTS client_state (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Store is the client-side durable store: one collection per replicated
// table, keyed by record id, plus the pending operation queue and persisted
// client state. Local writes enqueue a pending operation in the same
// transaction; remote-applied writes never do.
//
// The surrounding app serializes access (one store per client instance, no
// parallel writers), so Store carries no locking of its own beyond SQLite's.
type Store struct {
	conn *sql.DB
	path string

	// now is swappable for tests.
	now func() time.Time
}

// Open opens (creating if needed) the local database under baseDir.
func Open(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", ErrStorageUnavailable, err)
	}
	path := filepath.Join(baseDir, dbFile)

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorageUnavailable, path, err)
	}
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, pragma, err)
		}
	}

	if _, err := conn.Exec(localSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: create schema: %v", ErrStorageUnavailable, err)
	}

	return &Store{conn: conn, path: path, now: time.Now}, nil
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.conn.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// ClientState returns the stable client id, generating and persisting one on
// first use, plus the persisted pull cursor.
func (s *Store) ClientState() (string, int64, error) {
	clientID, err := s.stateValue("client_id")
	if err != nil {
		return "", 0, err
	}
	if clientID == "" {
		clientID = uuid.NewString()
		if err := s.setStateValue("client_id", clientID); err != nil {
			return "", 0, fmt.Errorf("persist client id: %w", err)
		}
	}

	cursorStr, err := s.stateValue("last_sync")
	if err != nil {
		return "", 0, err
	}
	var cursor int64
	if cursorStr != "" {
		if _, err := fmt.Sscanf(cursorStr, "%d", &cursor); err != nil {
			return "", 0, fmt.Errorf("parse last_sync %q: %w", cursorStr, err)
		}
	}
	return clientID, cursor, nil
}

func (s *Store) stateValue(key string) (string, error) {
	var v string
	err := s.conn.QueryRow(`SELECT value FROM client_state WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read client state %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) setStateValue(key, value string) error {
	_, err := s.conn.Exec(`INSERT OR REPLACE INTO client_state (key, value) VALUES (?, ?)`, key, value)
	return err
}

// Record is a stored record with its sync metadata split out.
type Record struct {
	ID   string
	Data json.RawMessage
	Meta sync.Meta
}

// Get returns a live record by id. Tombstoned records report ErrNotFound.
func (s *Store) Get(table, id string) (*Record, error) {
	rec, err := s.getAny(table, id)
	if err != nil {
		return nil, err
	}
	if rec.Meta.IsDeleted {
		return nil, fmt.Errorf("%s/%s: %w", table, id, ErrNotFound)
	}
	return rec, nil
}

// getAny returns a record including tombstones.
func (s *Store) getAny(table, id string) (*Record, error) {
	if _, ok := sync.TableByName(table); !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	rec := &Record{ID: id}
	var data []byte
	var deleted int
	err := s.conn.QueryRow(
		`SELECT data, version, updated_at, client_id, is_deleted FROM records WHERE tbl = ? AND id = ?`,
		table, id,
	).Scan(&data, &rec.Meta.Version, &rec.Meta.UpdatedAt, &rec.Meta.ClientID, &deleted)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s/%s: %w", table, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", table, id, err)
	}
	rec.Data = data
	rec.Meta.IsDeleted = deleted != 0
	return rec, nil
}

// List returns all live records of a collection.
func (s *Store) List(table string) ([]Record, error) {
	if _, ok := sync.TableByName(table); !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	rows, err := s.conn.Query(
		`SELECT id, data, version, updated_at, client_id FROM records WHERE tbl = ? AND is_deleted = 0 ORDER BY id`,
		table,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var data []byte
		if err := rows.Scan(&rec.ID, &data, &rec.Meta.Version, &rec.Meta.UpdatedAt, &rec.Meta.ClientID); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		rec.Data = data
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Put writes a record locally: it stamps the next version and fresh sync
// metadata into the snapshot, stores it, and enqueues a pending operation,
// all in one transaction. Inserts start at version 1.
func (s *Store) Put(table, id string, doc json.RawMessage) (sync.Meta, error) {
	return s.mutate(table, id, doc, false)
}

// Delete tombstones a record: the row stays addressable with is_deleted set
// and a bumped version, and the deletion is enqueued for sync. Deleting a
// missing record is an error; deleting a tombstone is a no-op.
func (s *Store) Delete(table, id string) (sync.Meta, error) {
	existing, err := s.getAny(table, id)
	if err != nil {
		return sync.Meta{}, err
	}
	if existing.Meta.IsDeleted {
		return existing.Meta, nil
	}
	return s.mutate(table, id, existing.Data, true)
}

func (s *Store) mutate(table, id string, doc json.RawMessage, tombstone bool) (sync.Meta, error) {
	if _, ok := sync.TableByName(table); !ok {
		return sync.Meta{}, fmt.Errorf("unknown table %q", table)
	}

	clientID, _, err := s.ClientState()
	if err != nil {
		return sync.Meta{}, err
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return sync.Meta{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var current int64
	op := sync.OpInsert
	err = tx.QueryRow(`SELECT version FROM records WHERE tbl = ? AND id = ?`, table, id).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		current = 0
	case err != nil:
		return sync.Meta{}, fmt.Errorf("read current version: %w", err)
	default:
		op = sync.OpUpdate
	}
	if tombstone {
		op = sync.OpDelete
	}

	meta := sync.Meta{
		Version:   current + 1,
		UpdatedAt: s.now().UnixMilli(),
		ClientID:  clientID,
		IsDeleted: tombstone,
	}
	snapshot, err := stampSnapshot(doc, id, meta)
	if err != nil {
		return sync.Meta{}, err
	}

	if err := upsertRecord(tx, table, id, snapshot, meta); err != nil {
		return sync.Meta{}, err
	}

	_, err = tx.Exec(`
		INSERT INTO pending_operations (op_id, tbl, operation, record_id, data, timestamp, client_id, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), table, op, id, string(snapshot), meta.UpdatedAt, clientID, meta.Version,
	)
	if err != nil {
		return sync.Meta{}, fmt.Errorf("enqueue %s %s/%s: %w", op, table, id, err)
	}

	if err := tx.Commit(); err != nil {
		return sync.Meta{}, fmt.Errorf("commit: %w", err)
	}
	return meta, nil
}

// ApplyRemote applies a pull batch under conflict resolution and advances
// the cursor, all-or-nothing. Entries that lose to the local copy (including
// this client's own echoes) are skipped; replaying a batch is a no-op.
// This path never touches the pending queue.
func (s *Store) ApplyRemote(entries []sync.ChangeEntry, cursor int64) (sync.ApplyStats, error) {
	var stats sync.ApplyStats

	tx, err := s.conn.Begin()
	if err != nil {
		return stats, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, entry := range entries {
		if _, ok := sync.TableByName(entry.Table); !ok {
			return stats, fmt.Errorf("change seq %d: unknown table %q", entry.Seq, entry.Table)
		}

		var current sync.VersionPair
		err := tx.QueryRow(
			`SELECT version, updated_at, client_id FROM records WHERE tbl = ? AND id = ?`,
			entry.Table, entry.RecordID,
		).Scan(&current.Version, &current.UpdatedAt, &current.ClientID)
		exists := true
		if err == sql.ErrNoRows {
			exists = false
		} else if err != nil {
			return stats, fmt.Errorf("change seq %d: read local: %w", entry.Seq, err)
		}

		// A self-echo (our own write coming back) loses the comparison and
		// is skipped, unless another instance of this client advanced past
		// the local copy, in which case it correctly applies.
		if exists && !sync.CandidateWins(entry.Pair(), current) {
			stats.Skipped++
			continue
		}

		meta, err := sync.MetaFromSnapshot(entry.Data)
		if err != nil {
			return stats, fmt.Errorf("change seq %d: %w", entry.Seq, err)
		}
		if err := upsertRecord(tx, entry.Table, entry.RecordID, entry.Data, meta); err != nil {
			return stats, fmt.Errorf("change seq %d: %w", entry.Seq, err)
		}
		stats.Applied++
	}

	if err := setStateValueTx(tx, "last_sync", fmt.Sprintf("%d", cursor)); err != nil {
		return stats, fmt.Errorf("advance cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("commit: %w", err)
	}
	return stats, nil
}

// SetLastSync persists the pull cursor outside a batch (used by bootstrap
// and tests).
func (s *Store) SetLastSync(cursor int64) error {
	return s.setStateValue("last_sync", fmt.Sprintf("%d", cursor))
}

func setStateValueTx(tx *sql.Tx, key, value string) error {
	_, err := tx.Exec(`INSERT OR REPLACE INTO client_state (key, value) VALUES (?, ?)`, key, value)
	return err
}

func upsertRecord(tx *sql.Tx, table, id string, data json.RawMessage, meta sync.Meta) error {
	deleted := 0
	if meta.IsDeleted {
		deleted = 1
	}
	_, err := tx.Exec(`
		INSERT INTO records (tbl, id, data, version, updated_at, client_id, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tbl, id) DO UPDATE SET
			data = excluded.data,
			version = excluded.version,
			updated_at = excluded.updated_at,
			client_id = excluded.client_id,
			is_deleted = excluded.is_deleted`,
		table, id, string(data), meta.Version, meta.UpdatedAt, meta.ClientID, deleted,
	)
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", table, id, err)
	}
	return nil
}

// stampSnapshot merges the record id and sync metadata into the business
// document, producing the snapshot that is stored and transmitted.
func stampSnapshot(doc json.RawMessage, id string, meta sync.Meta) (json.RawMessage, error) {
	fields := map[string]any{}
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &fields); err != nil {
			return nil, fmt.Errorf("parse record document: %w", err)
		}
	}
	fields["id"] = id
	fields["_version"] = meta.Version
	fields["_updatedAt"] = meta.UpdatedAt
	fields["_clientId"] = meta.ClientID
	fields["_isDeleted"] = meta.IsDeleted

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return out, nil
}
