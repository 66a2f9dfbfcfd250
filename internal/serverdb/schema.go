package serverdb

const serverSchema = `
-- Users (tenants). Session issuance lives elsewhere; we only need identity.
CREATE TABLE IF NOT EXISTS users (
    id         TEXT PRIMARY KEY,
    email      TEXT UNIQUE NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- API keys, stored hashed.
CREATE TABLE IF NOT EXISTS api_keys (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL,
    key_hash     TEXT UNIQUE NOT NULL,
    key_prefix   TEXT NOT NULL,
    name         TEXT NOT NULL DEFAULT '',
    last_used_at DATETIME,
    created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

-- Authoritative record rows, one per record id per table. Business columns
-- are an opaque JSON snapshot; sync metadata and scoping fields are lifted
-- into columns. Rows are never hard-deleted, only tombstoned.
CREATE TABLE IF NOT EXISTS records (
    tbl        TEXT NOT NULL,
    id         TEXT NOT NULL,
    scope_user TEXT NOT NULL,
    shared     INTEGER NOT NULL DEFAULT 0,
    data       JSON NOT NULL,
    version    INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    client_id  TEXT NOT NULL DEFAULT '',
    is_deleted INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (tbl, id)
);
CREATE INDEX IF NOT EXISTS idx_records_scope ON records(scope_user, tbl);

-- Append-only change log; seq is the pull cursor unit. scope_user and
-- shared are denormalized from the snapshot so pull filtering is a plain
-- predicate.
CREATE TABLE IF NOT EXISTS change_log (
    seq              INTEGER PRIMARY KEY AUTOINCREMENT,
    tbl              TEXT NOT NULL,
    record_id        TEXT NOT NULL,
    scope_user       TEXT NOT NULL,
    shared           INTEGER NOT NULL DEFAULT 0,
    data             JSON NOT NULL,
    version          INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL,
    origin_client_id TEXT NOT NULL,
    logged_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_change_log_scope ON change_log(scope_user, seq);
CREATE INDEX IF NOT EXISTS idx_change_log_record ON change_log(tbl, record_id);

-- Outcome of every operation id the server has seen. Re-pushing an already
-- processed operation (at-least-once delivery) replays the recorded verdict
-- instead of reapplying it.
CREATE TABLE IF NOT EXISTS op_log (
    op_id       TEXT PRIMARY KEY,
    client_id   TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    reason      TEXT NOT NULL DEFAULT '',
    version     INTEGER NOT NULL DEFAULT 0,
    seq         INTEGER NOT NULL DEFAULT 0,
    received_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Per-client pull positions, bookkeeping for operators; the client-held
-- cursor is authoritative.
CREATE TABLE IF NOT EXISTS sync_cursors (
    user_id      TEXT NOT NULL,
    client_id    TEXT NOT NULL,
    last_seq     INTEGER NOT NULL DEFAULT 0,
    last_sync_at DATETIME,
    PRIMARY KEY (user_id, client_id)
);
`
