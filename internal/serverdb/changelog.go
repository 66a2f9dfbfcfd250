package serverdb

import (
	"fmt"
	"time"

	"github.com/classcomm/classcomm/internal/sync"
)

// ChangesSince returns change log entries with seq > after that are within
// userID's scope, in ascending sequence order, capped at limit. The returned
// cursor is the last sequence returned, or after unchanged when there is
// nothing new. Safe to call repeatedly with the same cursor.
func (db *ServerDB) ChangesSince(userID string, after int64, limit int) (*sync.PullResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("empty user id")
	}
	rows, err := db.conn.Query(`
		SELECT seq, tbl, record_id, data, version, updated_at, origin_client_id
		FROM change_log
		WHERE seq > ? AND (scope_user = ? OR shared = 1)
		ORDER BY seq ASC
		LIMIT ?`,
		after, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query change log: %w", err)
	}
	defer rows.Close()

	result := &sync.PullResult{Cursor: after}
	for rows.Next() {
		var e sync.ChangeEntry
		var data []byte
		if err := rows.Scan(&e.Seq, &e.Table, &e.RecordID, &data, &e.Version, &e.UpdatedAt, &e.OriginClientID); err != nil {
			return nil, fmt.Errorf("scan change entry: %w", err)
		}
		e.Data = data
		result.Changes = append(result.Changes, e)
		result.Cursor = e.Seq
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change log: %w", err)
	}
	result.HasMore = len(result.Changes) == limit
	return result, nil
}

// LogStats summarises the change log for status surfaces.
type LogStats struct {
	Entries int64
	LastSeq int64
}

// Stats returns change log totals scoped to one tenant.
func (db *ServerDB) Stats(userID string) (LogStats, error) {
	var s LogStats
	err := db.conn.QueryRow(`
		SELECT COUNT(*), COALESCE(MAX(seq), 0)
		FROM change_log
		WHERE scope_user = ? OR shared = 1`, userID,
	).Scan(&s.Entries, &s.LastSeq)
	if err != nil {
		return s, fmt.Errorf("change log stats: %w", err)
	}
	return s, nil
}

// TouchCursor records the pull position a client reached, for operator
// visibility. The client's own persisted cursor remains authoritative.
func (db *ServerDB) TouchCursor(userID, clientID string, lastSeq int64) error {
	_, err := db.conn.Exec(`
		INSERT INTO sync_cursors (user_id, client_id, last_seq, last_sync_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, client_id)
		DO UPDATE SET last_seq = excluded.last_seq, last_sync_at = excluded.last_sync_at`,
		userID, clientID, lastSeq, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("touch cursor: %w", err)
	}
	return nil
}

// Cursors lists the recorded pull positions for a tenant.
func (db *ServerDB) Cursors(userID string) ([]CursorInfo, error) {
	rows, err := db.conn.Query(
		`SELECT client_id, last_seq, last_sync_at FROM sync_cursors WHERE user_id = ? ORDER BY client_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	var out []CursorInfo
	for rows.Next() {
		var c CursorInfo
		if err := rows.Scan(&c.ClientID, &c.LastSeq, &c.LastSyncAt); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CursorInfo is one client's recorded pull position.
type CursorInfo struct {
	ClientID   string
	LastSeq    int64
	LastSyncAt *time.Time
}
