package localstore

import (
	"fmt"
	"strings"

	"github.com/classcomm/classcomm/internal/sync"
)

// Retryable returns queued operations with status pending, in enqueue order.
// Operations for a given record keep their causal order; the server sees them
// as this client produced them. Rejected operations stay out of the automatic
// retry set until RetryErrors requeues them.
func (s *Store) Retryable() ([]sync.Operation, error) {
	return s.queued(`status = 'pending'`)
}

// Failed returns operations the server rejected, for operator inspection.
func (s *Store) Failed() ([]sync.Operation, error) {
	return s.queued(`status = 'error'`)
}

func (s *Store) queued(where string) ([]sync.Operation, error) {
	rows, err := s.conn.Query(`
		SELECT op_id, tbl, operation, record_id, data, timestamp, client_id, version, status, COALESCE(error, '')
		FROM pending_operations
		WHERE ` + where + `
		ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query pending operations: %w", err)
	}
	defer rows.Close()

	var ops []sync.Operation
	for rows.Next() {
		var op sync.Operation
		var data []byte
		if err := rows.Scan(&op.ID, &op.Table, &op.Op, &op.RecordID, &data,
			&op.Timestamp, &op.ClientID, &op.Version, &op.Status, &op.Error); err != nil {
			return nil, fmt.Errorf("scan pending operation: %w", err)
		}
		op.Data = data
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// MarkSynced marks operations as acknowledged by the server. Only then do
// they leave retry consideration (at-least-once delivery).
func (s *Store) MarkSynced(opIDs []string) error {
	if len(opIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(opIDs)), ",")
	args := make([]any, len(opIDs))
	for i, id := range opIDs {
		args[i] = id
	}
	_, err := s.conn.Exec(
		`UPDATE pending_operations SET status = 'synced', error = NULL WHERE op_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

// MarkError records a per-operation rejection. The operation stays visible
// for inspection and manual retry; it is never silently dropped.
func (s *Store) MarkError(opID, reason string) error {
	res, err := s.conn.Exec(
		`UPDATE pending_operations SET status = 'error', error = ? WHERE op_id = ?`,
		reason, opID,
	)
	if err != nil {
		return fmt.Errorf("mark error %s: %w", opID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark error: unknown operation %s", opID)
	}
	return nil
}

// RetryErrors flips error operations back to pending, the operator hook for
// re-attempting rejected changes after the underlying cause is fixed.
func (s *Store) RetryErrors() (int64, error) {
	res, err := s.conn.Exec(`UPDATE pending_operations SET status = 'pending', error = NULL WHERE status = 'error'`)
	if err != nil {
		return 0, fmt.Errorf("retry errors: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountPending returns how many local changes have not been acknowledged
// yet, for "N changes not yet synced" surfaces.
func (s *Store) CountPending() (int64, error) {
	var n int64
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM pending_operations WHERE status = 'pending'`).Scan(&n)
	return n, err
}

// CountFailed returns how many changes the server rejected.
func (s *Store) CountFailed() (int64, error) {
	var n int64
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM pending_operations WHERE status = 'error'`).Scan(&n)
	return n, err
}

// PruneSynced deletes acknowledged queue rows older than keep entries,
// bounding queue growth. Pending and error rows are never pruned.
func (s *Store) PruneSynced(keep int64) (int64, error) {
	res, err := s.conn.Exec(`
		DELETE FROM pending_operations
		WHERE status = 'synced' AND seq <= (
			SELECT COALESCE(MAX(seq), 0) - ? FROM pending_operations WHERE status = 'synced'
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune synced: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
