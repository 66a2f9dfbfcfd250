package serverdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/classcomm/classcomm/internal/sync"
)

// Rejection reasons carried in OpResult.Reason.
const (
	ReasonForbidden  = "forbidden"
	ReasonValidation = "validation"
)

const maxCASRetries = 3

// ApplyOperations runs the server side of push for one tenant: each
// operation is scope-checked, validated, resolved against the current
// authoritative row, and, when it wins, applied together with its change log
// entry in one transaction. Outcomes are per operation; a rejected operation
// does not abort the rest of the batch.
//
// Operation ids already processed (at-least-once redelivery) replay their
// recorded verdict without reapplying.
func (db *ServerDB) ApplyOperations(userID string, ops []sync.Operation) ([]sync.OpResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("empty user id")
	}

	results := make([]sync.OpResult, 0, len(ops))
	for _, op := range ops {
		res, err := db.applyOne(userID, op)
		if err != nil {
			return results, fmt.Errorf("apply operation %s: %w", op.ID, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (db *ServerDB) applyOne(userID string, op sync.Operation) (sync.OpResult, error) {
	res := sync.OpResult{ID: op.ID}

	if err := op.Validate(); err != nil {
		res.Outcome = sync.OutcomeRejected
		res.Reason = fmt.Sprintf("%s: %v", ReasonValidation, err)
		return res, db.recordVerdict(op, res)
	}

	table, _ := sync.TableByName(op.Table)
	if !table.Allows(userID, op.Data) {
		res.Outcome = sync.OutcomeRejected
		res.Reason = ReasonForbidden
		slog.Warn("push rejected by row scoping", "user", userID, "table", op.Table, "record", op.RecordID)
		return res, db.recordVerdict(op, res)
	}

	meta, err := sync.MetaFromSnapshot(op.Data)
	if err != nil {
		res.Outcome = sync.OutcomeRejected
		res.Reason = fmt.Sprintf("%s: %v", ReasonValidation, err)
		return res, db.recordVerdict(op, res)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return res, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// Redelivery of an already-processed operation.
	if prior, ok, err := priorVerdict(tx, op.ID); err != nil {
		return res, err
	} else if ok {
		return prior, nil
	}

	applied := false
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		var current sync.VersionPair
		var storedOwner string
		var storedShared int
		var exists bool
		err := tx.QueryRow(
			`SELECT version, updated_at, client_id, scope_user, shared FROM records WHERE tbl = ? AND id = ?`,
			op.Table, op.RecordID,
		).Scan(&current.Version, &current.UpdatedAt, &current.ClientID, &storedOwner, &storedShared)
		switch {
		case err == sql.ErrNoRows:
			exists = false
		case err != nil:
			return res, fmt.Errorf("read current row: %w", err)
		default:
			exists = true
		}

		// The stored row must also be within the caller's scope. Without
		// this, a push targeting another tenant's record id could overwrite
		// the row and reassign its owner.
		if exists && storedOwner != userID && storedShared == 0 {
			res.Outcome = sync.OutcomeRejected
			res.Reason = ReasonForbidden
			slog.Warn("push targets another tenant's record", "user", userID, "table", op.Table, "record", op.RecordID)
			break
		}

		if exists && !sync.CandidateWins(meta.Pair(), current) {
			// Concurrent write already put a newer version in place. Not an
			// error: the client reconciles on its next pull.
			res.Outcome = sync.OutcomeSuperseded
			res.NewVersion = current.Version
			break
		}

		ok, err := casWrite(tx, table, op, meta, exists, current.Version)
		if err != nil {
			return res, err
		}
		if !ok {
			// Row changed between read and write; redo the comparison.
			continue
		}

		seq, err := appendChangeEntry(tx, table, op, meta)
		if err != nil {
			return res, err
		}
		res.Outcome = sync.OutcomeApplied
		res.NewVersion = meta.Version
		res.Seq = seq
		applied = true
		break
	}
	if res.Outcome == "" {
		return res, fmt.Errorf("version check kept failing after %d attempts", maxCASRetries)
	}

	if err := recordVerdictTx(tx, op, res); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit: %w", err)
	}

	if applied {
		slog.Debug("operation applied", "op_id", op.ID, "table", op.Table, "record", op.RecordID, "version", meta.Version, "seq", res.Seq)
	}
	return res, nil
}

// casWrite writes the record guarded by a compare-and-swap on the version
// read earlier. Returns false when the guard missed.
func casWrite(tx *sql.Tx, table sync.Table, op sync.Operation, meta sync.Meta, exists bool, readVersion int64) (bool, error) {
	scopeUser := table.Owner(op.Data)
	shared := 0
	if table.Shared(op.Data) {
		shared = 1
	}
	deleted := 0
	if meta.IsDeleted {
		deleted = 1
	}

	if !exists {
		_, err := tx.Exec(`
			INSERT INTO records (tbl, id, scope_user, shared, data, version, updated_at, client_id, is_deleted)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			op.Table, op.RecordID, scopeUser, shared, string(op.Data),
			meta.Version, meta.UpdatedAt, meta.ClientID, deleted,
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "constraint") {
				return false, nil // row appeared since the read
			}
			return false, fmt.Errorf("insert record: %w", err)
		}
		return true, nil
	}

	result, err := tx.Exec(`
		UPDATE records
		SET scope_user = ?, shared = ?, data = ?, version = ?, updated_at = ?, client_id = ?, is_deleted = ?
		WHERE tbl = ? AND id = ? AND version = ?`,
		scopeUser, shared, string(op.Data), meta.Version, meta.UpdatedAt, meta.ClientID, deleted,
		op.Table, op.RecordID, readVersion,
	)
	if err != nil {
		return false, fmt.Errorf("update record: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func appendChangeEntry(tx *sql.Tx, table sync.Table, op sync.Operation, meta sync.Meta) (int64, error) {
	shared := 0
	if table.Shared(op.Data) {
		shared = 1
	}
	result, err := tx.Exec(`
		INSERT INTO change_log (tbl, record_id, scope_user, shared, data, version, updated_at, origin_client_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		op.Table, op.RecordID, table.Owner(op.Data), shared, string(op.Data),
		meta.Version, meta.UpdatedAt, meta.ClientID,
	)
	if err != nil {
		return 0, fmt.Errorf("append change log: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("change log seq: %w", err)
	}
	return seq, nil
}

func priorVerdict(tx *sql.Tx, opID string) (sync.OpResult, bool, error) {
	var res sync.OpResult
	res.ID = opID
	err := tx.QueryRow(
		`SELECT outcome, reason, version, seq FROM op_log WHERE op_id = ?`, opID,
	).Scan(&res.Outcome, &res.Reason, &res.NewVersion, &res.Seq)
	if err == sql.ErrNoRows {
		return res, false, nil
	}
	if err != nil {
		return res, false, fmt.Errorf("read prior verdict: %w", err)
	}
	return res, true, nil
}

func recordVerdictTx(tx *sql.Tx, op sync.Operation, res sync.OpResult) error {
	_, err := tx.Exec(`
		INSERT OR IGNORE INTO op_log (op_id, client_id, outcome, reason, version, seq)
		VALUES (?, ?, ?, ?, ?, ?)`,
		op.ID, op.ClientID, res.Outcome, res.Reason, res.NewVersion, res.Seq,
	)
	if err != nil {
		return fmt.Errorf("record verdict: %w", err)
	}
	return nil
}

// recordVerdict records a verdict reached outside a transaction (rejections
// that never touch the record row).
func (db *ServerDB) recordVerdict(op sync.Operation, res sync.OpResult) error {
	_, err := db.conn.Exec(`
		INSERT OR IGNORE INTO op_log (op_id, client_id, outcome, reason, version, seq)
		VALUES (?, ?, ?, ?, ?, ?)`,
		op.ID, op.ClientID, res.Outcome, res.Reason, res.NewVersion, res.Seq,
	)
	if err != nil {
		return fmt.Errorf("record verdict: %w", err)
	}
	return nil
}

// GetRecord returns the authoritative copy of a record, tombstones included.
func (db *ServerDB) GetRecord(table, id string) (json.RawMessage, sync.Meta, error) {
	var data []byte
	var meta sync.Meta
	var deleted int
	err := db.conn.QueryRow(
		`SELECT data, version, updated_at, client_id, is_deleted FROM records WHERE tbl = ? AND id = ?`,
		table, id,
	).Scan(&data, &meta.Version, &meta.UpdatedAt, &meta.ClientID, &deleted)
	if err != nil {
		return nil, meta, err
	}
	meta.IsDeleted = deleted != 0
	return json.RawMessage(data), meta, nil
}
