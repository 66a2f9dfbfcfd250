package sync

import (
	"encoding/json"
	"fmt"
)

// Operation kinds.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Pending operation statuses.
const (
	StatusPending = "pending"
	StatusSynced  = "synced"
	StatusError   = "error"
)

// Push outcomes, per operation.
const (
	OutcomeApplied    = "applied"
	OutcomeSuperseded = "superseded"
	OutcomeRejected   = "rejected"
)

// Meta is the sync metadata embedded in every replicated record.
// UpdatedAt is unix milliseconds.
type Meta struct {
	Version   int64  `json:"_version"`
	UpdatedAt int64  `json:"_updatedAt"`
	ClientID  string `json:"_clientId"`
	IsDeleted bool   `json:"_isDeleted"`
}

// Pair returns the resolution-relevant fields of the metadata.
func (m Meta) Pair() VersionPair {
	return VersionPair{Version: m.Version, UpdatedAt: m.UpdatedAt, ClientID: m.ClientID}
}

// Operation is a single queued local mutation awaiting transmission.
// Data is the full record snapshot, metadata fields included.
type Operation struct {
	ID        string          `json:"id"`
	Table     string          `json:"table"`
	Op        string          `json:"operation"`
	RecordID  string          `json:"record_id"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	ClientID  string          `json:"client_id"`
	Version   int64           `json:"version"`
	Status    string          `json:"-"`
	Error     string          `json:"-"`
}

// OpResult is the server's verdict on one pushed operation, aligned by ID.
type OpResult struct {
	ID         string `json:"id"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason,omitempty"`
	NewVersion int64  `json:"new_version,omitempty"`
	Seq        int64  `json:"seq,omitempty"`
}

// ChangeEntry is one row of the server change log. Seq is the pull cursor unit.
type ChangeEntry struct {
	Seq            int64           `json:"seq"`
	Table          string          `json:"table"`
	RecordID       string          `json:"record_id"`
	Data           json.RawMessage `json:"data"`
	Version        int64           `json:"version"`
	UpdatedAt      int64           `json:"updated_at"`
	OriginClientID string          `json:"origin_client_id"`
}

// Pair returns the resolution-relevant fields of the entry.
func (e ChangeEntry) Pair() VersionPair {
	return VersionPair{Version: e.Version, UpdatedAt: e.UpdatedAt, ClientID: e.OriginClientID}
}

// PullResult is a page of change log entries plus the advanced cursor.
type PullResult struct {
	Changes []ChangeEntry `json:"changes"`
	Cursor  int64         `json:"cursor"`
	HasMore bool          `json:"has_more"`
}

// MetaFromSnapshot extracts sync metadata from a record snapshot.
func MetaFromSnapshot(data json.RawMessage) (Meta, error) {
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, fmt.Errorf("parse record metadata: %w", err)
	}
	return m, nil
}

// Validate checks an operation is structurally sound before it is applied
// or transmitted. It does not check scoping; that is the policy's job.
func (op Operation) Validate() error {
	switch op.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("unknown operation %q", op.Op)
	}
	if op.ID == "" {
		return fmt.Errorf("empty operation id")
	}
	if op.RecordID == "" {
		return fmt.Errorf("empty record id")
	}
	if op.ClientID == "" {
		return fmt.Errorf("empty client id")
	}
	if op.Version < 1 {
		return fmt.Errorf("version %d below 1", op.Version)
	}
	if len(op.Data) == 0 || !json.Valid(op.Data) {
		return fmt.Errorf("invalid data snapshot")
	}
	if _, ok := TableByName(op.Table); !ok {
		return fmt.Errorf("unknown table %q", op.Table)
	}
	return nil
}
