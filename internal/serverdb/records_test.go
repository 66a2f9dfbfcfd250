package serverdb

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/classcomm/classcomm/internal/sync"
)

func openTestDB(t *testing.T) *ServerDB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func makeUser(t *testing.T, db *ServerDB, email string) *User {
	t.Helper()
	u, err := db.CreateUser(email)
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

// makeOp builds a push operation whose snapshot carries the owner and sync
// metadata, as the client store produces it.
func makeOp(opID, table, kind, recordID, ownerID, clientID string, version, updatedAt int64, deleted bool, extra map[string]any) sync.Operation {
	snapshot := map[string]any{
		"id":         recordID,
		"userId":     ownerID,
		"_version":   version,
		"_updatedAt": updatedAt,
		"_clientId":  clientID,
		"_isDeleted": deleted,
	}
	for k, v := range extra {
		snapshot[k] = v
	}
	data, _ := json.Marshal(snapshot)
	return sync.Operation{
		ID:        opID,
		Table:     table,
		Op:        kind,
		RecordID:  recordID,
		Data:      data,
		Timestamp: updatedAt,
		ClientID:  clientID,
		Version:   version,
	}
}

func TestApplyOperations_InsertApplied(t *testing.T) {
	db := openTestDB(t)
	u := makeUser(t, db, "teacher@school.test")

	op := makeOp("op1", "students", sync.OpInsert, "s1", u.ID, "client-a", 1, 100, false,
		map[string]any{"firstName": "Ana"})
	results, err := db.ApplyOperations(u.ID, []sync.Operation{op})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results: got %d, want 1", len(results))
	}
	res := results[0]
	if res.Outcome != sync.OutcomeApplied || res.NewVersion != 1 || res.Seq != 1 {
		t.Fatalf("result: %+v", res)
	}

	data, meta, err := db.GetRecord("students", "s1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if meta.Version != 1 || meta.IsDeleted {
		t.Fatalf("stored meta: %+v", meta)
	}
	var snap map[string]any
	json.Unmarshal(data, &snap)
	if snap["firstName"] != "Ana" {
		t.Fatalf("stored snapshot: %v", snap)
	}

	pull, err := db.ChangesSince(u.ID, 0, 100)
	if err != nil {
		t.Fatalf("changes since: %v", err)
	}
	if len(pull.Changes) != 1 || pull.Changes[0].Seq != 1 || pull.Cursor != 1 {
		t.Fatalf("change log: %+v", pull)
	}
}

func TestApplyOperations_ForbiddenScope(t *testing.T) {
	db := openTestDB(t)
	owner := makeUser(t, db, "owner@school.test")
	intruder := makeUser(t, db, "intruder@school.test")

	// The snapshot claims the owner, but the push comes from another tenant.
	op := makeOp("op1", "students", sync.OpInsert, "s1", owner.ID, "client-x", 1, 100, false, nil)
	results, err := db.ApplyOperations(intruder.ID, []sync.Operation{op})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if results[0].Outcome != sync.OutcomeRejected || results[0].Reason != ReasonForbidden {
		t.Fatalf("result: %+v", results[0])
	}

	// Nothing written, nothing logged.
	if _, _, err := db.GetRecord("students", "s1"); err == nil {
		t.Fatal("forbidden operation wrote a record")
	}
	pull, _ := db.ChangesSince(owner.ID, 0, 100)
	if len(pull.Changes) != 0 {
		t.Fatalf("forbidden operation logged a change: %+v", pull.Changes)
	}
}

func TestApplyOperations_ExistingRecordOwnershipEnforced(t *testing.T) {
	db := openTestDB(t)
	owner := makeUser(t, db, "owner@school.test")
	intruder := makeUser(t, db, "intruder@school.test")

	insert := makeOp("op1", "students", sync.OpInsert, "s1", owner.ID, "client-a", 1, 100, false,
		map[string]any{"firstName": "Ana"})
	if _, err := db.ApplyOperations(owner.ID, []sync.Operation{insert}); err != nil {
		t.Fatalf("owner insert: %v", err)
	}

	// The intruder targets the owner's record id with a snapshot claiming
	// their own ownership and a higher version.
	takeover := makeOp("op2", "students", sync.OpUpdate, "s1", intruder.ID, "client-x", 2, 200, false,
		map[string]any{"firstName": "Hijacked"})
	results, err := db.ApplyOperations(intruder.ID, []sync.Operation{takeover})
	if err != nil {
		t.Fatalf("apply takeover: %v", err)
	}
	if results[0].Outcome != sync.OutcomeRejected || results[0].Reason != ReasonForbidden {
		t.Fatalf("result: %+v", results[0])
	}

	// The row keeps its owner, version, and content.
	data, meta, err := db.GetRecord("students", "s1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if meta.Version != 1 {
		t.Fatalf("record version: got %d, want 1", meta.Version)
	}
	var snap map[string]any
	json.Unmarshal(data, &snap)
	if snap["firstName"] != "Ana" || snap["userId"] != owner.ID {
		t.Fatalf("stored snapshot: %v", snap)
	}

	// Neither change feed carries the rejected write.
	pull, _ := db.ChangesSince(owner.ID, 0, 100)
	if len(pull.Changes) != 1 {
		t.Fatalf("owner change log: %+v", pull.Changes)
	}
	pull, _ = db.ChangesSince(intruder.ID, 0, 100)
	if len(pull.Changes) != 0 {
		t.Fatalf("intruder change log: %+v", pull.Changes)
	}
}

func TestApplyOperations_SharedRowUpdatableByOtherTenant(t *testing.T) {
	db := openTestDB(t)
	author := makeUser(t, db, "author@school.test")
	editor := makeUser(t, db, "editor@school.test")

	insert := makeOp("op1", "templates", sync.OpInsert, "t1", author.ID, "client-a", 1, 100, false,
		map[string]any{"name": "Welcome", "isDefault": true})
	if _, err := db.ApplyOperations(author.ID, []sync.Operation{insert}); err != nil {
		t.Fatalf("insert shared template: %v", err)
	}

	update := makeOp("op2", "templates", sync.OpUpdate, "t1", author.ID, "client-b", 2, 200, false,
		map[string]any{"name": "Welcome (revised)", "isDefault": true})
	results, err := db.ApplyOperations(editor.ID, []sync.Operation{update})
	if err != nil {
		t.Fatalf("update shared template: %v", err)
	}
	if results[0].Outcome != sync.OutcomeApplied {
		t.Fatalf("shared row update: %+v", results[0])
	}
}

func TestApplyOperations_ValidationRejected(t *testing.T) {
	db := openTestDB(t)
	u := makeUser(t, db, "teacher@school.test")

	op := makeOp("op1", "students", sync.OpInsert, "s1", u.ID, "client-a", 0, 100, false, nil)
	results, err := db.ApplyOperations(u.ID, []sync.Operation{op})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if results[0].Outcome != sync.OutcomeRejected {
		t.Fatalf("result: %+v", results[0])
	}

	// A rejection does not abort the rest of the batch.
	good := makeOp("op2", "students", sync.OpInsert, "s2", u.ID, "client-a", 1, 100, false, nil)
	results, err = db.ApplyOperations(u.ID, []sync.Operation{op, good})
	if err != nil {
		t.Fatalf("apply mixed batch: %v", err)
	}
	if results[0].Outcome != sync.OutcomeRejected || results[1].Outcome != sync.OutcomeApplied {
		t.Fatalf("mixed batch results: %+v", results)
	}
}

func TestApplyOperations_Superseded(t *testing.T) {
	db := openTestDB(t)
	u := makeUser(t, db, "teacher@school.test")

	v2 := makeOp("op1", "students", sync.OpUpdate, "s1", u.ID, "client-b", 2, 200, false, nil)
	if _, err := db.ApplyOperations(u.ID, []sync.Operation{v2}); err != nil {
		t.Fatalf("apply v2: %v", err)
	}

	// A stale concurrent write loses and reports the winning version.
	v1 := makeOp("op2", "students", sync.OpUpdate, "s1", u.ID, "client-a", 1, 100, false, nil)
	results, err := db.ApplyOperations(u.ID, []sync.Operation{v1})
	if err != nil {
		t.Fatalf("apply v1: %v", err)
	}
	res := results[0]
	if res.Outcome != sync.OutcomeSuperseded || res.NewVersion != 2 {
		t.Fatalf("result: %+v", res)
	}

	// The superseded write leaves no change log entry.
	pull, _ := db.ChangesSince(u.ID, 0, 100)
	if len(pull.Changes) != 1 {
		t.Fatalf("change log after superseded write: %+v", pull.Changes)
	}
	_, meta, _ := db.GetRecord("students", "s1")
	if meta.Version != 2 {
		t.Fatalf("record version: got %d, want 2", meta.Version)
	}
}

func TestApplyOperations_TimestampTieBreak(t *testing.T) {
	db := openTestDB(t)
	u := makeUser(t, db, "teacher@school.test")

	early := makeOp("op1", "students", sync.OpUpdate, "s1", u.ID, "client-a", 2, 100, false, nil)
	late := makeOp("op2", "students", sync.OpUpdate, "s1", u.ID, "client-b", 2, 200, false, nil)

	if _, err := db.ApplyOperations(u.ID, []sync.Operation{early}); err != nil {
		t.Fatalf("apply early: %v", err)
	}
	results, err := db.ApplyOperations(u.ID, []sync.Operation{late})
	if err != nil {
		t.Fatalf("apply late: %v", err)
	}
	if results[0].Outcome != sync.OutcomeApplied {
		t.Fatalf("same version, later timestamp should win: %+v", results[0])
	}

	// Replaying the earlier write now supersedes.
	earlyAgain := makeOp("op3", "students", sync.OpUpdate, "s1", u.ID, "client-a", 2, 100, false, nil)
	results, _ = db.ApplyOperations(u.ID, []sync.Operation{earlyAgain})
	if results[0].Outcome != sync.OutcomeSuperseded {
		t.Fatalf("earlier timestamp should lose: %+v", results[0])
	}
}

func TestApplyOperations_RedeliveryReplaysVerdict(t *testing.T) {
	db := openTestDB(t)
	u := makeUser(t, db, "teacher@school.test")

	op := makeOp("op1", "students", sync.OpInsert, "s1", u.ID, "client-a", 1, 100, false, nil)
	first, err := db.ApplyOperations(u.ID, []sync.Operation{op})
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}

	// At-least-once delivery: the same operation arrives again.
	second, err := db.ApplyOperations(u.ID, []sync.Operation{op})
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if second[0] != first[0] {
		t.Fatalf("redelivery verdict differs: %+v vs %+v", second[0], first[0])
	}

	// No duplicate change log entry.
	pull, _ := db.ChangesSince(u.ID, 0, 100)
	if len(pull.Changes) != 1 {
		t.Fatalf("redelivery duplicated change log: %+v", pull.Changes)
	}
}

func TestApplyOperations_DeleteTombstones(t *testing.T) {
	db := openTestDB(t)
	u := makeUser(t, db, "teacher@school.test")

	insert := makeOp("op1", "students", sync.OpInsert, "s1", u.ID, "client-a", 1, 100, false, nil)
	tombstone := makeOp("op2", "students", sync.OpDelete, "s1", u.ID, "client-a", 2, 200, true, nil)
	results, err := db.ApplyOperations(u.ID, []sync.Operation{insert, tombstone})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if results[1].Outcome != sync.OutcomeApplied {
		t.Fatalf("tombstone result: %+v", results[1])
	}

	// The row survives as a tombstone and the delete is in the change log.
	_, meta, err := db.GetRecord("students", "s1")
	if err != nil {
		t.Fatalf("get tombstone: %v", err)
	}
	if !meta.IsDeleted || meta.Version != 2 {
		t.Fatalf("tombstone meta: %+v", meta)
	}
	pull, _ := db.ChangesSince(u.ID, 0, 100)
	if len(pull.Changes) != 2 {
		t.Fatalf("change log: %+v", pull.Changes)
	}
}

func TestApplyOperations_SequentialSeqs(t *testing.T) {
	db := openTestDB(t)
	u := makeUser(t, db, "teacher@school.test")

	var ops []sync.Operation
	for i := 1; i <= 5; i++ {
		ops = append(ops, makeOp(
			fmt.Sprintf("op%d", i), "students", sync.OpInsert, fmt.Sprintf("s%d", i),
			u.ID, "client-a", 1, int64(i*100), false, nil))
	}
	results, err := db.ApplyOperations(u.ID, ops)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	for i, res := range results {
		if res.Seq != int64(i+1) {
			t.Fatalf("seq[%d]: got %d, want %d", i, res.Seq, i+1)
		}
	}
}
