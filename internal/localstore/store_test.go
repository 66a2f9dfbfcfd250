package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/classcomm/classcomm/internal/sync"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// remoteEntry builds a change-log entry whose snapshot carries the same
// metadata, the shape the server emits.
func remoteEntry(seq int64, table, id string, version, updatedAt int64, clientID string, deleted bool) sync.ChangeEntry {
	snapshot := map[string]any{
		"id":         id,
		"firstName":  "Remote",
		"_version":   version,
		"_updatedAt": updatedAt,
		"_clientId":  clientID,
		"_isDeleted": deleted,
	}
	data, _ := json.Marshal(snapshot)
	return sync.ChangeEntry{
		Seq:            seq,
		Table:          table,
		RecordID:       id,
		Data:           data,
		Version:        version,
		UpdatedAt:      updatedAt,
		OriginClientID: clientID,
	}
}

func TestClientState_StableAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	clientID, lastSync, err := store.ClientState()
	if err != nil {
		t.Fatalf("client state: %v", err)
	}
	if clientID == "" {
		t.Fatal("client id not generated")
	}
	if lastSync != 0 {
		t.Fatalf("fresh cursor: got %d, want 0", lastSync)
	}
	store.Close()

	store2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store2.Close()
	clientID2, _, err := store2.ClientState()
	if err != nil {
		t.Fatalf("client state after reopen: %v", err)
	}
	if clientID2 != clientID {
		t.Fatalf("client id changed across restart: %s != %s", clientID2, clientID)
	}
}

func TestPut_StampsMetaAndEnqueues(t *testing.T) {
	store := openTestStore(t)
	store.now = func() time.Time { return time.UnixMilli(1000) }

	meta, err := store.Put("students", "s1", json.RawMessage(`{"firstName":"Ana","userId":"u_1"}`))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if meta.Version != 1 {
		t.Fatalf("insert version: got %d, want 1", meta.Version)
	}
	if meta.UpdatedAt != 1000 {
		t.Fatalf("updatedAt: got %d, want 1000", meta.UpdatedAt)
	}
	if meta.IsDeleted {
		t.Fatal("insert must not be a tombstone")
	}

	rec, err := store.Get("students", "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var snapshot map[string]any
	if err := json.Unmarshal(rec.Data, &snapshot); err != nil {
		t.Fatalf("parse snapshot: %v", err)
	}
	if snapshot["id"] != "s1" || snapshot["firstName"] != "Ana" {
		t.Fatalf("snapshot fields: %v", snapshot)
	}
	if snapshot["_version"] != float64(1) {
		t.Fatalf("snapshot _version: %v", snapshot["_version"])
	}

	ops, err := store.Retryable()
	if err != nil {
		t.Fatalf("retryable: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("queue: got %d ops, want 1", len(ops))
	}
	op := ops[0]
	if op.Op != sync.OpInsert || op.Table != "students" || op.RecordID != "s1" || op.Version != 1 {
		t.Fatalf("queued op: %+v", op)
	}
	if op.ClientID == "" || op.Status != sync.StatusPending {
		t.Fatalf("queued op identity: %+v", op)
	}

	// Second write is an update with a bumped version.
	meta2, err := store.Put("students", "s1", json.RawMessage(`{"firstName":"Ana","grade":"4","userId":"u_1"}`))
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if meta2.Version != 2 {
		t.Fatalf("update version: got %d, want 2", meta2.Version)
	}
	ops, _ = store.Retryable()
	if len(ops) != 2 || ops[1].Op != sync.OpUpdate {
		t.Fatalf("queue after update: %+v", ops)
	}
}

func TestPut_UnknownTable(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Put("widgets", "w1", json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected unknown table error")
	}
}

func TestDelete_Tombstones(t *testing.T) {
	store := openTestStore(t)

	if _, err := store.Put("students", "s1", json.RawMessage(`{"firstName":"Ana"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	meta, err := store.Delete("students", "s1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !meta.IsDeleted || meta.Version != 2 {
		t.Fatalf("tombstone meta: %+v", meta)
	}

	if _, err := store.Get("students", "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get tombstone: got %v, want ErrNotFound", err)
	}
	recs, err := store.List("students")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("list should exclude tombstones, got %d", len(recs))
	}

	ops, _ := store.Retryable()
	if len(ops) != 2 || ops[1].Op != sync.OpDelete {
		t.Fatalf("queue after delete: %+v", ops)
	}

	// Deleting a tombstone is a no-op, nothing new enqueued.
	if _, err := store.Delete("students", "s1"); err != nil {
		t.Fatalf("re-delete: %v", err)
	}
	ops, _ = store.Retryable()
	if len(ops) != 2 {
		t.Fatalf("re-delete enqueued: %+v", ops)
	}

	// Deleting a missing record is an error.
	if _, err := store.Delete("students", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete missing: got %v, want ErrNotFound", err)
	}
}

func TestApplyRemote_NeverEnqueues(t *testing.T) {
	store := openTestStore(t)

	entry := remoteEntry(1, "students", "s1", 1, 500, "client-other", false)
	stats, err := store.ApplyRemote([]sync.ChangeEntry{entry}, 1)
	if err != nil {
		t.Fatalf("apply remote: %v", err)
	}
	if stats.Applied != 1 || stats.Skipped != 0 {
		t.Fatalf("stats: %+v", stats)
	}

	if _, err := store.Get("students", "s1"); err != nil {
		t.Fatalf("get after apply: %v", err)
	}
	ops, _ := store.Retryable()
	if len(ops) != 0 {
		t.Fatalf("remote apply enqueued operations: %+v", ops)
	}

	_, lastSync, err := store.ClientState()
	if err != nil {
		t.Fatalf("client state: %v", err)
	}
	if lastSync != 1 {
		t.Fatalf("cursor: got %d, want 1", lastSync)
	}
}

func TestApplyRemote_ConflictResolution(t *testing.T) {
	store := openTestStore(t)
	store.now = func() time.Time { return time.UnixMilli(1000) }

	if _, err := store.Put("students", "s1", json.RawMessage(`{"firstName":"Local"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}

	// A lower remote version loses and is skipped.
	lose := remoteEntry(1, "students", "s1", 1, 1, "client-other", false)
	stats, err := store.ApplyRemote([]sync.ChangeEntry{lose}, 1)
	if err != nil {
		t.Fatalf("apply losing entry: %v", err)
	}
	if stats.Skipped != 1 || stats.Applied != 0 {
		t.Fatalf("losing entry stats: %+v", stats)
	}
	rec, _ := store.Get("students", "s1")
	var snap map[string]any
	json.Unmarshal(rec.Data, &snap)
	if snap["firstName"] != "Local" {
		t.Fatalf("losing entry overwrote record: %v", snap)
	}

	// A higher remote version wins.
	win := remoteEntry(2, "students", "s1", 5, 2000, "client-other", false)
	stats, err = store.ApplyRemote([]sync.ChangeEntry{win}, 2)
	if err != nil {
		t.Fatalf("apply winning entry: %v", err)
	}
	if stats.Applied != 1 {
		t.Fatalf("winning entry stats: %+v", stats)
	}
	rec, _ = store.Get("students", "s1")
	if rec.Meta.Version != 5 {
		t.Fatalf("record version after win: %d", rec.Meta.Version)
	}
}

func TestApplyRemote_SelfEchoSkipped(t *testing.T) {
	store := openTestStore(t)
	store.now = func() time.Time { return time.UnixMilli(1000) }

	meta, err := store.Put("students", "s1", json.RawMessage(`{"firstName":"Ana"}`))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	clientID, _, _ := store.ClientState()

	// The server's change-log echo of our own write carries identical
	// version metadata; the equal pair loses and the echo is a no-op.
	echo := remoteEntry(1, "students", "s1", meta.Version, meta.UpdatedAt, clientID, false)
	stats, err := store.ApplyRemote([]sync.ChangeEntry{echo}, 1)
	if err != nil {
		t.Fatalf("apply echo: %v", err)
	}
	if stats.Skipped != 1 || stats.Applied != 0 {
		t.Fatalf("echo stats: %+v", stats)
	}
}

func TestApplyRemote_Idempotent(t *testing.T) {
	store := openTestStore(t)

	batch := []sync.ChangeEntry{
		remoteEntry(1, "students", "s1", 1, 100, "client-b", false),
		remoteEntry(2, "contacts", "c1", 1, 100, "client-b", false),
	}
	if _, err := store.ApplyRemote(batch, 2); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	stats, err := store.ApplyRemote(batch, 2)
	if err != nil {
		t.Fatalf("replayed apply: %v", err)
	}
	if stats.Applied != 0 || stats.Skipped != 2 {
		t.Fatalf("replay must be a no-op, got %+v", stats)
	}
}

func TestApplyRemote_BatchAtomicity(t *testing.T) {
	store := openTestStore(t)

	batch := []sync.ChangeEntry{
		remoteEntry(1, "students", "s1", 1, 100, "client-b", false),
		remoteEntry(2, "widgets", "w1", 1, 100, "client-b", false), // unknown table
	}
	if _, err := store.ApplyRemote(batch, 2); err == nil {
		t.Fatal("expected batch failure")
	}

	// Nothing from the batch landed and the cursor did not move.
	if _, err := store.Get("students", "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("partial batch applied: %v", err)
	}
	_, lastSync, _ := store.ClientState()
	if lastSync != 0 {
		t.Fatalf("cursor moved on failed batch: %d", lastSync)
	}
}

func TestApplyRemote_TombstonePropagation(t *testing.T) {
	store := openTestStore(t)

	if _, err := store.ApplyRemote([]sync.ChangeEntry{
		remoteEntry(1, "students", "s1", 1, 100, "client-b", false),
	}, 1); err != nil {
		t.Fatalf("apply insert: %v", err)
	}
	if _, err := store.ApplyRemote([]sync.ChangeEntry{
		remoteEntry(2, "students", "s1", 2, 200, "client-b", true),
	}, 2); err != nil {
		t.Fatalf("apply tombstone: %v", err)
	}

	if _, err := store.Get("students", "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("tombstoned record still visible: %v", err)
	}
	ops, _ := store.Retryable()
	if len(ops) != 0 {
		t.Fatalf("tombstone apply enqueued operations: %+v", ops)
	}
}

func TestRestart_PersistsEverything(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.Put("students", "s1", json.RawMessage(`{"firstName":"Ana"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.SetLastSync(42); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	store.Close()

	store2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store2.Close()

	if _, err := store2.Get("students", "s1"); err != nil {
		t.Fatalf("record lost across restart: %v", err)
	}
	ops, err := store2.Retryable()
	if err != nil {
		t.Fatalf("retryable: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("queue lost across restart: %d ops", len(ops))
	}
	_, lastSync, _ := store2.ClientState()
	if lastSync != 42 {
		t.Fatalf("cursor lost across restart: %d", lastSync)
	}
}

func TestList_SortsAndFilters(t *testing.T) {
	store := openTestStore(t)

	for i := 3; i >= 1; i-- {
		id := fmt.Sprintf("s%d", i)
		if _, err := store.Put("students", id, json.RawMessage(`{"firstName":"X"}`)); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
	recs, err := store.List("students")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("list: got %d, want 3", len(recs))
	}
	for i, want := range []string{"s1", "s2", "s3"} {
		if recs[i].ID != want {
			t.Fatalf("list order: got %s at %d, want %s", recs[i].ID, i, want)
		}
	}
}
