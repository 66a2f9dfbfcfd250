package syncharness

import "testing"

// A delete on one device removes the record on every device, and the
// tombstone keeps suppressing the record for devices that join later.
func TestDeletePropagates(t *testing.T) {
	h := NewHarness(t)
	userID, apiKey := h.NewUser("teacher@school.edu")
	a := h.NewClient("laptop", userID, apiKey)
	b := h.NewClient("phone", userID, apiKey)

	studentID := NewID()
	keepID := NewID()
	a.Put("students", studentID, map[string]any{"firstName": "Maya", "lastName": "Chen"})
	a.Put("students", keepID, map[string]any{"firstName": "Omar", "lastName": "Diaz"})
	a.Sync()
	b.Sync()

	a.Delete("students", studentID)
	a.Sync()
	stats := b.Sync()
	if stats.Applied != 1 {
		t.Fatalf("phone pull: got %d applied, want the tombstone", stats.Applied)
	}

	if !b.Gone("students", studentID) {
		t.Error("phone still reads the deleted student")
	}
	if recs := b.Records("students"); len(recs) != 1 || recs[0].ID != keepID {
		t.Errorf("phone listing: got %d records, want only %s", len(recs), keepID)
	}

	// A device syncing the full history sees the insert and then the
	// tombstone, ending up without the record.
	c := h.NewClient("tablet", userID, apiKey)
	c.Sync()
	if !c.Gone("students", studentID) {
		t.Error("late joiner resurrected a deleted student")
	}
	AssertConverged(t, "students", a, b, c)
}

// An edit that raced a delete and lost stays deleted; the tombstone carries
// the higher version.
func TestDeleteWinsOverStaleEdit(t *testing.T) {
	h := NewHarness(t)
	userID, apiKey := h.NewUser("teacher@school.edu")
	a := h.NewClient("laptop", userID, apiKey)
	b := h.NewClient("phone", userID, apiKey)

	studentID := NewID()
	a.Put("students", studentID, map[string]any{"firstName": "Maya", "lastName": "Chen"})
	a.Sync()
	b.Sync()

	// Laptop advances to version 3 with an edit plus a delete; the phone's
	// lone edit only reaches version 2, even with the later timestamp.
	a.Put("students", studentID, map[string]any{"firstName": "Maya", "lastName": "Edited"})
	a.Delete("students", studentID)
	b.Put("students", studentID, map[string]any{"firstName": "Maya", "lastName": "Stale"})

	a.Sync()
	b.Sync()
	a.Sync()

	if !a.Gone("students", studentID) || !b.Gone("students", studentID) {
		t.Error("deleted student came back after a stale concurrent edit")
	}
}
