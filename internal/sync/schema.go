package sync

import "encoding/json"

// Table describes one replicated collection and its row-scoping rule.
// OwnerField names the snapshot field holding the owning user id.
// SharedField, when non-empty, names a boolean field that admits the row for
// every user (system-provided defaults).
type Table struct {
	Name        string
	OwnerField  string
	SharedField string
}

// Tables is the fixed set of replicated collections. The same registry
// drives local collection initialization on the client and the row-scoping
// policy on the server.
var Tables = []Table{
	{Name: "students", OwnerField: "userId"},
	{Name: "contacts", OwnerField: "userId"},
	{Name: "communications", OwnerField: "userId"},
	{Name: "templates", OwnerField: "userId", SharedField: "isDefault"},
	{Name: "reminders", OwnerField: "userId"},
	// Settings rows are keyed by the user id itself.
	{Name: "settings", OwnerField: "id"},
}

// TableByName returns the table definition for name.
func TableByName(name string) (Table, bool) {
	for _, t := range Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// scopeFields is the subset of a snapshot the policy inspects.
type scopeFields map[string]any

// Owner returns the owning user id recorded in the snapshot, or "" when the
// field is absent or not a string.
func (t Table) Owner(data json.RawMessage) string {
	var f scopeFields
	if err := json.Unmarshal(data, &f); err != nil {
		return ""
	}
	owner, _ := f[t.OwnerField].(string)
	return owner
}

// Shared reports whether the snapshot is flagged as globally shared.
func (t Table) Shared(data json.RawMessage) bool {
	if t.SharedField == "" {
		return false
	}
	var f scopeFields
	if err := json.Unmarshal(data, &f); err != nil {
		return false
	}
	shared, _ := f[t.SharedField].(bool)
	return shared
}

// Allows reports whether the snapshot is within userID's scope: owned by the
// user, or flagged shared. Enforced on every push row and every pull row.
func (t Table) Allows(userID string, data json.RawMessage) bool {
	if userID == "" {
		return false
	}
	if t.Owner(data) == userID {
		return true
	}
	return t.Shared(data)
}
