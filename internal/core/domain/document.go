package domain

// LedgerDocument is the unit of persistence: every user plus each user's
// entry sequence (newest first), keyed by user id. The store loads and saves
// it whole; derived BudgetState is deliberately absent.
type LedgerDocument struct {
	Users   []User                   `json:"users"`
	Entries map[string][]LedgerEntry `json:"entries"`
}

// Clone returns a deep-enough copy for handing to the store while the
// in-memory document keeps changing: slices and the entries map are copied,
// entry values are copied by assignment.
func (d LedgerDocument) Clone() LedgerDocument {
	clone := LedgerDocument{
		Users:   make([]User, len(d.Users)),
		Entries: make(map[string][]LedgerEntry, len(d.Entries)),
	}
	copy(clone.Users, d.Users)
	for userID, entries := range d.Entries {
		seq := make([]LedgerEntry, len(entries))
		copy(seq, entries)
		clone.Entries[userID] = seq
	}
	return clone
}
