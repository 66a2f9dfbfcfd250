package sync

// VersionPair captures the fields of one record version that matter for
// conflict resolution. It is compared as a total order: version, then
// updated-at timestamp, then originating client id (lexicographic). Every
// observer evaluating the same two pairs reaches the same winner, so clients
// and server converge without coordination.
type VersionPair struct {
	Version   int64
	UpdatedAt int64
	ClientID  string
}

// CandidateWins reports whether the candidate version should replace the
// currently stored one. A tombstone is an ordinary version here; a later
// update outranks an earlier delete and correctly undeletes.
//
// Equal pairs lose: replaying an already-applied change is a no-op, which is
// what makes pull application idempotent.
func CandidateWins(candidate, current VersionPair) bool {
	if candidate.Version != current.Version {
		return candidate.Version > current.Version
	}
	if candidate.UpdatedAt != current.UpdatedAt {
		return candidate.UpdatedAt > current.UpdatedAt
	}
	return candidate.ClientID > current.ClientID
}
