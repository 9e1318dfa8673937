package types

import (
	"encoding/json"
	"fmt"
)

// Snapshot holds the finding counts of one build, one per severity.
// The zero value is an empty snapshot. Snapshots are values with no exported
// fields; once built they cannot be changed.
type Snapshot struct {
	counts [numSeverities]int
}

// NewSnapshot builds a Snapshot from per-severity counts. Severities missing
// from counts are zero. Negative counts and unknown severities are rejected.
func NewSnapshot(counts map[Severity]int) (Snapshot, error) {
	var s Snapshot
	for sev, n := range counts {
		if !sev.Valid() {
			return Snapshot{}, fmt.Errorf("snapshot: severity %d: %w", int(sev), ErrDataIntegrity)
		}
		if n < 0 {
			return Snapshot{}, fmt.Errorf("snapshot: %s count %d is negative: %w", sev, n, ErrDataIntegrity)
		}
		s.counts[sev] = n
	}
	return s, nil
}

// MustSnapshot is like NewSnapshot but panics on invalid input.
// Intended for literals in tests and examples.
func MustSnapshot(counts map[Severity]int) Snapshot {
	s, err := NewSnapshot(counts)
	if err != nil {
		panic(err)
	}
	return s
}

// SnapshotFromKeys builds a Snapshot from counts keyed by severity key
// ("error", "warning", ...), the form used in files and on the wire.
func SnapshotFromKeys(counts map[string]int) (Snapshot, error) {
	bySev := make(map[Severity]int, len(counts))
	for k, n := range counts {
		sev, ok := ParseSeverity(k)
		if !ok {
			return Snapshot{}, fmt.Errorf("snapshot: unknown severity %q: %w", k, ErrDataIntegrity)
		}
		bySev[sev] += n
	}
	return NewSnapshot(bySev)
}

// Count returns the number of findings for sev.
func (s Snapshot) Count(sev Severity) int {
	if !sev.Valid() {
		return 0
	}
	return s.counts[sev]
}

// Total returns the number of findings across all severities. It is always
// the sum of the per-severity counts; there is no separately stored total.
func (s Snapshot) Total() int {
	var total int
	for _, n := range s.counts {
		total += n
	}
	return total
}

// Keys returns the counts keyed by severity key, zero counts included.
func (s Snapshot) Keys() map[string]int {
	out := make(map[string]int, numSeverities)
	for _, sev := range Severities {
		out[sev.String()] = s.counts[sev]
	}
	return out
}

// MarshalJSON encodes the snapshot as {"error": n, ..., "total": n}.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := s.Keys()
	out["total"] = s.Total()
	return json.Marshal(out)
}
