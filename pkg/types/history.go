package types

import (
	"strconv"
	"time"
)

// Build identifies one analysed build of a job.
type Build struct {
	Number    int
	Label     string
	Timestamp time.Time
}

// DisplayLabel returns Label, or the build number when no label was given.
func (b Build) DisplayLabel() string {
	if b.Label != "" {
		return b.Label
	}
	return strconv.Itoa(b.Number)
}

// HistoryNode is one build in a job's history chain, linked to the build
// before it. Chains run newest to oldest and only grow at the newest end:
// callers must not modify a node once it has been linked.
type HistoryNode struct {
	Build    Build
	Snapshot *Snapshot
	Previous *HistoryNode
}

// Prepend returns a new head node for b whose Previous is n.
// n may be nil, which starts a new chain.
func (n *HistoryNode) Prepend(b Build, snap Snapshot) *HistoryNode {
	return &HistoryNode{Build: b, Snapshot: &snap, Previous: n}
}
