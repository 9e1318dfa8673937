// Package types defines the data model shared by the agent and the server:
// severities, per-build Snapshot counts, the HistoryNode build chain and the
// SeverityConfig that filters both health scoring and trend series.
//
// Snapshot and HistoryNode values are treated as immutable once built, so
// they can be read from many goroutines without locking.
package types
