// Package store holds per-job build history in memory. Each job maps to the
// head of a linked history chain (newest first); Record only ever prepends.
// History is flushed to a versioned JSON document on disk and reloaded on
// startup, with older document versions migrated record by record.
package store
