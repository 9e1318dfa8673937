// Package trend turns a job's build history into chart series.
//
// BuildSeries walks a HistoryNode chain from the newest build towards the
// oldest and emits one Point per (build, enabled severity), plus an "All"
// point per build when the configuration asks for it. Points come out in
// walk order (newest first); a renderer sorts them as it needs.
//
// The walk is guarded: it stops after SeverityConfig.MaxBuilds nodes and
// fails with types.ErrDataIntegrity on a cycle or a node with no snapshot.
// Persisted history crosses process boundaries, so neither is assumed away.
package trend
