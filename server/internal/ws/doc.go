// Package ws implements the WebSocket hub for defecttrend-server, mounted at
// /ws/stream.
//
// On connect a client receives a hello listing the known jobs, followed by
// the current trend of each job. After that, every recorded build pushes that
// job's trend to all clients, and a settings reload pushes every trend again.
//
//	{"event": "hello", "jobs": ["core", "web"]}
//	{"event": "trend", "job": "core", "data": { /* GET /api/v1/jobs/core/trend */ }}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level.
package ws
