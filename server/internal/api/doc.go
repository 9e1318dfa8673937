// Package api implements the HTTP REST API for defecttrend-server.
//
// New(deps) returns an http.Handler that serves:
//
//	GET  /api/v1/health                  liveness, job and firing alert counts
//	GET  /api/v1/jobs                    every job with its newest build and health
//	GET  /api/v1/jobs/{job}/health       health report, delta and hints; ?filtered=bool
//	GET  /api/v1/jobs/{job}/trend        chart series; honours If-Modified-Since
//	POST /api/v1/jobs/{job}/builds       build record ingest (API key protected)
//	GET  /api/v1/alerts                  firing and recently resolved alerts
//
// All endpoints respond with Content-Type: application/json and return 405
// for unsupported methods. Unknown jobs yield 404. Broken history yields 422
// and invalid analysis settings yield 500.
//
// JSON types are defined in types.go. No external HTTP framework is used.
package api
