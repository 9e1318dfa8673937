// Package wire defines the build-ingest contract shared by the agent and the
// server: the BuildRecord payload and the defecttrend.v1.IngestService gRPC
// service.
//
// The service carries google.protobuf.Struct messages, so no generated code
// is needed. A BuildRecord travels as its JSON form inside the Struct:
//
//	{"job": "core", "number": 42, "label": "#42",
//	 "timestamp": "2026-01-01T00:00:00Z", "counts": {"error": 3, "style": 9}}
package wire
