// Package ingest turns an analyser report into a severity Snapshot.
//
// Two report formats are understood: cppcheck XML (cppcheck.go, both the
// version 2 layout with an <errors> wrapper and the older flat layout) and
// Prometheus text exposition (prom.go), where one metric family carries a
// count per severity label.
//
// Reports are read from a local file or fetched over HTTP (fetch.go). HTTP
// authentication (API key, bearer token, basic, mTLS) is handled by the
// shared authRoundTripper; Load combines fetching and parsing.
package ingest
