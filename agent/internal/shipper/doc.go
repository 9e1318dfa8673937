// Package shipper sends build records to defecttrend-server via gRPC
// (IngestService.RecordBuild unary RPC, protobuf Struct payload).
//
// Ship() blocks until the server acknowledges the record. Transient gRPC
// errors (Unavailable, DeadlineExceeded, ResourceExhausted, Aborted) are
// retried with truncated exponential backoff (1s doubling to 30s, ±25%
// jitter) up to ship_retries times. Everything else, including
// InvalidArgument and FailedPrecondition for a stale build number, is
// returned at once wrapped in ErrRejected.
//
// Auth: mTLS via credentials.NewTLS(), API key via gRPC metadata header,
// or insecure (plaintext) for local development.
//
// The dialFn field is injectable for testing.
package shipper
