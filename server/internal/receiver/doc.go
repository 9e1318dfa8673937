// Package receiver implements wire.IngestServer, the gRPC endpoint that
// accepts build records from defecttrend agents.
//
// Receiver.Accept holds the validation shared by gRPC and the HTTP ingest
// route. Over gRPC, malformed records map to codes.InvalidArgument and a
// build number that does not advance the job's history maps to
// codes.FailedPrecondition. Authentication happens upstream in the
// server interceptor (see package auth).
package receiver
