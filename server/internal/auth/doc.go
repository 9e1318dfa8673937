// Package auth enforces API key authentication on build ingest.
//
// A Policy is built once from config. APIKeyInterceptor applies it to gRPC
// calls (key read from incoming metadata) and Middleware applies it to HTTP
// requests (key read from the request header of the same name). When the
// mode is not "apikey" or no key is configured, everything passes through.
package auth
