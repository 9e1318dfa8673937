package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ModeAPIKey enables key checking.
const ModeAPIKey = "apikey"

// Policy describes which key is expected and where to find it.
type Policy struct {
	Mode   string
	Header string // lowercase gRPC metadata key / HTTP header name
	Key    string
}

// NewPolicy returns a Policy; header is lowercased to match gRPC metadata.
func NewPolicy(mode, header, key string) Policy {
	return Policy{Mode: mode, Header: strings.ToLower(header), Key: key}
}

// Enabled reports whether requests must carry a key.
func (p Policy) Enabled() bool {
	return p.Mode == ModeAPIKey && p.Key != ""
}

// Allow reports whether presented matches the expected key.
func (p Policy) Allow(presented string) bool {
	if !p.Enabled() {
		return true
	}
	return presented != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(p.Key)) == 1
}

// APIKeyInterceptor returns a gRPC UnaryServerInterceptor enforcing p.
// A missing, empty, or incorrect key returns codes.Unauthenticated.
func APIKeyInterceptor(p Policy) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !p.Enabled() {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		var presented string
		if vals := md.Get(p.Header); len(vals) > 0 {
			presented = vals[0]
		}
		if !p.Allow(presented) {
			return nil, status.Error(codes.Unauthenticated, "invalid api key")
		}

		return handler(ctx, req)
	}
}

// Middleware wraps next so that requests without a valid key get 401.
func Middleware(p Policy, next http.Handler) http.Handler {
	if !p.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !p.Allow(r.Header.Get(p.Header)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
