package shipper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/defecttrend/defecttrend/agent/internal/config"
	"github.com/defecttrend/defecttrend/pkg/wire"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 30 * time.Second
	backoffMultiplier = 2.0
)

// ErrRejected wraps errors the server will keep returning for the same record.
var ErrRejected = errors.New("shipper: record rejected")

// Ack is the server's acknowledgement of a recorded build.
type Ack struct {
	Job    string
	Number int
	// Builds is the job's history length after the record was stored.
	Builds int
}

// Shipper delivers build records to defecttrend-server via the
// IngestService.RecordBuild unary RPC.
type Shipper struct {
	cfg          config.AgentConfig
	dialFn       dialFunc // injectable for tests
	backoffStart time.Duration
}

// dialFunc is the function signature used to open a gRPC connection.
// Abstracted so tests can dial an in-process server.
type dialFunc func(ctx context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error)

// New creates a Shipper using the given agent config.
func New(cfg config.AgentConfig) *Shipper {
	return &Shipper{
		cfg:          cfg,
		dialFn:       defaultDial,
		backoffStart: backoffInitial,
	}
}

// Ship sends rec and waits for the acknowledgement. Transient failures
// (server unavailable, deadline exceeded) are retried with exponential
// backoff up to cfg.ShipRetries times. Permanent failures are returned
// wrapped in ErrRejected without retrying.
func (s *Shipper) Ship(ctx context.Context, rec wire.BuildRecord) (Ack, error) {
	if err := rec.Validate(); err != nil {
		return Ack{}, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	if s.cfg.ServerEndpoint == "" {
		return Ack{}, fmt.Errorf("shipper: server endpoint is not configured")
	}

	conn, err := s.dialFn(ctx, s.cfg.ServerEndpoint, s.cfg)
	if err != nil {
		return Ack{}, fmt.Errorf("shipper: dial %s: %w", s.cfg.ServerEndpoint, err)
	}
	defer conn.Close()

	bo := newBackoff(s.backoffStart)
	for attempt := 0; ; attempt++ {
		reply, err := s.send(ctx, conn, rec)
		if err == nil {
			ack := ackFromReply(reply)
			slog.Info("shipper: build recorded",
				"job", ack.Job, "build", ack.Number, "builds", ack.Builds)
			return ack, nil
		}

		if ctx.Err() != nil {
			return Ack{}, ctx.Err()
		}
		if isPermanentError(err) {
			return Ack{}, fmt.Errorf("%w: %s", ErrRejected, status.Convert(err).Message())
		}
		if attempt >= s.cfg.ShipRetries {
			return Ack{}, fmt.Errorf("shipper: giving up after %d attempts: %w", attempt+1, err)
		}

		wait := bo.next()
		slog.Warn("shipper: send failed, will retry",
			"endpoint", s.cfg.ServerEndpoint,
			"job", rec.Job,
			"attempt", attempt+1,
			"err", err,
			"retry_in", wait)
		select {
		case <-ctx.Done():
			return Ack{}, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *Shipper) send(ctx context.Context, conn grpc.ClientConnInterface, rec wire.BuildRecord) (*structpb.Struct, error) {
	timeout := s.cfg.ShipTimeout
	if timeout <= 0 {
		timeout = config.DefaultShipTimeout
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if s.cfg.ServerAuth.Mode == "apikey" && s.cfg.ServerAuth.KeyEnv != "" {
		sendCtx = metadata.AppendToOutgoingContext(
			sendCtx,
			s.cfg.ServerAuth.EffectiveHeader(), s.cfg.ServerAuth.Key(),
		)
	}
	return wire.RecordBuild(sendCtx, conn, rec)
}

func ackFromReply(reply *structpb.Struct) Ack {
	f := reply.GetFields()
	return Ack{
		Job:    f["job"].GetStringValue(),
		Number: int(f["number"].GetNumberValue()),
		Builds: int(f["builds"].GetNumberValue()),
	}
}

// isPermanentError returns true for gRPC errors that indicate the record
// itself is unacceptable and should not be retried.
func isPermanentError(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return false
	}
	return true
}

// defaultDial opens a gRPC connection to endpoint with auth configured from cfg.
func defaultDial(ctx context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error) {
	opts, err := dialOptions(cfg)
	if err != nil {
		return nil, err
	}
	return grpc.DialContext(ctx, endpoint, opts...) //nolint:staticcheck // deprecated in 1.63 but DialContext is used for compat
}

// dialOptions builds grpc.DialOption slice based on the server auth config.
func dialOptions(cfg config.AgentConfig) ([]grpc.DialOption, error) {
	if cfg.ServerAuth.Mode == "mtls" {
		creds, err := buildMTLSCreds(cfg.ServerAuth)
		if err != nil {
			return nil, fmt.Errorf("shipper: build mtls creds: %w", err)
		}
		return []grpc.DialOption{grpc.WithTransportCredentials(creds)}, nil
	}
	// apikey is sent per call as metadata; none is plaintext for local use.
	return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
}

// buildMTLSCreds loads client certificate and optional CA from the auth config.
func buildMTLSCreds(auth config.AuthConfig) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
	}

	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	return credentials.NewTLS(tlsCfg), nil
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff(initial time.Duration) *backoff {
	return &backoff{current: initial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// ±25% jitter
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}
