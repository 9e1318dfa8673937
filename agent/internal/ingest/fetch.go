package ingest

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/common/expfmt"

	"github.com/defecttrend/defecttrend/agent/internal/config"
	"github.com/defecttrend/defecttrend/pkg/types"
)

const defaultFetchTimeout = 10 * time.Second

// maxReportBytes caps report size. Larger reports are rejected rather than
// truncated.
var maxReportBytes int64 = 64 << 20

// Load fetches the report described by src and parses it according to
// src.Format.
func Load(ctx context.Context, src config.ReportSource) (types.Snapshot, error) {
	data, err := Fetch(ctx, src)
	if err != nil {
		return types.Snapshot{}, err
	}
	return Parse(src, bytes.NewReader(data))
}

// Parse decodes r according to src.Format.
func Parse(src config.ReportSource, r io.Reader) (types.Snapshot, error) {
	switch src.Format {
	case config.FormatCppcheck, "":
		return ParseCppcheck(r)
	case config.FormatPrometheus:
		return ParsePrometheus(r, src.Metric, src.SeverityLabel)
	default:
		return types.Snapshot{}, fmt.Errorf("ingest: unsupported format %q", src.Format)
	}
}

// Fetch returns the raw report bytes. Locations starting with http:// or
// https:// are fetched with GET; anything else is read from disk.
func Fetch(ctx context.Context, src config.ReportSource) ([]byte, error) {
	if src.Location == "" {
		return nil, fmt.Errorf("ingest: report location is empty")
	}
	if !src.IsURL() {
		return readFile(src.Location)
	}
	client, err := buildHTTPClient(src)
	if err != nil {
		return nil, fmt.Errorf("ingest: build http client: %w", err)
	}
	return fetchURL(ctx, client, src)
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open report: %w", err)
	}
	defer f.Close()
	return readLimited(f, path)
}

// readLimited reads all of r, failing when it holds more than maxReportBytes.
func readLimited(r io.Reader, name string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxReportBytes+1))
	if err != nil {
		return nil, fmt.Errorf("ingest: read %s: %w", name, err)
	}
	if int64(len(data)) > maxReportBytes {
		return nil, fmt.Errorf("ingest: %s exceeds %d bytes: %w", name, maxReportBytes, types.ErrDataIntegrity)
	}
	return data, nil
}

func fetchURL(ctx context.Context, client *http.Client, src config.ReportSource) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.Location, nil)
	if err != nil {
		return nil, fmt.Errorf("ingest: build request: %w", err)
	}
	if src.Format == config.FormatPrometheus {
		req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	} else {
		req.Header.Set("Accept", "application/xml, text/xml")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingest: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ingest: %s: unexpected status %d", src.Location, resp.StatusCode)
	}
	return readLimited(resp.Body, src.Location)
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.EffectiveHeader(), t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the report's auth and TLS settings.
func buildHTTPClient(src config.ReportSource) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: src.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}

	if src.Auth.Mode == "mtls" {
		cert, err := tls.LoadX509KeyPair(src.Auth.CertFile, src.Auth.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}

		if src.Auth.CAFile != "" {
			pool, err := loadCertPool(src.Auth.CAFile)
			if err != nil {
				return nil, err
			}
			tlsCfg.RootCAs = pool
		}
	}

	return &http.Client{
		Transport: &authRoundTripper{
			base: &http.Transport{TLSClientConfig: tlsCfg},
			auth: src.Auth,
		},
		Timeout: defaultFetchTimeout,
	}, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no valid certs found in ca file %q", path)
	}
	return pool, nil
}
