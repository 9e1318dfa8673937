package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/defecttrend/defecttrend/pkg/types"
	"github.com/defecttrend/defecttrend/pkg/wire"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultShipTimeout   = 10 * time.Second
	DefaultShipRetries   = 5
	DefaultFormat        = FormatCppcheck
	DefaultMetric        = "cppcheck_findings"
	DefaultSeverityLabel = "severity"
)

// Report formats.
const (
	FormatCppcheck   = "cppcheck"
	FormatPrometheus = "prometheus"
)

// Config is the top-level agent configuration. The `server:` key of a shared
// config.yaml is ignored by the agent binary.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerEndpoint is the gRPC address of defecttrend-server (host:port).
	// Required by push; the health command works offline.
	ServerEndpoint string `yaml:"server_endpoint"`

	// ServerAuth configures how the agent authenticates to defecttrend-server.
	// Supports mtls | apikey | none.
	ServerAuth AuthConfig `yaml:"server_auth"`

	// ShipTimeout bounds a single RecordBuild call.
	ShipTimeout time.Duration `yaml:"ship_timeout"`

	// ShipRetries is how many times a transient failure is retried.
	ShipRetries int `yaml:"ship_retries"`

	// Job names the build job the report belongs to.
	Job string `yaml:"job"`

	// Report describes where the analysis results come from.
	Report ReportSource `yaml:"report"`

	// Analysis is used by the health command to evaluate a report locally.
	Analysis types.SeverityConfig `yaml:"analysis"`
}

// ReportSource describes one analysis report.
type ReportSource struct {
	// Location is a file path or an http(s) URL.
	Location string `yaml:"location"`

	// Format is cppcheck (XML) or prometheus (text exposition).
	Format string `yaml:"format"`

	// Metric is the metric family holding the counts (prometheus format).
	Metric string `yaml:"metric"`

	// SeverityLabel is the label carrying the severity (prometheus format).
	SeverityLabel string `yaml:"severity_label"`

	// Auth configures how the agent authenticates when Location is a URL.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds optional TLS dial options for URL locations.
	TLS TLSConfig `yaml:"tls"`
}

// IsURL reports whether the report is fetched over HTTP.
func (r ReportSource) IsURL() bool {
	return strings.HasPrefix(r.Location, "http://") || strings.HasPrefix(r.Location, "https://")
}

// AuthConfig specifies an authentication mode.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// API key fields, used when Mode == "apikey".
	// Header is the HTTP header or gRPC metadata key to send the key in.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// Bearer token fields, used when Mode == "bearer".
	TokenEnv string `yaml:"token_env"`

	// Basic auth fields, used when Mode == "basic".
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// EffectiveHeader returns Header, or "x-api-key" when unset.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// TLSConfig holds TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config pre-populated with default values. The CLI uses
// it directly when no config file is given.
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			ShipTimeout: DefaultShipTimeout,
			ShipRetries: DefaultShipRetries,
			Report: ReportSource{
				Format:        DefaultFormat,
				Metric:        DefaultMetric,
				SeverityLabel: DefaultSeverityLabel,
			},
			Analysis: types.DefaultSeverityConfig(),
		},
	}
}

// Validate checks structural constraints and enums. Required-ness of the
// server endpoint, job and report location is left to the command using them.
func Validate(cfg *Config) error {
	a := cfg.Agent
	if a.ShipTimeout <= 0 {
		return fmt.Errorf("agent.ship_timeout must be positive")
	}
	if a.ShipRetries < 0 {
		return fmt.Errorf("agent.ship_retries must not be negative")
	}
	if a.Job != "" && !wire.ValidJobName(a.Job) {
		return fmt.Errorf("agent.job %q is not a valid job name", a.Job)
	}
	switch a.Report.Format {
	case FormatCppcheck, FormatPrometheus:
	default:
		return fmt.Errorf("agent.report.format %q unknown: want cppcheck|prometheus", a.Report.Format)
	}
	if a.Report.Format == FormatPrometheus && a.Report.Metric == "" {
		return fmt.Errorf("agent.report.metric is required for prometheus reports")
	}
	switch a.Report.Auth.Mode {
	case "mtls", "apikey", "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("agent.report.auth.mode %q unknown", a.Report.Auth.Mode)
	}
	switch a.ServerAuth.Mode {
	case "mtls", "apikey", "none", "":
	default:
		return fmt.Errorf("agent.server_auth.mode %q unknown: want mtls|apikey|none", a.ServerAuth.Mode)
	}
	if err := a.Analysis.Validate(); err != nil {
		return fmt.Errorf("agent.analysis: %w", err)
	}
	return nil
}
