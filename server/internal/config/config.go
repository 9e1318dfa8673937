package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/defecttrend/defecttrend/pkg/types"
)

// Defaults applied before the file is decoded.
const (
	DefaultGRPCPort      = 50051
	DefaultHTTPPort      = 8080
	DefaultStoragePath   = "defecttrend-history.json"
	DefaultFlushInterval = 30 * time.Second
	DefaultAPIKeyHeader  = "x-api-key"
)

// Config is the `server:` section of config.yaml. Other top-level keys, such
// as `agent:`, are ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds every server-side setting.
type ServerConfig struct {
	GRPCPort int `yaml:"grpc_port"`
	HTTPPort int `yaml:"http_port"`

	// Auth guards build ingest on both gRPC and HTTP.
	Auth AuthConfig `yaml:"auth"`

	// Analysis is the only section applied on hot reload.
	Analysis types.SeverityConfig `yaml:"analysis"`

	Storage StorageConfig `yaml:"storage"`
	Alerts  AlertsConfig  `yaml:"alerts"`
}

// AuthConfig selects how ingest clients authenticate.
type AuthConfig struct {
	// Mode is apikey or none.
	Mode string `yaml:"mode"`

	// KeyEnv names the environment variable holding the expected key.
	KeyEnv string `yaml:"key_env"`

	// Header carries the key, as gRPC metadata or an HTTP header.
	Header string `yaml:"header"`
}

// Key resolves the expected API key, or "" when KeyEnv is unset.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader is Header, falling back to DefaultAPIKeyHeader.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header == "" {
		return DefaultAPIKeyHeader
	}
	return a.Header
}

// StorageConfig places the history file and bounds how long idle jobs live.
type StorageConfig struct {
	// Path of the JSON history file. Empty keeps history in memory only.
	Path string `yaml:"path"`

	FlushInterval time.Duration `yaml:"flush_interval"`

	// Retention evicts jobs with no build recorded for this long. Zero
	// disables eviction.
	Retention time.Duration `yaml:"retention"`
}

// AlertsConfig lists alert rules and where firing alerts are delivered.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule is one condition checked against every recorded build.
type AlertRule struct {
	// Name identifies the rule; together with the job it deduplicates alerts.
	Name string `yaml:"name"`

	// Condition is "<field> <op> <value>", e.g. "health < 60", "error > 0",
	// "new_total >= 5" or "state == critical".
	Condition string `yaml:"condition"`

	// Severity is critical, warning or info.
	Severity string `yaml:"severity"`

	// Cooldown blocks re-fires for this long; zero means 15 minutes.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig is one delivery target.
type WebhookConfig struct {
	// Type is slack, teams or http.
	Type string `yaml:"type"`

	// URLEnv names the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL resolves the webhook URL, or "" when URLEnv is unset.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Load reads path, layers it over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
			Analysis: types.DefaultSeverityConfig(),
			Storage: StorageConfig{
				Path:          DefaultStoragePath,
				FlushInterval: DefaultFlushInterval,
			},
		},
	}
}

func validate(cfg *Config) error {
	sc := cfg.Server
	for name, port := range map[string]int{"grpc_port": sc.GRPCPort, "http_port": sc.HTTPPort} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("server.%s %d is out of range [1, 65535]", name, port)
		}
	}
	if sc.GRPCPort == sc.HTTPPort {
		return fmt.Errorf("server.grpc_port and server.http_port must differ")
	}
	switch sc.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", sc.Auth.Mode)
	}
	if err := sc.Analysis.Validate(); err != nil {
		return fmt.Errorf("server.analysis: %w", err)
	}
	if sc.Storage.FlushInterval < 0 || sc.Storage.Retention < 0 {
		return fmt.Errorf("server.storage: flush_interval and retention must not be negative")
	}
	for i, r := range sc.Alerts.Rules {
		switch {
		case r.Name == "":
			return fmt.Errorf("server.alerts.rules[%d]: name is required", i)
		case r.Condition == "":
			return fmt.Errorf("server.alerts.rules[%d] %q: condition is required", i, r.Name)
		}
	}
	for i, w := range sc.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d]: unknown type %q", i, w.Type)
		}
	}
	return nil
}
