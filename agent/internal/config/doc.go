// Package config loads the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent}: the `agent:` section; `server:` is ignored
//   - AgentConfig: server_endpoint, server_auth, ship_timeout, ship_retries,
//     job, report, analysis
//   - ReportSource: location (file or URL), format (cppcheck|prometheus),
//     metric, severity_label, auth, tls
//   - AuthConfig: mode (mtls|apikey|bearer|basic|none) and the env-resolved
//     secrets for each mode
//
// Load(path) reads the YAML file, applies Defaults (10s ship timeout, 5
// retries, cppcheck format, every severity charted), then validates enums.
package config
