// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - GRPCPort      port for the gRPC ingest receiver (default 50051)
//   - HTTPPort      port for the REST API, /metrics and WebSocket hub (default 8080)
//   - Auth.Mode     "apikey" or "none"
//   - Auth.KeyEnv   environment variable holding the expected API key
//   - Auth.Header   gRPC metadata/HTTP header name (default "x-api-key")
//   - Analysis      enabled severities, "All" series, health thresholds, chart size
//   - Storage       history file, flush interval, job retention
//   - Alerts        rules and webhooks
//
// Load(path) applies defaults before unmarshalling, then validates.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config; the server applies the Analysis
// section through a Holder so in-flight requests keep a consistent view.
package config
