package api

import (
	"github.com/defecttrend/defecttrend/pkg/health"
	"github.com/defecttrend/defecttrend/pkg/trend"
	"github.com/defecttrend/defecttrend/pkg/types"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status      string `json:"status"`
	JobCount    int    `json:"job_count"`
	AlertCount  int    `json:"alert_count"`
	GeneratedAt string `json:"generated_at"` // RFC3339
}

// JobSummary is one entry in GET /api/v1/jobs.
type JobSummary struct {
	Job         string         `json:"job"`
	LatestBuild int            `json:"latest_build"`
	Label       string         `json:"label"`
	Builds      int            `json:"builds"`
	Total       int            `json:"total"`
	Health      *health.Report `json:"health"`
	UpdatedAt   string         `json:"updated_at"` // RFC3339
}

// JobHealthResponse is the payload for GET /api/v1/jobs/{job}/health.
// Health is null when no thresholds are configured. Delta is omitted for a
// job's first build.
type JobHealthResponse struct {
	Job         string           `json:"job"`
	Build       int              `json:"build"`
	Label       string           `json:"label"`
	Counts      types.Snapshot   `json:"counts"`
	Health      *health.Report   `json:"health"`
	Delta       map[string]int   `json:"delta,omitempty"`
	Diagnostics []DiagnosticHint `json:"diagnostics"`
}

// TrendResponse is the payload for GET /api/v1/jobs/{job}/trend and the data
// of every WebSocket trend event.
type TrendResponse struct {
	Job    string        `json:"job"`
	Width  int           `json:"width"`
	Height int           `json:"height"`
	Series []string      `json:"series"`
	Builds int           `json:"builds"`
	Points []trend.Point `json:"points"`
}

// IngestResponse is the payload for POST /api/v1/jobs/{job}/builds.
type IngestResponse struct {
	Job    string `json:"job"`
	Number int    `json:"number"`
	Builds int    `json:"builds"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
