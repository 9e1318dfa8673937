package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/defecttrend/defecttrend/pkg/health"
	"github.com/defecttrend/defecttrend/pkg/trend"
	"github.com/defecttrend/defecttrend/pkg/types"
	"github.com/defecttrend/defecttrend/pkg/wire"
	"github.com/defecttrend/defecttrend/server/internal/alerts"
	"github.com/defecttrend/defecttrend/server/internal/auth"
	"github.com/defecttrend/defecttrend/server/internal/config"
	"github.com/defecttrend/defecttrend/server/internal/receiver"
	"github.com/defecttrend/defecttrend/server/internal/store"
)

const maxIngestBody = 1 << 20

// Deps are the collaborators the API reads from and writes to.
// Alerts may be nil.
type Deps struct {
	Store    *store.Store
	Settings *config.Holder
	Ingest   *receiver.Receiver
	Alerts   *alerts.Engine
	Auth     auth.Policy
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	Deps
	mux *http.ServeMux
}

// New creates a Handler and registers all routes.
func New(d Deps) http.Handler {
	h := &Handler{Deps: d, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/jobs", h.listJobs)
	h.mux.HandleFunc("/api/v1/jobs/{job}/health", h.jobHealth)
	h.mux.HandleFunc("/api/v1/jobs/{job}/trend", h.jobTrend)
	h.mux.Handle("/api/v1/jobs/{job}/builds", auth.Middleware(d.Auth, http.HandlerFunc(h.ingest)))
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: liveness plus job and alert counts.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := HealthResponse{
		Status:      "ok",
		JobCount:    h.Store.Count(),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if h.Alerts != nil {
		for _, a := range h.Alerts.Active() {
			if a.State == alerts.StateFiring {
				resp.AlertCount++
			}
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

// listJobs returns GET /api/v1/jobs: every job with its newest build.
func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	cfg := h.Settings.Analysis()
	entries := h.Store.Jobs()
	out := make([]JobSummary, 0, len(entries))
	for _, e := range entries {
		if e.Head == nil || e.Head.Snapshot == nil {
			continue
		}
		s := JobSummary{
			Job:         e.Job,
			LatestBuild: e.Head.Build.Number,
			Label:       e.Head.Build.DisplayLabel(),
			Builds:      e.Builds,
			Total:       e.Head.Snapshot.Total(),
			UpdatedAt:   e.UpdatedAt.UTC().Format(time.RFC3339),
		}
		rep, err := health.Evaluate(cfg, *e.Head.Snapshot, cfg.FilterHealth)
		switch {
		case err == nil:
			s.Health = &rep
		case !errors.Is(err, types.ErrNoHealthData):
			slog.Warn("api: health evaluation failed", "job", e.Job, "err", err)
		}
		out = append(out, s)
	}
	jsonResp(w, http.StatusOK, out)
}

// jobHealth returns GET /api/v1/jobs/{job}/health[?filtered=bool].
func (h *Handler) jobHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	job := r.PathValue("job")
	head := h.Store.Head(job)
	if head == nil {
		jsonErr(w, http.StatusNotFound, "job not found")
		return
	}
	if head.Snapshot == nil {
		jsonErr(w, http.StatusUnprocessableEntity, types.ErrDataIntegrity.Error())
		return
	}

	cfg := h.Settings.Analysis()
	filtered := cfg.FilterHealth
	if v := r.URL.Query().Get("filtered"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, fmt.Sprintf("filtered: %q is not a boolean", v))
			return
		}
		filtered = b
	}

	resp := JobHealthResponse{
		Job:    job,
		Build:  head.Build.Number,
		Label:  head.Build.DisplayLabel(),
		Counts: *head.Snapshot,
	}
	rep, err := health.Evaluate(cfg, *head.Snapshot, filtered)
	switch {
	case err == nil:
		resp.Health = &rep
	case errors.Is(err, types.ErrNoHealthData):
	default:
		writeError(w, err)
		return
	}
	if d, ok := trend.DeltaKeys(cfg, head); ok {
		resp.Delta = d
	}
	resp.Diagnostics = computeDiagnostics(cfg, head, resp.Health)
	jsonResp(w, http.StatusOK, resp)
}

// jobTrend returns GET /api/v1/jobs/{job}/trend: the chart series.
// Responds 304 when If-Modified-Since is not older than the newest build or
// the last settings change, whichever is later.
func (h *Handler) jobTrend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	job := r.PathValue("job")
	head := h.Store.Head(job)
	if head == nil {
		jsonErr(w, http.StatusNotFound, "job not found")
		return
	}

	lastMod := head.Build.Timestamp
	if u := h.Settings.Updated(); u.After(lastMod) {
		lastMod = u
	}
	lastMod = lastMod.UTC().Truncate(time.Second)
	if ims := r.Header.Get("If-Modified-Since"); ims != "" {
		if t, err := http.ParseTime(ims); err == nil && !lastMod.After(t) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	resp, err := BuildTrend(h.Settings.Analysis(), job, head)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Last-Modified", lastMod.Format(http.TimeFormat))
	jsonResp(w, http.StatusOK, resp)
}

// ingest handles POST /api/v1/jobs/{job}/builds. The job in the path wins;
// a conflicting job in the body is rejected.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	job := r.PathValue("job")

	var rec wire.BuildRecord
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		jsonErr(w, http.StatusBadRequest, "decode body: "+err.Error())
		return
	}
	if rec.Job != "" && rec.Job != job {
		jsonErr(w, http.StatusBadRequest, fmt.Sprintf("body job %q does not match path job %q", rec.Job, job))
		return
	}
	rec.Job = job

	head, err := h.Ingest.Accept(rec)
	switch {
	case errors.Is(err, receiver.ErrInvalidRecord):
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, store.ErrStaleBuild):
		jsonErr(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, err)
		return
	}

	e, _ := h.Store.Get(job)
	jsonResp(w, http.StatusCreated, IngestResponse{Job: job, Number: head.Build.Number, Builds: e.Builds})
}

// alerts returns GET /api/v1/alerts: firing and recently resolved alerts.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.Alerts == nil {
		jsonResp(w, http.StatusOK, []struct{}{})
		return
	}
	jsonResp(w, http.StatusOK, h.Alerts.Active())
}

// BuildTrend assembles the chart payload for job. It is shared with the
// WebSocket hub so both surfaces carry identical data.
func BuildTrend(cfg types.SeverityConfig, job string, head *types.HistoryNode) (TrendResponse, error) {
	points, err := trend.BuildSeries(cfg, head)
	if err != nil {
		return TrendResponse{}, err
	}
	builds, err := trend.Len(head, cfg.MaxBuilds())
	if err != nil {
		return TrendResponse{}, err
	}

	series := make([]string, 0, len(types.Severities)+1)
	for _, sev := range cfg.EnabledSeverities() {
		series = append(series, sev.DisplayName())
	}
	if cfg.DisplayAll {
		series = append(series, types.AllSeries)
	}

	return TrendResponse{
		Job:    job,
		Width:  cfg.Chart.Width,
		Height: cfg.Chart.Height,
		Series: series,
		Builds: builds,
		Points: points,
	}, nil
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// writeError maps the domain error kinds to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrDataIntegrity):
		jsonErr(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, types.ErrConfiguration):
		slog.Error("api: invalid analysis configuration", "err", err)
		jsonErr(w, http.StatusInternalServerError, err.Error())
	default:
		slog.Error("api: request failed", "err", err)
		jsonErr(w, http.StatusInternalServerError, "internal error")
	}
}
