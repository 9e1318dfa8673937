package api_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/defecttrend/defecttrend/pkg/types"
	"github.com/defecttrend/defecttrend/server/internal/alerts"
	"github.com/defecttrend/defecttrend/server/internal/api"
	"github.com/defecttrend/defecttrend/server/internal/auth"
	"github.com/defecttrend/defecttrend/server/internal/config"
	"github.com/defecttrend/defecttrend/server/internal/receiver"
	"github.com/defecttrend/defecttrend/server/internal/store"
)

// --- test helpers -----------------------------------------------------------

var ts = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func analysis() types.SeverityConfig {
	return types.SeverityConfig{
		Severities:   types.SeverityFlags{Error: true, Warning: true},
		DisplayAll:   true,
		FilterHealth: true,
		Health:       types.NewThresholds(1, 10),
		Chart:        types.ChartConfig{Width: 500, Height: 200},
	}
}

// coreStore holds job "core" with two builds:
//
//	#1 error 3, warning 1, style 5
//	#2 error 5, warning 0, style 2
func coreStore() *store.Store {
	st := store.New(0)
	st.Record("core", types.Build{Number: 1, Timestamp: ts},
		types.MustSnapshot(map[types.Severity]int{types.SeverityError: 3, types.SeverityWarning: 1, types.SeverityStyle: 5}))
	st.Record("core", types.Build{Number: 2, Timestamp: ts.Add(time.Hour)},
		types.MustSnapshot(map[types.Severity]int{types.SeverityError: 5, types.SeverityStyle: 2}))
	return st
}

func newHandler(st *store.Store, cfg types.SeverityConfig) http.Handler {
	return api.New(api.Deps{
		Store:    st,
		Settings: config.NewHolder(cfg),
		Ingest:   receiver.New(st),
	})
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func post(t *testing.T, h http.Handler, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- /api/v1/health ---------------------------------------------------------

func TestHealth(t *testing.T) {
	st := coreStore()
	eng := alerts.New(config.AlertsConfig{
		Rules: []config.AlertRule{{Name: "errors", Condition: "error > 0"}},
	}, analysis)
	st.Subscribe(eng.Evaluate)
	st.Record("core", types.Build{Number: 3}, types.MustSnapshot(map[types.Severity]int{types.SeverityError: 1}))
	eng.Wait()

	h := api.New(api.Deps{Store: st, Settings: config.NewHolder(analysis()), Ingest: receiver.New(st), Alerts: eng})
	rr := get(t, h, "/api/v1/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.Status != "ok" || resp.JobCount != 1 || resp.AlertCount != 1 {
		t.Errorf("health: got %+v", resp)
	}
}

func TestHealth_MethodNotAllowed(t *testing.T) {
	h := newHandler(store.New(0), analysis())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/health", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}

// --- /api/v1/jobs -----------------------------------------------------------

func TestListJobs(t *testing.T) {
	st := coreStore()
	st.Record("web", types.Build{Number: 9, Label: "v9"}, types.Snapshot{})
	rr := get(t, newHandler(st, analysis()), "/api/v1/jobs")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp []api.JobSummary
	decode(t, rr, &resp)
	if len(resp) != 2 {
		t.Fatalf("jobs: got %d, want 2", len(resp))
	}
	core := resp[0]
	if core.Job != "core" || core.LatestBuild != 2 || core.Builds != 2 || core.Total != 7 {
		t.Errorf("core: got %+v", core)
	}
	if core.Health == nil || core.Health.Score != 56 {
		t.Errorf("core health: got %+v, want score 56", core.Health)
	}
	if resp[1].Label != "v9" {
		t.Errorf("web label: got %q, want v9", resp[1].Label)
	}
}

func TestListJobs_Empty(t *testing.T) {
	rr := get(t, newHandler(store.New(0), analysis()), "/api/v1/jobs")
	var resp []interface{}
	decode(t, rr, &resp)
	if len(resp) != 0 {
		t.Errorf("jobs: got %d items, want 0", len(resp))
	}
}

func TestListJobs_HealthErrorLogged(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := analysis()
	cfg.Health = types.NewThresholds(10, 1)
	rr := get(t, newHandler(coreStore(), cfg), "/api/v1/jobs")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp []api.JobSummary
	decode(t, rr, &resp)
	if len(resp) != 1 || resp[0].Health != nil {
		t.Fatalf("jobs: got %+v, want core without health", resp)
	}
	if log := buf.String(); !strings.Contains(log, "health evaluation failed") || !strings.Contains(log, "job=core") {
		t.Errorf("log: got %q, want a health warning for core", log)
	}
}

func TestListJobs_NoThresholdsNotLogged(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := analysis()
	cfg.Health = types.Thresholds{}
	get(t, newHandler(coreStore(), cfg), "/api/v1/jobs")
	if strings.Contains(buf.String(), "health evaluation failed") {
		t.Errorf("log: got %q, want no warning when health is disabled", buf.String())
	}
}

// --- /api/v1/jobs/{job}/health ----------------------------------------------

func TestJobHealth_Filtered(t *testing.T) {
	rr := get(t, newHandler(coreStore(), analysis()), "/api/v1/jobs/core/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}
	var resp api.JobHealthResponse
	decode(t, rr, &resp)

	// filtered count 5 with thresholds 1..10 => 100 - 100*4/9 = 56
	if resp.Health == nil || resp.Health.Score != 56 || resp.Health.State != "degraded" {
		t.Fatalf("health: got %+v", resp.Health)
	}
	if resp.Build != 2 {
		t.Errorf("build: got %d, want 2", resp.Build)
	}
	if resp.Delta["error"] != 2 || resp.Delta["warning"] != -1 || resp.Delta["total"] != 1 {
		t.Errorf("delta: got %v", resp.Delta)
	}
	if len(resp.Diagnostics) == 0 || resp.Diagnostics[0].Key != "delta_error" {
		t.Errorf("diagnostics: got %+v, want delta_error first", resp.Diagnostics)
	}
}

func TestJobHealth_Unfiltered(t *testing.T) {
	rr := get(t, newHandler(coreStore(), analysis()), "/api/v1/jobs/core/health?filtered=false")
	var resp api.JobHealthResponse
	decode(t, rr, &resp)
	// total 7 => 100 - 100*6/9 = 34
	if resp.Health == nil || resp.Health.Score != 34 || resp.Health.Filtered {
		t.Errorf("health: got %+v", resp.Health)
	}
}

func TestJobHealth_BadFilteredParam(t *testing.T) {
	rr := get(t, newHandler(coreStore(), analysis()), "/api/v1/jobs/core/health?filtered=maybe")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rr.Code)
	}
}

func TestJobHealth_NoThresholds(t *testing.T) {
	cfg := analysis()
	cfg.Health = types.Thresholds{}
	rr := get(t, newHandler(coreStore(), cfg), "/api/v1/jobs/core/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp map[string]interface{}
	decode(t, rr, &resp)
	if v, ok := resp["health"]; !ok || v != nil {
		t.Errorf("health: got %v, want null", v)
	}
}

func TestJobHealth_InvertedThresholds(t *testing.T) {
	cfg := analysis()
	cfg.Health = types.NewThresholds(10, 1)
	rr := get(t, newHandler(coreStore(), cfg), "/api/v1/jobs/core/health")
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", rr.Code)
	}
}

func TestJobHealth_FirstBuildBaseline(t *testing.T) {
	st := store.New(0)
	st.Record("solo", types.Build{Number: 1}, types.Snapshot{})
	rr := get(t, newHandler(st, analysis()), "/api/v1/jobs/solo/health")
	var resp api.JobHealthResponse
	decode(t, rr, &resp)
	if resp.Delta != nil {
		t.Errorf("delta: got %v, want none", resp.Delta)
	}
	keys := map[string]bool{}
	for _, d := range resp.Diagnostics {
		keys[d.Key] = true
	}
	if !keys["baseline"] || !keys["clean"] {
		t.Errorf("diagnostics: got %+v, want baseline and clean", resp.Diagnostics)
	}
}

func TestJobHealth_UnknownJob(t *testing.T) {
	rr := get(t, newHandler(coreStore(), analysis()), "/api/v1/jobs/nope/health")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

// --- /api/v1/jobs/{job}/trend -----------------------------------------------

func TestJobTrend(t *testing.T) {
	h := newHandler(coreStore(), analysis())
	rr := get(t, h, "/api/v1/jobs/core/trend")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if rr.Header().Get("Last-Modified") == "" {
		t.Error("Last-Modified header missing")
	}
	var resp api.TrendResponse
	decode(t, rr, &resp)

	if resp.Width != 500 || resp.Height != 200 || resp.Builds != 2 {
		t.Errorf("trend: got width %d height %d builds %d", resp.Width, resp.Height, resp.Builds)
	}
	if strings.Join(resp.Series, ",") != "Error,Warning,All" {
		t.Errorf("series: got %v", resp.Series)
	}
	if len(resp.Points) != 6 {
		t.Fatalf("points: got %d, want 6", len(resp.Points))
	}
	first := resp.Points[0]
	if first.Build != 2 || first.Series != "Error" || first.Value != 5 {
		t.Errorf("first point: got %+v", first)
	}
	if all := resp.Points[2]; all.Series != types.AllSeries || all.Value != 7 {
		t.Errorf("All point: got %+v", all)
	}
}

func TestJobTrend_NotModified(t *testing.T) {
	h := newHandler(coreStore(), analysis())
	first := get(t, h, "/api/v1/jobs/core/trend")
	lastMod := first.Header().Get("Last-Modified")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/core/trend", nil)
	req.Header.Set("If-Modified-Since", lastMod)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotModified {
		t.Errorf("status: got %d, want 304", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/core/trend", nil)
	req.Header.Set("If-Modified-Since", ts.Format(http.TimeFormat))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("stale If-Modified-Since: got %d, want 200", rr.Code)
	}
}

func TestJobTrend_UnknownJob(t *testing.T) {
	rr := get(t, newHandler(coreStore(), analysis()), "/api/v1/jobs/nope/trend")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

func TestBuildTrend_BrokenHistory(t *testing.T) {
	head := &types.HistoryNode{Build: types.Build{Number: 1}}
	if _, err := api.BuildTrend(analysis(), "core", head); err == nil {
		t.Fatal("expected error for node without snapshot")
	}
}

// --- POST /api/v1/jobs/{job}/builds -----------------------------------------

func TestIngest(t *testing.T) {
	st := coreStore()
	h := newHandler(st, analysis())

	rr := post(t, h, "/api/v1/jobs/core/builds",
		`{"number": 3, "label": "rc-3", "counts": {"error": 1, "warning": 2}}`, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want 201 (body %s)", rr.Code, rr.Body.String())
	}
	var resp api.IngestResponse
	decode(t, rr, &resp)
	if resp.Number != 3 || resp.Builds != 3 {
		t.Errorf("response: got %+v", resp)
	}
	if head := st.Head("core"); head.Build.Label != "rc-3" {
		t.Errorf("head label: got %q, want rc-3", head.Build.Label)
	}
}

func TestIngest_Errors(t *testing.T) {
	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"stale build", "/api/v1/jobs/core/builds", `{"number": 2, "counts": {}}`, http.StatusConflict},
		{"zero build", "/api/v1/jobs/core/builds", `{"number": 0}`, http.StatusBadRequest},
		{"unknown severity", "/api/v1/jobs/core/builds", `{"number": 5, "counts": {"fatal": 1}}`, http.StatusBadRequest},
		{"job mismatch", "/api/v1/jobs/core/builds", `{"job": "web", "number": 5}`, http.StatusBadRequest},
		{"bad job name", "/api/v1/jobs/-x/builds", `{"number": 1}`, http.StatusBadRequest},
		{"malformed", "/api/v1/jobs/core/builds", `{"number":`, http.StatusBadRequest},
		{"unknown field", "/api/v1/jobs/core/builds", `{"number": 5, "build": "#5"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := post(t, newHandler(coreStore(), analysis()), tc.path, tc.body, nil)
			if rr.Code != tc.want {
				t.Errorf("status: got %d, want %d (body %s)", rr.Code, tc.want, rr.Body.String())
			}
		})
	}
}

func TestIngest_MethodNotAllowed(t *testing.T) {
	rr := get(t, newHandler(coreStore(), analysis()), "/api/v1/jobs/core/builds")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}

func TestIngest_APIKey(t *testing.T) {
	st := store.New(0)
	h := api.New(api.Deps{
		Store:    st,
		Settings: config.NewHolder(analysis()),
		Ingest:   receiver.New(st),
		Auth:     auth.NewPolicy("apikey", "x-api-key", "s3cret"),
	})
	body := `{"number": 1, "counts": {"error": 1}}`

	if rr := post(t, h, "/api/v1/jobs/core/builds", body, nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("no key: got %d, want 401", rr.Code)
	}
	if rr := post(t, h, "/api/v1/jobs/core/builds", body, map[string]string{"X-Api-Key": "s3cret"}); rr.Code != http.StatusCreated {
		t.Errorf("with key: got %d, want 201", rr.Code)
	}
	// Reads stay open.
	if rr := get(t, h, "/api/v1/jobs/core/health"); rr.Code != http.StatusOK {
		t.Errorf("read: got %d, want 200", rr.Code)
	}
}

// --- /api/v1/alerts ---------------------------------------------------------

func TestAlerts_NoEngine(t *testing.T) {
	rr := get(t, newHandler(store.New(0), analysis()), "/api/v1/alerts")
	var resp []interface{}
	decode(t, rr, &resp)
	if rr.Code != http.StatusOK || len(resp) != 0 {
		t.Errorf("alerts: got %d %v", rr.Code, resp)
	}
}
