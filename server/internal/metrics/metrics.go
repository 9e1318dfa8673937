package metrics

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/defecttrend/defecttrend/pkg/health"
	"github.com/defecttrend/defecttrend/pkg/types"
	"github.com/defecttrend/defecttrend/server/internal/store"
)

// Metric family names.
const (
	FindingsName      = "defecttrend_findings"
	FindingsAllName   = "defecttrend_findings_all"
	HealthScoreName   = "defecttrend_health_score"
	BuildsName        = "defecttrend_builds"
)

// Source lists the jobs to expose.
type Source interface {
	Jobs() []store.Entry
}

// Gather builds the metric families for entries under cfg. Per-severity
// gauges cover only enabled severities. The health score gauge is omitted
// for jobs without health data.
func Gather(cfg types.SeverityConfig, entries []store.Entry) []*dto.MetricFamily {
	findings := newFamily(FindingsName, "Findings of the newest build per severity.")
	total := newFamily(FindingsAllName, "Findings of the newest build across all severities.")
	score := newFamily(HealthScoreName, "Health score (0-100) of the newest build.")
	builds := newFamily(BuildsName, "Builds held in the job's history.")

	for _, e := range entries {
		if e.Head == nil || e.Head.Snapshot == nil {
			continue
		}
		snap := *e.Head.Snapshot
		for _, sev := range cfg.EnabledSeverities() {
			findings.Metric = append(findings.Metric,
				gauge(float64(snap.Count(sev)), "job", e.Job, "severity", sev.String()))
		}
		total.Metric = append(total.Metric, gauge(float64(snap.Total()), "job", e.Job))
		builds.Metric = append(builds.Metric, gauge(float64(e.Builds), "job", e.Job))

		rep, err := health.Evaluate(cfg, snap, cfg.FilterHealth)
		switch {
		case err == nil:
			score.Metric = append(score.Metric, gauge(float64(rep.Score), "job", e.Job))
		case !errors.Is(err, types.ErrNoHealthData):
			slog.Warn("metrics: health evaluation failed", "job", e.Job, "err", err)
		}
	}

	var out []*dto.MetricFamily
	for _, mf := range []*dto.MetricFamily{findings, total, score, builds} {
		if len(mf.Metric) > 0 {
			out = append(out, mf)
		}
	}
	return out
}

// Write encodes families in the Prometheus text format.
func Write(w io.Writer, families []*dto.MetricFamily) error {
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Handler serves the exposition for src using the settings returned by cfg
// at request time.
func Handler(src Source, cfg func() types.SeverityConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var buf bytes.Buffer
		if err := Write(&buf, Gather(cfg(), src.Jobs())); err != nil {
			slog.Error("metrics: render failed", "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		_, _ = w.Write(buf.Bytes())
	})
}

func newFamily(name, help string) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: dto.MetricType_GAUGE.Enum(),
	}
}

// gauge builds a gauge sample; labels are name/value pairs.
func gauge(v float64, labels ...string) *dto.Metric {
	m := &dto.Metric{Gauge: &dto.Gauge{Value: proto.Float64(v)}}
	for i := 0; i+1 < len(labels); i += 2 {
		m.Label = append(m.Label, &dto.LabelPair{
			Name:  proto.String(labels[i]),
			Value: proto.String(labels[i+1]),
		})
	}
	return m
}
