package ingest

import (
	"errors"
	"fmt"
	"io"
	"math"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/defecttrend/defecttrend/pkg/types"
)

// ErrMetricNotFound is returned when the exposition lacks the configured family.
var ErrMetricNotFound = errors.New("ingest: metric family not found")

// ParsePrometheus reads a text exposition and sums the samples of the metric
// family named metric, bucketed by the value of severityLabel. Samples with
// an unknown or missing severity label are counted as no-category.
func ParsePrometheus(r io.Reader, metric, severityLabel string) (types.Snapshot, error) {
	mfs, err := parseMetrics(r)
	if err != nil {
		return types.Snapshot{}, err
	}
	mf, ok := mfs[metric]
	if !ok {
		return types.Snapshot{}, fmt.Errorf("%w: %q", ErrMetricNotFound, metric)
	}

	sums := make(map[types.Severity]float64, len(types.Severities))
	for _, m := range mf.GetMetric() {
		v := sampleValue(m)
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return types.Snapshot{}, fmt.Errorf("ingest: %s sample value %v: %w", metric, v, types.ErrDataIntegrity)
		}
		sums[types.SeverityFor(labelValue(m, severityLabel))] += v
	}

	counts := make(map[types.Severity]int, len(sums))
	for sev, v := range sums {
		counts[sev] = int(math.Round(v))
	}
	return types.NewSnapshot(counts)
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// The text parser stops at the first bad line, so any parse error means the
// families are incomplete and the report is rejected.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return nil, fmt.Errorf("ingest: parse prometheus text: %w: %w", types.ErrDataIntegrity, err)
	}
	return mfs, nil
}

// sampleValue returns the counter, gauge or untyped value of m.
func sampleValue(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	}
	return 0
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
