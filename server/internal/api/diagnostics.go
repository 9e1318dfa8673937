package api

import (
	"fmt"
	"sort"

	"github.com/defecttrend/defecttrend/pkg/health"
	"github.com/defecttrend/defecttrend/pkg/trend"
	"github.com/defecttrend/defecttrend/pkg/types"
)

// DiagnosticHint is one human-readable insight about a job's newest build.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier (used for dedup/ordering).
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label (≤ 5 words).
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// computeDiagnostics derives hints from the newest build of a job and its
// health report (nil when no thresholds are set).
// Diagnostics are ordered: critical first, then warnings, info, ok.
func computeDiagnostics(cfg types.SeverityConfig, head *types.HistoryNode, rep *health.Report) []DiagnosticHint {
	hints := []DiagnosticHint{}
	if head == nil || head.Snapshot == nil {
		return hints
	}

	if rep != nil {
		v := float64(rep.Score)
		switch rep.State {
		case health.StateCritical:
			hints = append(hints, DiagnosticHint{
				Key:    "health_critical",
				Level:  "critical",
				Title:  fmt.Sprintf("Health %d%%", rep.Score),
				Detail: fmt.Sprintf("Build %s is unhealthy: %s.", head.Build.DisplayLabel(), rep.Message),
				Value:  &v,
			})
		case health.StateDegraded:
			hints = append(hints, DiagnosticHint{
				Key:    "health_degraded",
				Level:  "warning",
				Title:  fmt.Sprintf("Health %d%%", rep.Score),
				Detail: fmt.Sprintf("Build %s is between the thresholds: %s.", head.Build.DisplayLabel(), rep.Message),
				Value:  &v,
			})
		}
	}

	delta, ok := trend.Delta(cfg, head)
	if !ok {
		hints = append(hints, DiagnosticHint{
			Key:    "baseline",
			Level:  "info",
			Title:  "First build",
			Detail: "There is no earlier build to compare against. New and fixed findings show up from the next build on.",
		})
	} else {
		changed := false
		for _, sev := range cfg.EnabledSeverities() {
			n := delta[sev]
			if n == 0 {
				continue
			}
			changed = true
			v := float64(n)
			h := DiagnosticHint{Key: "delta_" + sev.String(), Value: &v}
			if n > 0 {
				h.Level = "warning"
				if sev == types.SeverityError {
					h.Level = "critical"
				}
				h.Title = fmt.Sprintf("+%d %s", n, sev.DisplayName())
				h.Detail = fmt.Sprintf("%d new %s findings since build %s.",
					n, sev.DisplayName(), head.Previous.Build.DisplayLabel())
			} else {
				h.Level = "ok"
				h.Title = fmt.Sprintf("%d fewer %s", -n, sev.DisplayName())
				h.Detail = fmt.Sprintf("%d %s findings fixed since build %s.",
					-n, sev.DisplayName(), head.Previous.Build.DisplayLabel())
			}
			hints = append(hints, h)
		}
		if !changed {
			hints = append(hints, DiagnosticHint{
				Key:    "unchanged",
				Level:  "info",
				Title:  "No change",
				Detail: fmt.Sprintf("Same counts as build %s.", head.Previous.Build.DisplayLabel()),
			})
		}
	}

	if cfg.FilteredCount(*head.Snapshot) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "clean",
			Level:  "ok",
			Title:  "Clean build",
			Detail: "No findings in the selected severities.",
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank[hints[i].Level] < levelRank[hints[j].Level]
	})
	return hints
}
