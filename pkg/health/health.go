package health

import (
	"fmt"
	"strings"

	"github.com/defecttrend/defecttrend/pkg/types"
)

// State constants derived from the score.
const (
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateCritical = "critical"
)

// Thresholds that map a score to a health state.
const (
	ThresholdHealthy  = 80
	ThresholdDegraded = 40
)

// Report is the health of one build under one configuration.
// It is recomputed on every request and never cached.
type Report struct {
	// Score is the health percentage, 0–100.
	Score int `json:"score"`

	// State is one of "healthy", "degraded", "critical".
	State string `json:"state"`

	// Message describes what was counted, e.g.
	// "5 error/warning findings (healthy ≤ 1, unhealthy ≥ 10)".
	Message string `json:"message"`

	// Count is the effective finding count the score was computed from.
	Count int `json:"count"`

	// Filtered is true when only enabled severities were counted.
	Filtered bool `json:"filtered"`
}

// Evaluate computes the health report for snap.
//
// It returns types.ErrNoHealthData when cfg has no thresholds, and an error
// wrapping types.ErrConfiguration when healthy > unhealthy.
func Evaluate(cfg types.SeverityConfig, snap types.Snapshot, filtered bool) (Report, error) {
	th := cfg.Health
	if !th.Enabled() {
		return Report{}, types.ErrNoHealthData
	}
	if err := th.Validate(); err != nil {
		return Report{}, fmt.Errorf("health: %w", err)
	}

	count := Count(cfg, snap, filtered)
	healthy, unhealthy := *th.Healthy, *th.Unhealthy
	score := Score(count, healthy, unhealthy)

	return Report{
		Score:    score,
		State:    stateFromScore(score),
		Message:  describe(cfg, count, healthy, unhealthy, filtered),
		Count:    count,
		Filtered: filtered,
	}, nil
}

// Count returns the finding count health is computed from.
func Count(cfg types.SeverityConfig, snap types.Snapshot, filtered bool) int {
	if filtered {
		return cfg.FilteredCount(snap)
	}
	return snap.Total()
}

// Score maps count onto 0–100. The caller guarantees 0 <= healthy <= unhealthy.
func Score(count, healthy, unhealthy int) int {
	switch {
	case count <= healthy:
		return 100
	case count >= unhealthy:
		return 0
	}
	// healthy < count < unhealthy, so the span is positive and integer
	// division floors.
	return 100 - (100*(count-healthy))/(unhealthy-healthy)
}

// stateFromScore maps a score to a named health state.
func stateFromScore(score int) string {
	switch {
	case score >= ThresholdHealthy:
		return StateHealthy
	case score >= ThresholdDegraded:
		return StateDegraded
	default:
		return StateCritical
	}
}

func describe(cfg types.SeverityConfig, count, healthy, unhealthy int, filtered bool) string {
	scope := "total"
	if filtered {
		sevs := cfg.EnabledSeverities()
		keys := make([]string, 0, len(sevs))
		for _, s := range sevs {
			keys = append(keys, s.String())
		}
		scope = strings.Join(keys, "/")
		if scope == "" {
			scope = "selected"
		}
	}
	return fmt.Sprintf("%d %s findings (healthy ≤ %d, unhealthy ≥ %d)", count, scope, healthy, unhealthy)
}
