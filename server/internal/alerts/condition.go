package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/defecttrend/defecttrend/pkg/health"
	"github.com/defecttrend/defecttrend/pkg/types"
)

// condition is a parsed rule expression "field operator value".
//
// Supported fields:
//
//	health            health score of the newest build (0-100)
//	state             health state, only with == (healthy|degraded|critical)
//	total             all findings of the newest build
//	filtered          findings of the enabled severities
//	<severity>        e.g. error, warning, no_category
//	new_<severity>    change against the previous build, e.g. new_error
//	new_total         change of the total against the previous build
type condition struct {
	field string
	op    string
	num   float64
	str   string
}

func parseCondition(expr string) (condition, error) {
	parts := strings.Fields(expr)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("condition %q: want \"field op value\"", expr)
	}
	c := condition{field: strings.ToLower(parts[0]), op: parts[1]}

	if c.field == "state" {
		if c.op != "==" && c.op != "!=" {
			return condition{}, fmt.Errorf("condition %q: state supports == and != only", expr)
		}
		c.str = strings.ToLower(parts[2])
		return c, nil
	}

	switch c.op {
	case ">", ">=", "<", "<=", "==", "!=":
	default:
		return condition{}, fmt.Errorf("condition %q: unknown operator %q", expr, c.op)
	}
	if !knownField(c.field) {
		return condition{}, fmt.Errorf("condition %q: unknown field %q", expr, c.field)
	}
	v, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return condition{}, fmt.Errorf("condition %q: %w", expr, err)
	}
	c.num = v
	return c, nil
}

func knownField(field string) bool {
	switch field {
	case "health", "total", "filtered", "new_total":
		return true
	}
	_, ok := types.ParseSeverity(strings.TrimPrefix(field, "new_"))
	return ok
}

// eval tests the condition against the newest build of head.
// Returns (fires, triggering value). A condition whose input is unavailable
// (no thresholds for health, no previous build for new_*) does not fire.
func (c condition) eval(cfg types.SeverityConfig, head *types.HistoryNode) (bool, float64) {
	if head == nil || head.Snapshot == nil {
		return false, 0
	}
	snap := *head.Snapshot

	switch {
	case c.field == "state" || c.field == "health":
		rep, err := health.Evaluate(cfg, snap, cfg.FilterHealth)
		if err != nil {
			return false, 0
		}
		if c.field == "state" {
			eq := rep.State == c.str
			return eq == (c.op == "=="), float64(rep.Score)
		}
		v := float64(rep.Score)
		return compareFloat(v, c.op, c.num), v

	case c.field == "total":
		v := float64(snap.Total())
		return compareFloat(v, c.op, c.num), v

	case c.field == "filtered":
		v := float64(cfg.FilteredCount(snap))
		return compareFloat(v, c.op, c.num), v

	case strings.HasPrefix(c.field, "new_"):
		if head.Previous == nil || head.Previous.Snapshot == nil {
			return false, 0
		}
		prev := *head.Previous.Snapshot
		var v float64
		if c.field == "new_total" {
			v = float64(snap.Total() - prev.Total())
		} else {
			sev, _ := types.ParseSeverity(strings.TrimPrefix(c.field, "new_"))
			v = float64(snap.Count(sev) - prev.Count(sev))
		}
		return compareFloat(v, c.op, c.num), v

	default:
		sev, ok := types.ParseSeverity(c.field)
		if !ok {
			return false, 0
		}
		v := float64(snap.Count(sev))
		return compareFloat(v, c.op, c.num), v
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
