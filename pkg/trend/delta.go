package trend

import "github.com/defecttrend/defecttrend/pkg/types"

// Delta returns, per enabled severity, how many findings head has more
// (positive) or fewer (negative) than the build before it. The second result
// is false when there is no usable previous build.
func Delta(cfg types.SeverityConfig, head *types.HistoryNode) (map[types.Severity]int, bool) {
	if head == nil || head.Previous == nil || head.Snapshot == nil || head.Previous.Snapshot == nil {
		return nil, false
	}
	cur, prev := head.Snapshot, head.Previous.Snapshot
	out := make(map[types.Severity]int)
	for _, sev := range cfg.EnabledSeverities() {
		out[sev] = cur.Count(sev) - prev.Count(sev)
	}
	return out, true
}

// DeltaKeys is Delta keyed by severity key, with a "total" entry covering the
// filtered count.
func DeltaKeys(cfg types.SeverityConfig, head *types.HistoryNode) (map[string]int, bool) {
	d, ok := Delta(cfg, head)
	if !ok {
		return nil, false
	}
	out := make(map[string]int, len(d)+1)
	var total int
	for sev, n := range d {
		out[sev.String()] = n
		total += n
	}
	out["total"] = total
	return out, true
}
