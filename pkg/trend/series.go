package trend

import (
	"fmt"

	"github.com/defecttrend/defecttrend/pkg/types"
)

// Point is one value on a trend chart.
type Point struct {
	Build  int    `json:"build"`
	Label  string `json:"label"`
	Series string `json:"series"`
	Value  int    `json:"value"`
}

// BuildSeries returns the chart points for the chain starting at head.
// A nil head yields no points. On error no partial series is returned.
func BuildSeries(cfg types.SeverityConfig, head *types.HistoryNode) ([]Point, error) {
	sevs := cfg.EnabledSeverities()
	perNode := len(sevs)
	if cfg.DisplayAll {
		perNode++
	}

	out := make([]Point, 0, perNode)
	err := Walk(head, cfg.MaxBuilds(), func(n *types.HistoryNode) error {
		label := n.Build.DisplayLabel()
		for _, sev := range sevs {
			out = append(out, Point{
				Build:  n.Build.Number,
				Label:  label,
				Series: sev.DisplayName(),
				Value:  n.Snapshot.Count(sev),
			})
		}
		if cfg.DisplayAll {
			out = append(out, Point{
				Build:  n.Build.Number,
				Label:  label,
				Series: types.AllSeries,
				Value:  n.Snapshot.Total(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Walk calls fn for each node from head towards the oldest build, visiting
// at most maxBuilds nodes (unbounded when maxBuilds <= 0). It fails with
// types.ErrDataIntegrity when a node lacks a snapshot or the chain loops
// back on itself. Every node is checked before fn sees any of them.
func Walk(head *types.HistoryNode, maxBuilds int, fn func(*types.HistoryNode) error) error {
	var nodes []*types.HistoryNode
	seen := make(map[*types.HistoryNode]struct{})

	for n := head; n != nil; n = n.Previous {
		if maxBuilds > 0 && len(nodes) >= maxBuilds {
			break
		}
		if _, dup := seen[n]; dup {
			return fmt.Errorf("trend: history cycle at build %d: %w", n.Build.Number, types.ErrDataIntegrity)
		}
		if n.Snapshot == nil {
			return fmt.Errorf("trend: build %d has no snapshot: %w", n.Build.Number, types.ErrDataIntegrity)
		}
		seen[n] = struct{}{}
		nodes = append(nodes, n)
	}

	for _, n := range nodes {
		if err := fn(n); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of nodes Walk would visit for head.
func Len(head *types.HistoryNode, maxBuilds int) (int, error) {
	var n int
	err := Walk(head, maxBuilds, func(*types.HistoryNode) error {
		n++
		return nil
	})
	return n, err
}
