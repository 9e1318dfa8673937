package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/defecttrend/defecttrend/agent/internal/config"
	"github.com/defecttrend/defecttrend/agent/internal/ingest"
	"github.com/defecttrend/defecttrend/pkg/health"
	"github.com/defecttrend/defecttrend/pkg/types"
)

// healthOutput is printed by the health command.
type healthOutput struct {
	Job      string         `json:"job,omitempty"`
	Report   string         `json:"report"`
	Counts   types.Snapshot `json:"counts"`
	Total    int            `json:"total"`
	Filtered int            `json:"filtered_total"`
	Health   *health.Report `json:"health"`
}

// errHealthGate is returned when --fail-on is met.
var errHealthGate = errors.New("health gate failed")

func healthCommand(opts *globalOptions) *cli.Command {
	var (
		o      reportOverrides
		all    bool
		failOn string
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "all",
			Usage:       "score every severity instead of only analysis.severities",
			Destination: &all,
		},
		&cli.StringFlag{
			Name:        "fail-on",
			Usage:       "exit non-zero when health is at or below this state (degraded, critical)",
			Sources:     cli.EnvVars("DEFECTTREND_FAIL_ON"),
			Destination: &failOn,
		},
	}

	return &cli.Command{
		Name:  "health",
		Usage: "Parse a report and print its health locally as JSON",
		Flags: append(flags, o.flags()...),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(opts.configPath, o)
			if err != nil {
				return err
			}
			snap, err := ingest.Load(ctx, cfg.Agent.Report)
			if err != nil {
				return fmt.Errorf("health: %w", err)
			}
			return printHealth(c.Root().Writer, cfg.Agent, snap, !all && cfg.Agent.Analysis.FilterHealth, failOn)
		},
	}
}

// printHealth evaluates snap, writes the JSON result to w and applies the
// failOn gate.
func printHealth(w io.Writer, a config.AgentConfig, snap types.Snapshot, filtered bool, failOn string) error {
	out := healthOutput{
		Job:      a.Job,
		Report:   a.Report.Location,
		Counts:   snap,
		Total:    snap.Total(),
		Filtered: a.Analysis.FilteredCount(snap),
	}

	rep, err := health.Evaluate(a.Analysis, snap, filtered)
	switch {
	case err == nil:
		out.Health = &rep
	case errors.Is(err, types.ErrNoHealthData):
	default:
		return fmt.Errorf("health: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("health: write output: %w", err)
	}

	if out.Health != nil && gateFails(out.Health.State, failOn) {
		return fmt.Errorf("%w: state %s (score %d)", errHealthGate, out.Health.State, out.Health.Score)
	}
	return nil
}

var stateRank = map[string]int{
	health.StateHealthy:  0,
	health.StateDegraded: 1,
	health.StateCritical: 2,
}

// gateFails reports whether state is at least as bad as failOn.
// An empty or unknown failOn never fails.
func gateFails(state, failOn string) bool {
	limit, ok := stateRank[failOn]
	if !ok || failOn == health.StateHealthy {
		return false
	}
	return stateRank[state] >= limit
}
