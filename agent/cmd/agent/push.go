package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/defecttrend/defecttrend/agent/internal/ingest"
	"github.com/defecttrend/defecttrend/agent/internal/shipper"
	"github.com/defecttrend/defecttrend/pkg/types"
	"github.com/defecttrend/defecttrend/pkg/wire"
)

func pushCommand(opts *globalOptions) *cli.Command {
	var (
		o              reportOverrides
		build, label   string
		serverEndpoint string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "build",
			Usage:       "build number (positive integer, strictly increasing per job)",
			Required:    true,
			Sources:     cli.EnvVars("DEFECTTREND_BUILD", "BUILD_NUMBER"),
			Destination: &build,
		},
		&cli.StringFlag{
			Name:        "label",
			Usage:       "display label for the build (defaults to #<build>)",
			Sources:     cli.EnvVars("DEFECTTREND_BUILD_LABEL", "BUILD_DISPLAY_NAME"),
			Destination: &label,
		},
		&cli.StringFlag{
			Name:        "server",
			Usage:       "defecttrend-server gRPC endpoint (host:port)",
			Sources:     cli.EnvVars("DEFECTTREND_SERVER"),
			Destination: &serverEndpoint,
		},
	}

	return &cli.Command{
		Name:  "push",
		Usage: "Parse a report and record it as a build on defecttrend-server",
		Flags: append(flags, o.flags()...),
		Action: func(ctx context.Context, c *cli.Command) error {
			number, err := strconv.Atoi(build)
			if err != nil || number <= 0 {
				return fmt.Errorf("push: --build must be a positive integer, got %q", build)
			}

			cfg, err := loadConfig(opts.configPath, o)
			if err != nil {
				return err
			}
			if serverEndpoint != "" {
				cfg.Agent.ServerEndpoint = serverEndpoint
			}
			if cfg.Agent.Job == "" {
				return fmt.Errorf("push: job is required (--job or agent.job)")
			}

			ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			snap, err := ingest.Load(ctx, cfg.Agent.Report)
			if err != nil {
				return fmt.Errorf("push: %w", err)
			}
			slog.Info("report parsed",
				"location", cfg.Agent.Report.Location,
				"format", cfg.Agent.Report.Format,
				"total", snap.Total(),
			)

			rec := buildRecord(cfg.Agent.Job, number, label, snap, time.Now())
			ack, err := shipper.New(cfg.Agent).Ship(ctx, rec)
			if err != nil {
				return fmt.Errorf("push: %w", err)
			}
			fmt.Fprintf(c.Root().Writer, "recorded %s build %d (%d builds in history)\n", ack.Job, ack.Number, ack.Builds)
			return nil
		},
	}
}

// buildRecord assembles the record shipped for one build. An empty label
// becomes "#<number>".
func buildRecord(job string, number int, label string, snap types.Snapshot, now time.Time) wire.BuildRecord {
	if label == "" {
		label = "#" + strconv.Itoa(number)
	}
	return wire.BuildRecord{
		Job:       job,
		Number:    number,
		Label:     label,
		Timestamp: now.UTC(),
		Counts:    snap.Keys(),
	}
}
