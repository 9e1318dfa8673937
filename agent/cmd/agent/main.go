package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/defecttrend/defecttrend/agent/internal/config"
	"github.com/defecttrend/defecttrend/pkg/logging"
)

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globalOptions are shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newCommand() *cli.Command {
	opts := &globalOptions{}

	return &cli.Command{
		Name:  "defecttrend-agent",
		Usage: "Parse static analysis reports and ship per-build counts to defecttrend-server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "path to config file (optional; flags and defaults are used when empty)",
				Sources:     cli.EnvVars("DEFECTTREND_AGENT_CONFIG"),
				Destination: &opts.configPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Value:       "info",
				Sources:     cli.EnvVars("DEFECTTREND_LOG_LEVEL"),
				Destination: &opts.logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "log format (auto, console, json)",
				Value:       logging.FormatAuto,
				Sources:     cli.EnvVars("DEFECTTREND_LOG_FORMAT"),
				Destination: &opts.logFormat,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			// stdout is reserved for command output.
			logger, err := logging.New(opts.logLevel, opts.logFormat, os.Stderr)
			if err != nil {
				return ctx, err
			}
			slog.SetDefault(logger)
			return ctx, nil
		},
		Commands: []*cli.Command{
			pushCommand(opts),
			healthCommand(opts),
		},
	}
}

// reportOverrides are flag values that replace config file settings when set.
type reportOverrides struct {
	job      string
	location string
	format   string
}

func (o *reportOverrides) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "job",
			Usage:       "job name the report belongs to",
			Sources:     cli.EnvVars("DEFECTTREND_JOB"),
			Destination: &o.job,
		},
		&cli.StringFlag{
			Name:        "report",
			Usage:       "report file path or http(s) URL",
			Sources:     cli.EnvVars("DEFECTTREND_REPORT"),
			Destination: &o.location,
		},
		&cli.StringFlag{
			Name:        "format",
			Usage:       "report format (cppcheck, prometheus)",
			Sources:     cli.EnvVars("DEFECTTREND_REPORT_FORMAT"),
			Destination: &o.format,
		},
	}
}

// loadConfig reads path, or starts from defaults when path is empty, then
// applies non-empty overrides and re-validates.
func loadConfig(path string, o reportOverrides) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path == "" {
		cfg = config.Defaults()
	} else if cfg, err = config.Load(path); err != nil {
		return nil, err
	}

	if o.job != "" {
		cfg.Agent.Job = o.job
	}
	if o.location != "" {
		cfg.Agent.Report.Location = o.location
	}
	if o.format != "" {
		cfg.Agent.Report.Format = o.format
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
