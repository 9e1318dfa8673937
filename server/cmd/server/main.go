package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/defecttrend/defecttrend/pkg/logging"
	"github.com/defecttrend/defecttrend/pkg/wire"
	"github.com/defecttrend/defecttrend/server/internal/alerts"
	"github.com/defecttrend/defecttrend/server/internal/api"
	"github.com/defecttrend/defecttrend/server/internal/auth"
	"github.com/defecttrend/defecttrend/server/internal/config"
	"github.com/defecttrend/defecttrend/server/internal/metrics"
	"github.com/defecttrend/defecttrend/server/internal/receiver"
	"github.com/defecttrend/defecttrend/server/internal/store"
	"github.com/defecttrend/defecttrend/server/internal/ws"
)

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	var configPath, logLevel, logFormat string

	return &cli.Command{
		Name:  "defecttrend-server",
		Usage: "Collect static analysis results per build and serve health and trend data",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "path to config file",
				Value:       "config.yaml",
				Sources:     cli.EnvVars("DEFECTTREND_CONFIG"),
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Value:       "info",
				Sources:     cli.EnvVars("DEFECTTREND_LOG_LEVEL"),
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "log format (auto, console, json)",
				Value:       logging.FormatJSON,
				Sources:     cli.EnvVars("DEFECTTREND_LOG_FORMAT"),
				Destination: &logFormat,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger, err := logging.New(logLevel, logFormat, os.Stdout)
			if err != nil {
				return ctx, err
			}
			slog.SetDefault(logger)
			return ctx, nil
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(ctx, configPath)
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	slog.Info("defecttrend-server starting", "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	sc := cfg.Server

	slog.Info("config loaded",
		"grpc_port", sc.GRPCPort,
		"http_port", sc.HTTPPort,
		"auth_mode", sc.Auth.Mode,
		"storage", sc.Storage.Path,
		"retention", sc.Storage.Retention,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	settings := config.NewHolder(sc.Analysis)

	// Hot-reload analysis settings; other sections need a restart.
	go func() {
		err := config.Watch(ctx, configPath, func(next *config.Config) {
			settings.Set(next.Server.Analysis)
			slog.Info("analysis settings reloaded",
				"severities", len(next.Server.Analysis.EnabledSeverities()),
				"display_all", next.Server.Analysis.DisplayAll,
			)
		})
		if err != nil {
			slog.Warn("config watch disabled", "err", err)
		}
	}()

	// History store, restored from disk and flushed back periodically.
	st := store.New(sc.Storage.Retention)
	if err := st.LoadFile(sc.Storage.Path); err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	slog.Info("history loaded", "path", sc.Storage.Path, "jobs", st.Count())

	alertEngine := alerts.New(sc.Alerts, settings.Analysis)
	hub := ws.New(st, settings, 5*time.Second)

	st.Subscribe(alertEngine.Evaluate)
	st.Subscribe(hub.Notify)

	policy := auth.NewPolicy(sc.Auth.Mode, sc.Auth.EffectiveHeader(), sc.Auth.Key())
	rcv := receiver.New(st)

	// gRPC ingest with optional API key authentication.
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(auth.APIKeyInterceptor(policy)))
	wire.RegisterIngestServer(grpcSrv, rcv)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", sc.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen on gRPC port %d: %w", sc.GRPCPort, err)
	}

	// Combined HTTP server: REST API, /metrics and WebSocket hub on HTTPPort.
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(api.Deps{
		Store:    st,
		Settings: settings,
		Ingest:   rcv,
		Alerts:   alertEngine,
		Auth:     policy,
	}))
	httpMux.Handle("/metrics", metrics.Handler(st, settings.Analysis))
	httpMux.Handle("/ws/stream", hub)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Any component failing stops the rest.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		st.Run(gctx, sc.Storage.Path, sc.Storage.FlushInterval)
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("gRPC receiver listening", "port", sc.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("HTTP server listening", "port", sc.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("defecttrend-server shutting down")
		grpcSrv.GracefulStop()

		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	alertEngine.Wait()
	return err
}
