package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/gastown/fleetbroker/internal/audit"
	"github.com/gastown/fleetbroker/internal/broker"
	"github.com/gastown/fleetbroker/internal/config"
	"github.com/gastown/fleetbroker/internal/dashboard"
	"github.com/gastown/fleetbroker/internal/metrics"
	"github.com/gastown/fleetbroker/internal/monitor"
	"github.com/gastown/fleetbroker/internal/store"
	"github.com/gastown/fleetbroker/internal/transport"
)

// NewServeCmd starts the broker: a stdio tool dispatcher on stdin/stdout,
// a background liveness monitor, and an HTTP dashboard, all sharing one
// Redis-backed store and SQLite audit trail.
func NewServeCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the broker's stdio dispatcher, liveness monitor, and dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error), overrides LOG_LEVEL")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	log := newLogger(cfg.LogLevel)

	st, err := store.New(store.Config{URL: cfg.StoreURL, MaxRetries: cfg.MaxStoreRetries})
	if err != nil {
		log.Error("connect to store failed", "error", err)
		return err
	}

	ar, err := audit.Open(cfg.AuditDBPath)
	if err != nil {
		log.Error("open audit database failed", "error", err)
		return err
	}
	defer ar.Close()

	reg := prometheus.NewRegistry()
	mt := metrics.New(reg)

	b := broker.New(st, broker.Config{
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		MaxQueueLen:      cfg.MaxQueueLen,
		RecentChangesCap: cfg.RecentChangesCap,
		StatusDir:        cfg.StatusDir,
	}, ar, mt, log)

	mon, err := monitor.New(st, b, mt, log, cfg.MonitorInterval)
	if err != nil {
		log.Error("build liveness monitor failed", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mon.Start(ctx); err != nil {
		log.Error("start liveness monitor failed", "error", err)
		return err
	}
	defer mon.Stop()

	dash := dashboard.New(b, cfg.MonitorInterval, log)
	mux := http.NewServeMux()
	mux.Handle("/", dash.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.DashboardAddr, Handler: mux}

	go func() {
		log.Info("dashboard listening", "addr", cfg.DashboardAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("dashboard server failed", "error", err)
		}
	}()

	tr := transport.New(b, log)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- tr.Serve(ctx, os.Stdin, os.Stdout)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			log.Error("stdio transport failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("dashboard shutdown did not complete cleanly", "error", err)
	}

	return nil
}
