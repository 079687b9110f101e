package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kaisou/internal/checker"
	"kaisou/internal/platform/httpserver"
	"kaisou/internal/platform/metrics"
)

// cmdServe runs audits on a fixed interval and exposes health and metrics
// endpoints. One audit fires immediately on startup so a fresh deployment
// never waits a full interval for its first datapoint.
func cmdServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args)

	cfg, log, st, err := setup(*configPath)
	if err != nil {
		return fail(err)
	}
	defer st.Close()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	orch, err := checker.New(st, newProber(cfg.Checker),
		checker.WithLogger(log),
		checker.WithMetrics(m),
		checker.WithConcurrency(cfg.Checker.Concurrency))
	if err != nil {
		return fail(err)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := httpserver.New(cfg.Serve.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		log.Info("metrics server listening", "addr", cfg.Serve.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	auditDone := make(chan struct{})
	go func() {
		defer close(auditDone)
		runAudits(ctx, orch, cfg.Serve.Interval, log)
	}()

	var exitCode int
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		log.Error("metrics server failed", "error", err)
		exitCode = 1
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
		exitCode = 1
	}
	<-auditDone

	log.Info("shutdown complete")
	return exitCode
}

// runAudits loops until ctx is cancelled, executing one audit per interval.
// A failed run is logged and does not stop the loop.
func runAudits(ctx context.Context, orch *checker.Orchestrator, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		summary, err := orch.RunAudit(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("scheduled audit failed", "error", err, "run_id", summary.RunID)
		} else {
			log.Info("scheduled audit finished",
				"run_id", summary.RunID,
				"integrity_score", summary.IntegrityScore,
				"broken", summary.BrokenCount)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
