package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"kaisou/internal/checker"
	"kaisou/internal/domain"
	"kaisou/internal/platform/config"
	"kaisou/internal/probe"
)

func cmdCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	concurrency := fs.Int("concurrency", 0, "override worker pool width")
	_ = fs.Parse(args)

	cfg, log, st, err := setup(*configPath)
	if err != nil {
		return fail(err)
	}
	defer st.Close()

	if *concurrency > 0 {
		cfg.Checker.Concurrency = *concurrency
	}

	orch, err := checker.New(st, newProber(cfg.Checker),
		checker.WithLogger(log),
		checker.WithConcurrency(cfg.Checker.Concurrency))
	if err != nil {
		return fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	summary, err := orch.RunAudit(ctx)
	if summary.RunID != "" {
		fmt.Printf("run %s: %s\n", summary.RunID, summary.Status)
	}
	if err != nil {
		return fail(err)
	}
	fmt.Printf("checked %d entities: integrity %.2f%% (ok=%d pdf_only=%d broken=%d unknown=%d) in %s\n",
		summary.Total, summary.IntegrityScore,
		summary.OKCount, summary.PDFOnlyCount, summary.BrokenCount, summary.UnknownCount,
		summary.Duration.Round(10*time.Millisecond))
	if summary.Status != domain.RunStatusSucceeded {
		return 1
	}
	return 0
}

func newProber(cfg config.CheckerConfig) *probe.HTTPProber {
	opts := []probe.Option{
		probe.WithTimeout(cfg.Timeout),
		probe.WithMaxRetries(cfg.MaxRetries),
		probe.WithBackoff(cfg.Backoff),
		probe.WithRateLimit(cfg.RatePerSecond),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, probe.WithUserAgent(cfg.UserAgent))
	}
	return probe.New(opts...)
}
