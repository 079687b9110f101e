package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"kaisou/internal/reconcile"
	"kaisou/internal/trust"
)

func cmdReconcile(args []string) int {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	file := fs.String("file", "", "candidate file (.json or .xlsx)")
	_ = fs.Parse(args)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "kaisou reconcile: -file is required")
		return 2
	}

	cfg, log, st, err := setup(*configPath)
	if err != nil {
		return fail(err)
	}
	defer st.Close()

	candidates, err := reconcile.LoadCandidates(*file)
	if err != nil {
		return fail(err)
	}
	if len(candidates) == 0 {
		fmt.Println("no candidates in file")
		return 0
	}

	batchID := uuid.NewString()
	for i := range candidates {
		candidates[i].BatchID = batchID
	}

	ctx := context.Background()
	if err := st.StageCandidates(ctx, candidates); err != nil {
		return fail(err)
	}
	log.Info("candidates staged", "batch_id", batchID, "count", len(candidates))

	engine, err := reconcile.NewEngine(st, trust.NewClassifier(cfg.Trust.AllowedDomains),
		reconcile.WithLogger(log))
	if err != nil {
		return fail(err)
	}

	report, err := engine.Merge(ctx, batchID)
	if err != nil {
		return fail(err)
	}

	fmt.Printf("batch %s: applied=%d skipped=%d unmatched=%d\n",
		batchID, len(report.Applied), len(report.Skipped), len(report.Unmatched))
	for _, r := range report.Unmatched {
		fmt.Fprintf(os.Stderr, "unmatched: %s %s (%s)\n", r.Prefecture, r.Municipality, r.Reason)
	}
	return 0
}
