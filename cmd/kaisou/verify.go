package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"kaisou/internal/gate"
	"kaisou/internal/notify"
)

// displayCap bounds how many violations are printed; the remainder is
// summarized so CI logs stay readable.
const displayCap = 20

func cmdVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args)

	cfg, log, st, err := setup(*configPath)
	if err != nil {
		return fail(err)
	}
	defer st.Close()

	var notifier notify.Notifier = notify.NewConsole()
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewMulti(notify.NewConsole(), notify.NewWebhook(cfg.Notify.WebhookURL, log))
	}

	g, err := gate.New(st, cfg.Gate.ExpectedTotal,
		gate.WithLogger(log),
		gate.WithNotifier(notifier))
	if err != nil {
		return fail(err)
	}

	report, err := g.Verify(context.Background())
	if err != nil {
		return fail(err)
	}

	fmt.Printf("entities=%d missing_link=%d domain_warning=%d broken=%d needs_review=%d\n",
		report.Metrics.Total, report.Metrics.MissingLink, report.Metrics.DomainWarning,
		report.Metrics.Broken, report.Metrics.NeedsReview)

	if report.Passed {
		fmt.Println("quality gate: PASS")
		return 0
	}

	fmt.Fprintf(os.Stderr, "quality gate: FAIL (%d violations)\n", len(report.Violations))
	for i, v := range report.Violations {
		if i == displayCap {
			fmt.Fprintf(os.Stderr, "... and %d more\n", len(report.Violations)-i)
			break
		}
		fmt.Fprintln(os.Stderr, v.String())
	}
	return 1
}
