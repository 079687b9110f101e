// Command kaisou operates the municipal link registry: seeding, scheduled
// link audits, reconciliation of discovered links, and the CI quality gate.
// Pipeline logic lives in internal packages; this binary stays thin.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"kaisou/internal/platform/config"
	"kaisou/internal/platform/logger"
	"kaisou/internal/store"
)

const usage = `usage: kaisou <command> [flags]

commands:
  check      run a link audit over the full entity set
  verify     run the quality gate (exit 1 on hard violation)
  reconcile  merge a candidate file into the canonical set
  seed       create the canonical entity set from a master list
  archive    archive-then-delete one entity by JIS code
  serve      run scheduled audits with a metrics endpoint
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var code int
	switch os.Args[1] {
	case "check":
		code = cmdCheck(os.Args[2:])
	case "verify":
		code = cmdVerify(os.Args[2:])
	case "reconcile":
		code = cmdReconcile(os.Args[2:])
	case "seed":
		code = cmdSeed(os.Args[2:])
	case "archive":
		code = cmdArchive(os.Args[2:])
	case "serve":
		code = cmdServe(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		code = 2
	}
	os.Exit(code)
}

// setup loads configuration and opens the configured store. Every subcommand
// goes through here so wiring stays in one place.
func setup(configPath string) (config.Config, *slog.Logger, store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	log := logger.New(cfg.Log.Format, cfg.Log.Level)

	var st store.Store
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.OpenSQLite(cfg.Store.DSN)
	case "postgres":
		st, err = store.OpenPostgres(cfg.Store.DSN)
	}
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, log, st, nil
}

func fail(err error) int {
	fmt.Fprintln(os.Stderr, "kaisou:", err)
	return 1
}
