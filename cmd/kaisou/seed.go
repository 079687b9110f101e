package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"kaisou/internal/seed"
)

func cmdSeed(args []string) int {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	file := fs.String("file", "", "master list (.csv or .xlsx)")
	_ = fs.Parse(args)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "kaisou seed: -file is required")
		return 2
	}

	_, log, st, err := setup(*configPath)
	if err != nil {
		return fail(err)
	}
	defer st.Close()

	municipalities, fallbacks, err := seed.Load(*file)
	if err != nil {
		return fail(err)
	}

	if err := st.Seed(context.Background(), municipalities); err != nil {
		return fail(err)
	}
	log.Info("canonical set seeded", "count", len(municipalities), "slug_fallbacks", len(fallbacks))

	fmt.Printf("seeded %d municipalities\n", len(municipalities))
	for _, f := range fallbacks {
		fmt.Fprintf(os.Stderr, "slug fallback: %s %s -> %s\n", f.JISCode, f.Name, f.Slug)
	}
	return 0
}
