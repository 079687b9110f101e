package main

import (
	"context"
	"flag"
	"fmt"
	"os"
)

func cmdArchive(args []string) int {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	jisCode := fs.String("jis", "", "JIS code of the entity to archive")
	reason := fs.String("reason", "", "reason recorded with the archive row")
	_ = fs.Parse(args)

	if *jisCode == "" || *reason == "" {
		fmt.Fprintln(os.Stderr, "kaisou archive: -jis and -reason are required")
		return 2
	}

	_, log, st, err := setup(*configPath)
	if err != nil {
		return fail(err)
	}
	defer st.Close()

	if err := st.ArchiveAndDelete(context.Background(), *jisCode, *reason); err != nil {
		return fail(err)
	}
	log.Info("entity archived", "jis_code", *jisCode, "reason", *reason)
	fmt.Printf("archived %s\n", *jisCode)
	return 0
}
