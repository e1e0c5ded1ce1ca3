package main

import (
	"context"
	"fmt"
	"log/slog"

	flag "github.com/spf13/pflag"

	"github.com/emx-mail/bridge/pkgs/config"
)

type syncFlags struct {
	source string
}

func parseSyncFlags(args []string) syncFlags {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	var f syncFlags
	fs.StringVar(&f.source, "source", "", "Limit to a single configured FTP source")
	if err := fs.Parse(args); err != nil {
		fatal("sync: %v", err)
	}
	return f
}

// handleSync runs one download pass per configured FTP source.
func handleSync(cfg *config.Config, logger *slog.Logger, opts syncFlags) error {
	sources := cfg.FTP
	if opts.source != "" {
		sources = nil
		for _, f := range cfg.FTP {
			if f.Name == opts.source {
				sources = append(sources, f)
			}
		}
		if len(sources) == 0 {
			return fmt.Errorf("no ftp source named %q", opts.source)
		}
	}
	if len(sources) == 0 {
		return fmt.Errorf("no ftp sources configured")
	}

	ctx := context.Background()
	total := 0
	for _, f := range sources {
		sync, err := buildSynchronizer(f, logger)
		if err != nil {
			return err
		}

		files, err := sync.Sync(ctx)
		if err != nil {
			return fmt.Errorf("source %s: %w", f.Name, err)
		}

		for _, path := range files {
			fmt.Printf("%s: %s\n", f.Name, path)
		}
		total += len(files)
	}

	fmt.Printf("downloaded %d file(s) from %d source(s)\n", total, len(sources))
	return nil
}
