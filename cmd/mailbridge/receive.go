package main

import (
	"context"
	"fmt"
	"log/slog"

	flag "github.com/spf13/pflag"

	"github.com/emx-mail/bridge/pkgs/bridge"
	"github.com/emx-mail/bridge/pkgs/config"
)

type receiveFlags struct {
	source string
}

func parseReceiveFlags(args []string) receiveFlags {
	fs := flag.NewFlagSet("receive", flag.ExitOnError)
	var f receiveFlags
	fs.StringVar(&f.source, "source", "", "Limit to a single configured mail source")
	if err := fs.Parse(args); err != nil {
		fatal("receive: %v", err)
	}
	return f
}

// handleReceive runs one receive cycle per configured mail source and
// hands the results to the configured sinks.
func handleReceive(cfg *config.Config, logger *slog.Logger, opts receiveFlags) error {
	sources := cfg.Mail
	if opts.source != "" {
		sources = nil
		for _, m := range cfg.Mail {
			if m.Name == opts.source {
				sources = append(sources, m)
			}
		}
		if len(sources) == 0 {
			return fmt.Errorf("no mail source named %q", opts.source)
		}
	}
	if len(sources) == 0 {
		return fmt.Errorf("no mail sources configured")
	}

	sinks, closers, err := buildSinks(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("closing sink", "error", err)
			}
		}
	}()

	ctx := context.Background()
	total := 0
	for _, m := range sources {
		r, err := buildReceiver(m, logger)
		if err != nil {
			return err
		}

		src := bridge.NewMailSource(m.Name, r)
		deliveries, err := src.Poll(ctx)
		closeErr := src.Close()
		if err != nil {
			return fmt.Errorf("source %s: %w", m.Name, err)
		}
		if closeErr != nil {
			logger.Warn("closing source", "source", m.Name, "error", closeErr)
		}

		for _, d := range deliveries {
			for _, sink := range sinks {
				if err := sink.Deliver(ctx, d); err != nil {
					logger.Error("sink delivery failed",
						"sink", sink.Name(), "delivery", d.ID, "error", err)
				}
			}
		}

		fmt.Printf("%s: %d message(s)\n", m.Name, len(deliveries))
		total += len(deliveries)
	}

	fmt.Printf("received %d message(s) from %d source(s)\n", total, len(sources))
	return nil
}
