package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/emx-mail/bridge/pkgs/bridge"
	"github.com/emx-mail/bridge/pkgs/config"
)

// handleRun polls every configured source and feeds the sinks until the
// process is interrupted.
func handleRun(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sources, err := buildSources(cfg, logger)
	if err != nil {
		return err
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

	ch := make(chan bridge.Delivery, cfg.QueueSize)

	var wg sync.WaitGroup
	for _, s := range sources {
		wg.Add(1)
		go func(s pollSource) {
			defer wg.Done()
			p := bridge.NewPoller(s.source, s.interval, ch, logger)
			if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("poller stopped", "source", s.source.Name(), "error", err)
			}
		}(s)
	}

	sinkDone := make(chan struct{})
	go func() {
		defer close(sinkDone)
		if err := bridge.RunSinks(ctx, ch, sinks, logger); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("sink loop stopped", "error", err)
		}
	}()

	logger.Info("bridge running", "sources", len(sources), "sinks", len(sinks), "queue_size", cfg.QueueSize)

	<-ctx.Done()
	logger.Info("shutting down")

	// Stop the pollers first, then close the channel so the sink loop
	// drains everything already queued before it exits.
	wg.Wait()
	close(ch)
	<-sinkDone
	return nil
}
