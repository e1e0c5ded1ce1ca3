package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Poller drives a Source at a fixed rate and places its deliveries onto
// a bounded channel. Poll failures are logged and retried with
// exponential backoff; a successful poll resets the backoff and resumes
// the configured rate. The poller itself never interprets failures
// beyond that: retry semantics live here, not in the sources.
type Poller struct {
	source   Source
	interval time.Duration
	out      chan<- Delivery
	logger   *slog.Logger
}

// NewPoller builds a poller for the given source. interval must be
// positive.
func NewPoller(source Source, interval time.Duration, out chan<- Delivery, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		source:   source,
		interval: interval,
		out:      out,
		logger:   logger.With("source", source.Name()),
	}
}

// Run polls until ctx is cancelled, then closes the source. The first
// poll happens immediately.
func (p *Poller) Run(ctx context.Context) error {
	defer func() {
		if err := p.source.Close(); err != nil {
			p.logger.Warn("closing source", "error", err)
		}
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.interval
	bo.MaxInterval = 10 * p.interval

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		wait := p.interval
		deliveries, err := p.source.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait = bo.NextBackOff()
			p.logger.Error("poll failed", "error", err, "retry_in", wait)
		} else {
			bo.Reset()
			if len(deliveries) > 0 {
				p.logger.Info("polled deliveries", "count", len(deliveries))
			}
			for _, d := range deliveries {
				select {
				case p.out <- d:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}

		timer.Reset(wait)
	}
}
