package bridge

import (
	"context"
	"log/slog"
)

// Sink consumes deliveries taken off the channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, d Delivery) error
}

// RunSinks drains the channel, handing every delivery to each sink in
// order. A sink failure is logged and does not stop the other sinks or
// the loop: the delivery was already taken off the server, so dropping
// the whole pipeline would lose it for the remaining sinks too.
//
// On cancellation the loop keeps draining until the channel is closed.
// Queued deliveries may already be deleted or expunged on the server,
// so returning without them would lose mail; the caller must stop the
// producers and close the channel after cancelling.
func RunSinks(ctx context.Context, in <-chan Delivery, sinks []Sink, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			drainCtx := context.WithoutCancel(ctx)
			for d := range in {
				deliverToSinks(drainCtx, d, sinks, logger)
			}
			return ctx.Err()
		case d, ok := <-in:
			if !ok {
				return nil
			}
			deliverToSinks(ctx, d, sinks, logger)
		}
	}
}

func deliverToSinks(ctx context.Context, d Delivery, sinks []Sink, logger *slog.Logger) {
	for _, sink := range sinks {
		if err := sink.Deliver(ctx, d); err != nil {
			logger.Error("sink delivery failed",
				"sink", sink.Name(), "delivery", d.ID, "source", d.Source, "error", err)
		}
	}
}
