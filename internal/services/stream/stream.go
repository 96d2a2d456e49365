// Package stream maintains the per-venue market data connections and fans all
// received quotes into a single callback.
package stream

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/m4rkovic/crypto-trade/internal/domain"
)

// Sink receives every normalized quote. Implementations must not block for
// long: the adapter read loop is paused while the sink runs.
type Sink func(domain.Quote)

// Adapter is one venue's quote feed. Stream runs until the connection drops or
// ctx is cancelled, pushing normalized quotes to the sink.
type Adapter interface {
	Venue() string
	Stream(ctx context.Context, sink Sink) error
}

// Supervisor owns the adapter set and restarts any adapter whose connection
// drops, after a fixed delay, indefinitely, until shutdown. It performs no
// per-quote transformation.
type Supervisor struct {
	adapters       []Adapter
	reconnectDelay time.Duration
	logger         *zap.Logger
}

func NewSupervisor(adapters []Adapter, reconnectDelay time.Duration, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{adapters: adapters, reconnectDelay: reconnectDelay, logger: logger}
}

// Run blocks until ctx is cancelled. Adapter errors are contained here: they
// are logged and answered with a reconnect, never surfaced to the caller.
func (s *Supervisor) Run(ctx context.Context, sink Sink) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, adapter := range s.adapters {
		g.Go(func() error {
			for {
				err := adapter.Stream(ctx, sink)
				if ctx.Err() != nil {
					return nil
				}

				s.logger.Warn("stream disconnected, reconnecting",
					zap.String("venue", adapter.Venue()),
					zap.Duration("delay", s.reconnectDelay),
					zap.Error(err))

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(s.reconnectDelay):
				}
			}
		})
	}

	return g.Wait()
}
