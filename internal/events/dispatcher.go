package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const publishTimeout = 10 * time.Second

// Dispatcher fans events out to every publisher without blocking the caller.
// Failures are logged; delivery is best effort.
type Dispatcher struct {
	publishers []Publisher
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewDispatcher creates a dispatcher; with no publishers Notify is a no-op
func NewDispatcher(logger *zap.Logger, publishers ...Publisher) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{publishers: publishers, logger: logger}
}

// Notify publishes evt to every sink in its own goroutine
func (d *Dispatcher) Notify(evt Event) {
	for _, p := range d.publishers {
		d.wg.Add(1)
		go func(p Publisher) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()
			if err := p.Publish(ctx, evt); err != nil {
				d.logger.Warn("Failed to publish workflow event",
					zap.String("kind", evt.Kind),
					zap.String("event_id", evt.ID.String()),
					zap.Int64("order_id", evt.OrderID),
					zap.Error(err),
				)
			}
		}(p)
	}
}

// Wait blocks until all in-flight publishes finish
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
