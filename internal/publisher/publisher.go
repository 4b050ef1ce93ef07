package publisher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/privateness-network/bot-access/pkg/eventbus"
	"github.com/privateness-network/bot-access/pkg/model"
)

// Sink forwards access events to an external broker.
type Sink interface {
	Name() string
	PublishEvent(ctx context.Context, evt model.AccessEvent) error
	Close() error
}

// Attach subscribes sink to bus. Each delivery gets its own timeout so a stalled
// broker cannot pile up goroutines indefinitely.
func Attach(bus *eventbus.EventBus[model.AccessEvent], sink Sink, timeout time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	bus.Subscribe(func(evt model.AccessEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := sink.PublishEvent(ctx, evt); err != nil {
			logger.Warn("publisher.forward_failed",
				zap.String("sink", sink.Name()),
				zap.String("subject", evt.Subject()),
				zap.Error(err))
		}
	})
	logger.Info("publisher.attached", zap.String("sink", sink.Name()))
}
