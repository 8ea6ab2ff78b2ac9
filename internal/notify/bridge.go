package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/content-harvester/internal/harvest"
)

// Bridge forwards hub events to an external publisher (Pub/Sub in
// production) for the real-time layer. Publish failures are logged, never
// propagated back into the scheduler.
type Bridge struct {
	publisher   harvest.Publisher
	topic       string
	logger      *zap.Logger
	done        chan struct{}
	unsubscribe func()
}

// NewBridge subscribes to the hub and starts forwarding. Call Stop to
// unregister and wait for the forwarding goroutine to drain.
func NewBridge(hub *Hub, publisher harvest.Publisher, topic string, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bridge{
		publisher: publisher,
		topic:     topic,
		logger:    logger,
		done:      make(chan struct{}),
	}
	events, unsubscribe := hub.Subscribe(0)
	b.unsubscribe = unsubscribe
	go func() {
		defer close(b.done)
		for evt := range events {
			if _, err := b.publisher.Publish(context.Background(), b.topic, evt); err != nil {
				b.logger.Warn("publish lifecycle event",
					zap.String("job_id", evt.JobID),
					zap.String("stage", string(evt.Stage)),
					zap.Error(err),
				)
			}
		}
	}()
	return b
}

// Stop unregisters from the hub and blocks until the forwarding
// goroutine drains.
func (b *Bridge) Stop() {
	b.unsubscribe()
	<-b.done
}
