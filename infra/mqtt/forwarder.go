package mqtt

import (
	"context"

	"github.com/kilianp07/depotsched/core/logger"
	"github.com/kilianp07/depotsched/internal/eventbus"
)

// EventPublisher pushes bus events to an external transport.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev any) error
}

// StartEventForwarder relays bus events to pub until ctx is canceled.
// The returned channel is closed once the forwarder exits.
func StartEventForwarder(ctx context.Context, bus eventbus.EventBus, pub EventPublisher, log logger.Logger) <-chan struct{} {
	done := make(chan struct{})
	if bus == nil || pub == nil {
		close(done)
		return done
	}
	log = logger.OrNop(log)
	sub := bus.Subscribe()
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if err := pub.PublishEvent(ctx, ev); err != nil {
					log.Warnf("forward %T: %v", ev, err)
				}
			}
		}
	}()
	return done
}
