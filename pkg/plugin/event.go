package plugin

import (
	"context"
	"time"
)

// Event is a message on the in-process event bus.
type Event struct {
	Topic     string
	Source    string
	Timestamp time.Time
	Payload   any
}

// EventHandler receives events. Handlers must not block for long; the bus
// calls them on the publisher's goroutine unless PublishAsync is used.
type EventHandler func(ctx context.Context, event Event)

// EventBus is the in-process publish/subscribe bus.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	PublishAsync(ctx context.Context, event Event)
	Subscribe(topic string, handler EventHandler) (unsubscribe func())
	SubscribeAll(handler EventHandler) (unsubscribe func())
}
