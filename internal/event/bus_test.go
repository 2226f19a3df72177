package event

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HerbHall/metricd/pkg/plugin"
	"go.uber.org/zap"
)

func TestPublishDeliversToTopicSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var received plugin.Event

	bus.Subscribe("script.instance.state", func(_ context.Context, e plugin.Event) {
		received = e
	})
	bus.Subscribe("dispatch.unit.registered", func(_ context.Context, _ plugin.Event) {
		t.Error("handler for another topic was called")
	})

	sent := plugin.Event{
		Topic:     "script.instance.state",
		Source:    "javascript",
		Timestamp: time.Now(),
		Payload:   "running",
	}
	if err := bus.Publish(context.Background(), sent); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if received.Source != "javascript" {
		t.Errorf("received.Source = %q, want %q", received.Source, "javascript")
	}
	if received.Payload != "running" {
		t.Errorf("received.Payload = %v, want %q", received.Payload, "running")
	}
}

func TestSubscribeAllSeesEveryTopic(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var topics []string

	bus.SubscribeAll(func(_ context.Context, e plugin.Event) {
		topics = append(topics, e.Topic)
	})

	bus.Publish(context.Background(), plugin.Event{Topic: "dispatch.unit.registered"})
	bus.Publish(context.Background(), plugin.Event{Topic: "dispatch.unit.unregistered"})

	if len(topics) != 2 || topics[1] != "dispatch.unit.unregistered" {
		t.Errorf("SubscribeAll saw %v, want both topics in order", topics)
	}
}

func TestUnsubscribe(t *testing.T) {
	tests := []struct {
		name      string
		subscribe func(*Bus, plugin.EventHandler) func()
	}{
		{"topic", func(b *Bus, h plugin.EventHandler) func() { return b.Subscribe("t", h) }},
		{"all", func(b *Bus, h plugin.EventHandler) func() { return b.SubscribeAll(h) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := NewBus(zap.NewNop())
			var count int32
			unsub := tt.subscribe(bus, func(context.Context, plugin.Event) {
				atomic.AddInt32(&count, 1)
			})

			bus.Publish(context.Background(), plugin.Event{Topic: "t"})
			unsub()
			unsub()
			bus.Publish(context.Background(), plugin.Event{Topic: "t"})

			if got := atomic.LoadInt32(&count); got != 1 {
				t.Errorf("handler called %d times, want 1", got)
			}
		})
	}
}

func TestUnsubscribeKeepsOtherHandlers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var first, second int32

	unsub := bus.Subscribe("t", func(context.Context, plugin.Event) { atomic.AddInt32(&first, 1) })
	bus.Subscribe("t", func(context.Context, plugin.Event) { atomic.AddInt32(&second, 1) })
	unsub()
	bus.Publish(context.Background(), plugin.Event{Topic: "t"})

	if first != 0 || second != 1 {
		t.Errorf("first=%d second=%d, want 0 and 1", first, second)
	}
}

func TestPublishAsync(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var wg sync.WaitGroup
	var count int32

	wg.Add(2)
	bus.Subscribe("async", func(context.Context, plugin.Event) {
		atomic.AddInt32(&count, 1)
		wg.Done()
	})
	bus.SubscribeAll(func(context.Context, plugin.Event) {
		atomic.AddInt32(&count, 1)
		wg.Done()
	})

	bus.PublishAsync(context.Background(), plugin.Event{Topic: "async"})

	wg.Wait()
	if got := atomic.LoadInt32(&count); got != 2 {
		t.Errorf("async handlers called %d times, want 2", got)
	}
}

func TestHandlerPanicRecovery(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var count int32

	bus.Subscribe("panic", func(context.Context, plugin.Event) { panic("boom") })
	bus.Subscribe("panic", func(context.Context, plugin.Event) { atomic.AddInt32(&count, 1) })

	bus.Publish(context.Background(), plugin.Event{Topic: "panic"})

	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("second handler called %d times, want 1", got)
	}
}

func TestNoSubscribersOK(t *testing.T) {
	bus := NewBus(zap.NewNop())
	if err := bus.Publish(context.Background(), plugin.Event{Topic: "empty"}); err != nil {
		t.Fatalf("Publish() with no subscribers error = %v", err)
	}
}
