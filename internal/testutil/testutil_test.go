package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/HerbHall/metricd/pkg/metric"
	"github.com/HerbHall/metricd/pkg/plugin"
)

func TestLogger_NotNil(t *testing.T) {
	l := Logger()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewStore_Usable(t *testing.T) {
	db := NewStore(t)
	if db == nil {
		t.Fatal("expected non-nil store")
	}
	if err := db.DB().PingContext(context.Background()); err != nil {
		t.Fatalf("PingContext: %v", err)
	}
}

func TestMockBus_RecordsEvents(t *testing.T) {
	bus := NewMockBus()

	ev := plugin.Event{Topic: "test.topic", Source: "test"}
	if err := bus.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	bus.PublishAsync(context.Background(), plugin.Event{Topic: "test.async", Source: "test"})

	events := bus.Events()
	if len(events) != 2 {
		t.Fatalf("Events len = %d, want 2", len(events))
	}
	if events[0].Topic != "test.topic" {
		t.Errorf("events[0].Topic = %q, want test.topic", events[0].Topic)
	}
	if events[1].Topic != "test.async" {
		t.Errorf("events[1].Topic = %q, want test.async", events[1].Topic)
	}
}

func TestMockBus_Reset(t *testing.T) {
	bus := NewMockBus()
	_ = bus.Publish(context.Background(), plugin.Event{Topic: "a"})
	bus.Reset()
	if len(bus.Events()) != 0 {
		t.Error("expected empty events after Reset")
	}
}

func TestClock_Advance(t *testing.T) {
	c := NewClock()
	start := c.Now()
	c.Advance(5 * time.Minute)
	if got := c.Now().Sub(start); got != 5*time.Minute {
		t.Errorf("Advance: elapsed = %v, want 5m", got)
	}
}

func TestClock_Set(t *testing.T) {
	c := NewClock()
	target := time.Date(2030, 6, 15, 12, 0, 0, 0, time.UTC)
	c.Set(target)
	if !c.Now().Equal(target) {
		t.Errorf("Set: got %v, want %v", c.Now(), target)
	}
}

func TestNewFamily_Defaults(t *testing.T) {
	f := NewFamily()
	if err := f.Validate(); err != nil {
		t.Fatalf("fixture family invalid: %v", err)
	}
	if f.Name != "demo" || len(f.Metrics) != 1 {
		t.Errorf("NewFamily() = %s, want one metric in demo", f)
	}
}

func TestNewFamily_Options(t *testing.T) {
	f := NewFamily(
		WithFamilyName("queue"),
		WithMetrics(metric.Metric{Value: metric.Counter{Number: metric.Uint(3)}}),
	)
	if f.Name != "queue" {
		t.Errorf("Name = %q, want queue", f.Name)
	}
	if f.Type != metric.TypeCounter {
		t.Errorf("Type = %s, want COUNTER", f.Type)
	}
}

func TestNewNotification_UniqueIDs(t *testing.T) {
	a := NewNotification()
	b := NewNotification(WithSeverity(metric.SeverityOkay))
	idA, _ := a.Labels.Get("id")
	idB, _ := b.Labels.Get("id")
	if idA == "" || idA == idB {
		t.Errorf("ids %q and %q should be unique and non-empty", idA, idB)
	}
	if b.Severity != metric.SeverityOkay {
		t.Errorf("Severity = %s, want OKAY", b.Severity)
	}
}

func TestMockPipeline_RecordsClones(t *testing.T) {
	p := NewMockPipeline()
	f := NewFamily()
	if err := p.SubmitFamily(context.Background(), f); err != nil {
		t.Fatalf("SubmitFamily: %v", err)
	}
	f.Name = "mutated"
	if got := p.Families()[0].Name; got != "demo" {
		t.Errorf("recorded name = %q, want demo", got)
	}
}

func TestMockScheduler_FireRead(t *testing.T) {
	s := NewMockScheduler()
	called := false
	_ = s.RegisterPeriodic("demo/read", func(context.Context) error {
		called = true
		return nil
	}, time.Second)

	if err := s.FireRead(context.Background(), "demo/read"); err != nil {
		t.Fatalf("FireRead: %v", err)
	}
	if !called {
		t.Error("read unit not invoked")
	}
	if !s.UnregisterPeriodic("demo/read") || s.UnregisterPeriodic("demo/read") {
		t.Error("UnregisterPeriodic should report true then false")
	}
	if err := s.FireRead(context.Background(), "demo/read"); err == nil {
		t.Error("FireRead on removed unit should fail")
	}
}
