package dispatch

import (
	"context"

	"github.com/HerbHall/metricd/pkg/metric"
	"github.com/HerbHall/metricd/pkg/plugin"
	"go.uber.org/zap"
)

// queueUnit is an export or notification unit: a bounded queue drained by
// one goroutine, so deliveries to a unit keep submission order.
type queueUnit[T any] struct {
	name   string
	fn     func(context.Context, T) error
	queue  chan T
	cancel context.CancelFunc
}

func (u *queueUnit[T]) offer(v T) bool {
	select {
	case u.queue <- v:
		return true
	default:
		return false
	}
}

func runQueue[T any](ctx context.Context, d *Dispatcher, kind string, u *queueUnit[T]) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-u.queue:
			if ctx.Err() != nil {
				return
			}
			if err := d.invoke(kind, u.name, func() error { return u.fn(ctx, v) }); err != nil {
				d.logger.Warn("unit failed",
					zap.String("kind", kind),
					zap.String("unit", u.name),
					zap.Error(err),
				)
			}
		}
	}
}

// RegisterExport starts an export unit receiving every submitted family.
// An existing unit with the same name is replaced.
func (d *Dispatcher) RegisterExport(name string, fn plugin.WriteFunc) error {
	if fn == nil {
		return ErrNilFunc
	}
	return registerQueue(d, KindWrite, name, d.exports, func(ctx context.Context, fam *metric.Family) error {
		return fn(ctx, fam)
	})
}

// UnregisterExport stops the named export unit and discards its queue.
func (d *Dispatcher) UnregisterExport(name string) bool {
	return unregisterQueue(d, KindWrite, name, d.exports)
}

// RegisterNotificationSink starts a notification unit receiving every
// submitted notification. An existing unit with the same name is replaced.
func (d *Dispatcher) RegisterNotificationSink(name string, fn plugin.NotificationFunc) error {
	if fn == nil {
		return ErrNilFunc
	}
	return registerQueue(d, KindNotification, name, d.sinks, func(ctx context.Context, n *metric.Notification) error {
		return fn(ctx, n)
	})
}

// UnregisterNotificationSink stops the named notification unit.
func (d *Dispatcher) UnregisterNotificationSink(name string) bool {
	return unregisterQueue(d, KindNotification, name, d.sinks)
}

func registerQueue[T any](d *Dispatcher, kind, name string, units map[string]*queueUnit[T], fn func(context.Context, T) error) error {
	if name == "" {
		return ErrEmptyName
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if old, ok := units[name]; ok {
		old.cancel()
	}
	ctx, cancel := context.WithCancel(d.ctx)
	u := &queueUnit[T]{
		name:   name,
		fn:     fn,
		queue:  make(chan T, d.opts.QueueSize),
		cancel: cancel,
	}
	units[name] = u
	d.wg.Add(1)
	go runQueue(ctx, d, kind, u)
	d.metrics.units.WithLabelValues(kind).Set(float64(len(units)))
	d.mu.Unlock()

	d.logger.Debug("unit registered", zap.String("kind", kind), zap.String("unit", name))
	d.publish(TopicUnitRegistered, kind, name)
	return nil
}

func unregisterQueue[T any](d *Dispatcher, kind, name string, units map[string]*queueUnit[T]) bool {
	d.mu.Lock()
	u, ok := units[name]
	if ok {
		delete(units, name)
		u.cancel()
		d.metrics.units.WithLabelValues(kind).Set(float64(len(units)))
	}
	d.mu.Unlock()

	if ok {
		d.metrics.forget(kind, name)
		d.publish(TopicUnitUnregistered, kind, name)
	}
	return ok
}
