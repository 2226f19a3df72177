// Package dispatch is the host scheduler and metric pipeline: it runs
// periodic read units, fans dispatched families out to export units and
// notifications out to notification units.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/HerbHall/metricd/pkg/metric"
	"github.com/HerbHall/metricd/pkg/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Compile-time interface guards.
var (
	_ plugin.Scheduler = (*Dispatcher)(nil)
	_ plugin.Pipeline  = (*Dispatcher)(nil)
)

// Errors returned by the dispatcher.
var (
	ErrClosed    = errors.New("dispatcher closed")
	ErrEmptyName = errors.New("unit name is empty")
	ErrNilFunc   = errors.New("unit function is nil")
	ErrInvalid   = errors.New("invalid submission")
)

// Event topics published on the bus.
const (
	TopicUnitRegistered   = "dispatch.unit.registered"
	TopicUnitUnregistered = "dispatch.unit.unregistered"
)

// Unit kinds.
const (
	KindRead         = "read"
	KindWrite        = "write"
	KindNotification = "notification"
)

// UnitEvent is the payload of the unit topics.
type UnitEvent struct {
	Kind string
	Name string
}

// UnitInfo describes a registered unit.
type UnitInfo struct {
	Kind     string        `json:"kind"`
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval,omitempty"`
	Failures int           `json:"failures,omitempty"`
	Queued   int           `json:"queued,omitempty"`
}

// Options configures a Dispatcher.
type Options struct {
	QueueSize        int           `mapstructure:"queue_size" validate:"gte=1"`
	DefaultInterval  time.Duration `mapstructure:"default_interval" validate:"gt=0"`
	MaxReadInterval  time.Duration `mapstructure:"max_read_interval" validate:"gtefield=DefaultInterval"`
	FailureThreshold int           `mapstructure:"failure_threshold" validate:"gte=0"`
}

// DefaultOptions returns the built-in defaults.
func DefaultOptions() Options {
	return Options{
		QueueSize:        256,
		DefaultInterval:  10 * time.Second,
		MaxReadInterval:  time.Hour,
		FailureThreshold: 3,
	}
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithBus publishes unit lifecycle events on bus.
func WithBus(bus plugin.EventBus) Option {
	return func(d *Dispatcher) { d.bus = bus }
}

// WithRegisterer registers the dispatcher's self metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(d *Dispatcher) { d.registerer = reg }
}

// WithClock overrides the time source used for failure notifications.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher implements plugin.Scheduler and plugin.Pipeline.
type Dispatcher struct {
	opts       Options
	logger     *zap.Logger
	bus        plugin.EventBus
	registerer prometheus.Registerer
	metrics    *Metrics
	now        func() time.Time
	dropLog    rate.Sometimes

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	closed   bool
	periodic map[string]*periodicUnit
	exports  map[string]*queueUnit[*metric.Family]
	sinks    map[string]*queueUnit[*metric.Notification]
}

// New creates a running dispatcher. Units start as soon as they are
// registered; Close stops them all.
func New(opts Options, logger *zap.Logger, options ...Option) *Dispatcher {
	def := DefaultOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = def.DefaultInterval
	}
	if opts.MaxReadInterval < opts.DefaultInterval {
		opts.MaxReadInterval = opts.DefaultInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		dropLog:  rate.Sometimes{First: 1, Interval: 10 * time.Second},
		ctx:      ctx,
		cancel:   cancel,
		periodic: make(map[string]*periodicUnit),
		exports:  make(map[string]*queueUnit[*metric.Family]),
		sinks:    make(map[string]*queueUnit[*metric.Notification]),
	}
	for _, o := range options {
		o(d)
	}
	d.metrics = newMetrics(d.registerer, logger)
	return d
}

// Close stops every unit and waits for running calls to return or ctx to
// expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for units: %w", ctx.Err())
	}
}

// Units lists the registered units sorted by kind and name.
func (d *Dispatcher) Units() []UnitInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]UnitInfo, 0, len(d.periodic)+len(d.exports)+len(d.sinks))
	for _, u := range d.periodic {
		out = append(out, u.info())
	}
	for _, u := range d.exports {
		out = append(out, UnitInfo{Kind: KindWrite, Name: u.name, Queued: len(u.queue)})
	}
	for _, u := range d.sinks {
		out = append(out, UnitInfo{Kind: KindNotification, Name: u.name, Queued: len(u.queue)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// SubmitFamily queues a clone of fam for every export unit. A full unit
// queue drops the family for that unit only.
func (d *Dispatcher) SubmitFamily(ctx context.Context, fam *metric.Family) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if fam == nil {
		return fmt.Errorf("%w: nil family", ErrInvalid)
	}
	if err := fam.Validate(); err != nil {
		return fmt.Errorf("%w: family %q: %v", ErrInvalid, fam.Name, err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	shared := fam.Clone()
	for _, u := range d.exports {
		d.enqueueFamily(u, shared)
	}
	d.metrics.submitted.WithLabelValues(KindWrite).Inc()
	return nil
}

// SubmitNotification queues a clone of n for every notification unit.
func (d *Dispatcher) SubmitNotification(ctx context.Context, n *metric.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n == nil {
		return fmt.Errorf("%w: nil notification", ErrInvalid)
	}
	if !n.Severity.Valid() {
		return fmt.Errorf("%w: notification %q: severity %d", ErrInvalid, n.Name, int(n.Severity))
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	shared := n.Clone()
	for _, u := range d.sinks {
		d.enqueueNotification(u, shared)
	}
	d.metrics.submitted.WithLabelValues(KindNotification).Inc()
	return nil
}

func (d *Dispatcher) enqueueFamily(u *queueUnit[*metric.Family], fam *metric.Family) {
	if !u.offer(fam) {
		d.dropped(KindWrite, u.name)
	}
}

func (d *Dispatcher) enqueueNotification(u *queueUnit[*metric.Notification], n *metric.Notification) {
	if !u.offer(n) {
		d.dropped(KindNotification, u.name)
	}
}

func (d *Dispatcher) dropped(kind, name string) {
	d.metrics.dropped.WithLabelValues(kind, name).Inc()
	d.dropLog.Do(func() {
		d.logger.Warn("unit queue full, dropping",
			zap.String("kind", kind),
			zap.String("unit", name),
			zap.Int("queue_size", d.opts.QueueSize),
		)
	})
}

func (d *Dispatcher) publish(topic, kind, name string) {
	if d.bus == nil {
		return
	}
	d.bus.PublishAsync(d.ctx, plugin.Event{
		Topic:     topic,
		Source:    "dispatch",
		Timestamp: d.now(),
		Payload:   UnitEvent{Kind: kind, Name: name},
	})
}

// invoke runs fn with panic recovery and records call metrics.
func (d *Dispatcher) invoke(kind, name string, fn func() error) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit panicked: %v", r)
		}
		d.metrics.observe(kind, name, time.Since(start), err)
	}()
	return fn()
}
