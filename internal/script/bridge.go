package script

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/HerbHall/metricd/pkg/metric"
	"github.com/HerbHall/metricd/pkg/plugin"
)

// Bridge installs the metric, family and notification classes into one
// runtime and converts values between the host data model and script
// objects. Each script object owns a private deep copy of its host value;
// every conversion in either direction clones.
//
// A Bridge is bound to its runtime and, like the runtime, must not be used
// from more than one goroutine at a time.
type Bridge struct {
	rt       *goja.Runtime
	pipeline plugin.Pipeline
	ctx      context.Context
	now      func() time.Time
	payload  *goja.Symbol

	metrics      map[metric.Type]*class
	family       *class
	notification *class
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithContext sets the context passed to the pipeline on dispatch.
func WithContext(ctx context.Context) BridgeOption {
	return func(b *Bridge) { b.ctx = ctx }
}

// WithNow overrides the clock used for default notification times.
func WithNow(now func() time.Time) BridgeOption {
	return func(b *Bridge) { b.now = now }
}

// NewBridge creates the classes in rt. They are not visible to scripts
// until Install is called.
func NewBridge(rt *goja.Runtime, pipeline plugin.Pipeline, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		rt:       rt,
		pipeline: pipeline,
		ctx:      context.Background(),
		now:      time.Now,
		payload:  goja.NewSymbol("metricd.payload"),
		metrics:  make(map[metric.Type]*class),
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, t := range metric.Types() {
		b.metrics[t] = b.newMetricClass(t)
	}
	b.family = b.newFamilyClass()
	b.notification = b.newNotificationClass()
	return b
}

// Install defines every class on module and on the global object.
func (b *Bridge) Install(module *goja.Object) error {
	classes := make([]*class, 0, len(b.metrics)+2)
	for _, t := range metric.Types() {
		classes = append(classes, b.metrics[t])
	}
	classes = append(classes, b.family, b.notification)

	global := b.rt.GlobalObject()
	for _, c := range classes {
		if err := module.Set(c.name, c.ctor); err != nil {
			return fmt.Errorf("install %s: %w", c.name, err)
		}
		if err := global.Set(c.name, c.ctor); err != nil {
			return fmt.Errorf("install %s: %w", c.name, err)
		}
	}
	return nil
}

// MetricToValue returns a new script object holding a copy of m.
func (b *Bridge) MetricToValue(m metric.Metric) (goja.Value, error) {
	if m.Value == nil {
		return nil, fmt.Errorf("%w: metric has no value", ErrMarshal)
	}
	if err := metric.ValidateValue(m.Value); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMarshal, err)
	}
	c, ok := b.metrics[m.Type()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarshal, m.Type())
	}
	return b.instance(c, &metricBox{m: m.Clone()}), nil
}

// MetricFromValue returns a copy of the metric held by a script object.
func (b *Bridge) MetricFromValue(v goja.Value) (metric.Metric, error) {
	box, ok := b.unwrap(v).(*metricBox)
	if !ok {
		return metric.Metric{}, ErrNotMetric
	}
	return box.m.Clone(), nil
}

// FamilyToValue returns a new MetricFamily object holding a copy of f.
func (b *Bridge) FamilyToValue(f *metric.Family) (goja.Value, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil family", ErrMarshal)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMarshal, err)
	}
	return b.instance(b.family, &familyBox{f: f.Clone()}), nil
}

// FamilyFromValue returns a copy of the family held by a MetricFamily object.
func (b *Bridge) FamilyFromValue(v goja.Value) (*metric.Family, error) {
	box, ok := b.unwrap(v).(*familyBox)
	if !ok {
		return nil, fmt.Errorf("%w: not a MetricFamily", ErrMarshal)
	}
	return box.f.Clone(), nil
}

// NotificationToValue returns a new Notification object holding a copy of n.
func (b *Bridge) NotificationToValue(n *metric.Notification) (goja.Value, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: nil notification", ErrMarshal)
	}
	return b.instance(b.notification, &notificationBox{n: n.Clone()}), nil
}

// NotificationFromValue returns a copy of the notification held by a
// Notification object.
func (b *Bridge) NotificationFromValue(v goja.Value) (*metric.Notification, error) {
	box, ok := b.unwrap(v).(*notificationBox)
	if !ok {
		return nil, fmt.Errorf("%w: not a Notification", ErrMarshal)
	}
	return box.n.Clone(), nil
}

// Payloads attached to script objects under the bridge's private symbol.
type (
	metricBox       struct{ m metric.Metric }
	familyBox       struct{ f *metric.Family }
	notificationBox struct{ n *metric.Notification }
)

// class is a native constructor and its prototype.
type class struct {
	name  string
	ctor  *goja.Object
	proto *goja.Object
}

// newClass creates a constructor whose instances carry the payload built
// by construct.
func (b *Bridge) newClass(name string, construct func(args []goja.Value) any) *class {
	ctor := b.rt.ToValue(func(call goja.ConstructorCall) *goja.Object {
		b.attach(call.This, construct(call.Arguments))
		return call.This
	}).(*goja.Object)
	_ = ctor.DefineDataProperty("name", b.rt.ToValue(name), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	proto, _ := ctor.Get("prototype").(*goja.Object)
	if proto == nil {
		proto = b.rt.NewObject()
		_ = ctor.DefineDataProperty("prototype", proto, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
		_ = proto.DefineDataProperty("constructor", ctor, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	}
	return &class{name: name, ctor: ctor, proto: proto}
}

// constant defines a read-only value on the constructor and its prototype.
func (c *class) constant(rt *goja.Runtime, name string, v any) {
	val := rt.ToValue(v)
	_ = c.ctor.DefineDataProperty(name, val, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE)
	_ = c.proto.DefineDataProperty(name, val, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE)
}

func (b *Bridge) method(c *class, name string, fn func(call goja.FunctionCall) goja.Value) {
	_ = c.proto.DefineDataProperty(name, b.rt.ToValue(fn), goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE)
}

// accessor defines a property on the prototype. A nil set makes it read-only.
func (b *Bridge) accessor(c *class, name string, get func(this goja.Value) goja.Value, set func(this, v goja.Value)) {
	getter := b.rt.ToValue(func(call goja.FunctionCall) goja.Value {
		return get(call.This)
	})
	var setter goja.Value
	if set != nil {
		setter = b.rt.ToValue(func(call goja.FunctionCall) goja.Value {
			set(call.This, call.Argument(0))
			return goja.Undefined()
		})
	}
	_ = c.proto.DefineAccessorProperty(name, getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

func (b *Bridge) instance(c *class, payload any) *goja.Object {
	obj := b.rt.CreateObject(c.proto)
	b.attach(obj, payload)
	return obj
}

func (b *Bridge) attach(obj *goja.Object, payload any) {
	_ = obj.DefineDataPropertySymbol(b.payload, b.rt.ToValue(payload), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
}

func (b *Bridge) unwrap(v goja.Value) any {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	p := obj.GetSymbol(b.payload)
	if isNullish(p) {
		return nil
	}
	return p.Export()
}

func (b *Bridge) metricThis(this goja.Value) *metricBox {
	box, ok := b.unwrap(this).(*metricBox)
	if !ok {
		b.throwType("illegal invocation: receiver is not a metric")
	}
	return box
}

func (b *Bridge) familyThis(this goja.Value) *familyBox {
	box, ok := b.unwrap(this).(*familyBox)
	if !ok {
		b.throwType("illegal invocation: receiver is not a MetricFamily")
	}
	return box
}

func (b *Bridge) notificationThis(this goja.Value) *notificationBox {
	box, ok := b.unwrap(this).(*notificationBox)
	if !ok {
		b.throwType("illegal invocation: receiver is not a Notification")
	}
	return box
}
