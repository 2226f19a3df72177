package script

import (
	"context"
	"fmt"
	"sort"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/HerbHall/metricd/pkg/metric"
)

type unitKind int

const (
	unitRead unitKind = iota
	unitWrite
	unitNotification
)

var unitKindNames = [...]string{
	unitRead:         "read",
	unitWrite:        "write",
	unitNotification: "notification",
}

func (k unitKind) String() string { return unitKindNames[k] }

type unitKey struct {
	kind unitKind
	name string
}

// unit is one registered read, write or notification hook.
type unit struct {
	kind   unitKind
	name   string
	fn     goja.Callable
	token  uint64
	active bool // handed to the scheduler
}

// hookTable holds an instance's registrations. It is guarded by the
// instance mutex.
type hookTable struct {
	units map[unitKey]*unit
	seq   uint64

	config   goja.Callable
	init     goja.Callable
	shutdown goja.Callable
}

func newHookTable() *hookTable {
	return &hookTable{units: make(map[unitKey]*unit)}
}

// current reports whether u is still the registration for its name.
func (t *hookTable) current(u *unit) bool {
	cur, ok := t.units[unitKey{u.kind, u.name}]
	return ok && cur.token == u.token
}

func (t *hookTable) names() []string {
	out := make([]string, 0, len(t.units))
	for k := range t.units {
		out = append(out, k.kind.String()+":"+k.name)
	}
	sort.Strings(out)
	return out
}

// activate hands every pending unit to the scheduler.
func (t *hookTable) activate(i *Instance) error {
	keys := make([]unitKey, 0, len(t.units))
	for k := range t.units {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		return t.units[keys[a]].token < t.units[keys[b]].token
	})
	for _, k := range keys {
		if u := t.units[k]; !u.active {
			if err := i.schedule(u); err != nil {
				return err
			}
		}
	}
	return nil
}

// deactivate removes every unit from the scheduler.
func (t *hookTable) deactivate(i *Instance) {
	for _, u := range t.units {
		if u.active {
			i.unschedule(u)
		}
	}
}

func (t *hookTable) reset() {
	t.units = make(map[unitKey]*unit)
	t.config, t.init, t.shutdown = nil, nil, nil
}

// unitName derives "<instance>/<function name>" with "anonymous" for
// unnamed functions.
func (i *Instance) unitName(fn *goja.Object) string {
	name := ""
	if v := fn.Get("name"); !isNullish(v) {
		name = v.String()
	}
	if name == "" {
		name = "anonymous"
	}
	return i.cfg.Name + "/" + name
}

// callbackArg validates the single callable argument of a registration
// function.
func (i *Instance) callbackArg(call goja.FunctionCall, fname string) (*goja.Object, goja.Callable) {
	v := call.Argument(0)
	if isNullish(v) {
		panic(i.rt.NewTypeError("%s: callback is null", fname))
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		panic(i.rt.NewTypeError("%s: callback is not a function", fname))
	}
	return v.(*goja.Object), fn
}

// installRegistry defines the register and unregister functions on module.
func (i *Instance) installRegistry(module *goja.Object) {
	for kind, fname := range map[unitKind]string{
		unitRead:         "Read",
		unitWrite:        "Write",
		unitNotification: "Notification",
	} {
		kind := kind
		_ = module.Set("register"+fname, func(call goja.FunctionCall) goja.Value {
			obj, fn := i.callbackArg(call, "register"+fname)
			i.register(kind, i.unitName(obj), fn)
			return goja.Undefined()
		})
		_ = module.Set("unregister"+fname, func(call goja.FunctionCall) goja.Value {
			obj, _ := i.callbackArg(call, "unregister"+fname)
			i.unregister(kind, i.unitName(obj))
			return goja.Undefined()
		})
	}

	slots := []struct {
		name string
		slot *goja.Callable
	}{
		{"Config", &i.hooks.config},
		{"Init", &i.hooks.init},
		{"Shutdown", &i.hooks.shutdown},
	}
	for _, s := range slots {
		s := s
		_ = module.Set("register"+s.name, func(call goja.FunctionCall) goja.Value {
			_, fn := i.callbackArg(call, "register"+s.name)
			*s.slot = fn
			return goja.Undefined()
		})
		_ = module.Set("unregister"+s.name, func(goja.FunctionCall) goja.Value {
			*s.slot = nil
			return goja.Undefined()
		})
	}
}

// register records a unit, replacing any unit with the same name. While
// the instance runs the unit goes to the scheduler immediately; before
// that it waits for Start.
func (i *Instance) register(kind unitKind, name string, fn goja.Callable) {
	t := i.hooks
	t.seq++
	key := unitKey{kind, name}
	u := &unit{kind: kind, name: name, fn: fn, token: t.seq}
	if old, ok := t.units[key]; ok {
		u.active = old.active
	}
	t.units[key] = u
	if i.State() == StateRunning {
		if err := i.schedule(u); err != nil {
			delete(t.units, key)
			i.syncUnits()
			panic(i.rt.NewGoError(err))
		}
	}
	i.syncUnits()
	i.logger.Debug("unit registered", zap.Stringer("kind", kind), zap.String("unit", name))
}

// unregister removes a unit. Unknown names are ignored.
func (i *Instance) unregister(kind unitKind, name string) {
	key := unitKey{kind, name}
	u, ok := i.hooks.units[key]
	if !ok {
		return
	}
	delete(i.hooks.units, key)
	if u.active {
		i.unschedule(u)
	}
	i.syncUnits()
	i.logger.Debug("unit unregistered", zap.Stringer("kind", kind), zap.String("unit", name))
}

func (i *Instance) schedule(u *unit) error {
	var err error
	switch u.kind {
	case unitRead:
		err = i.deps.Scheduler.RegisterPeriodic(u.name, func(ctx context.Context) error {
			return i.call(ctx, u, func() (goja.Value, error) {
				return u.fn(goja.Undefined())
			})
		}, i.cfg.Interval)
	case unitWrite:
		err = i.deps.Scheduler.RegisterExport(u.name, func(ctx context.Context, fam *metric.Family) error {
			return i.call(ctx, u, func() (goja.Value, error) {
				v, err := i.bridge.FamilyToValue(fam)
				if err != nil {
					return nil, err
				}
				return u.fn(goja.Undefined(), v)
			})
		})
	case unitNotification:
		err = i.deps.Scheduler.RegisterNotificationSink(u.name, func(ctx context.Context, n *metric.Notification) error {
			return i.call(ctx, u, func() (goja.Value, error) {
				v, err := i.bridge.NotificationToValue(n)
				if err != nil {
					return nil, err
				}
				return u.fn(goja.Undefined(), v)
			})
		})
	}
	if err != nil {
		return fmt.Errorf("register %s unit %q: %w", u.kind, u.name, err)
	}
	u.active = true
	return nil
}

func (i *Instance) unschedule(u *unit) {
	switch u.kind {
	case unitRead:
		i.deps.Scheduler.UnregisterPeriodic(u.name)
	case unitWrite:
		i.deps.Scheduler.UnregisterExport(u.name)
	case unitNotification:
		i.deps.Scheduler.UnregisterNotificationSink(u.name)
	}
	u.active = false
}
