package script

import (
	"errors"

	"github.com/dop251/goja"

	"github.com/HerbHall/metricd/pkg/metric"
)

func (b *Bridge) newFamilyClass() *class {
	c := b.newClass("MetricFamily", func(args []goja.Value) any {
		name := b.familyName(arg(args, 0))
		f, err := metric.NewFamily(name, b.familyType(arg(args, 1)))
		if err != nil {
			b.throwType("%v", err)
		}
		if help := arg(args, 2); !isNullish(help) {
			f.Help = b.stringArg(help, "help")
		}
		if unit := arg(args, 3); !isNullish(unit) {
			f.Unit = b.stringArg(unit, "unit")
		}
		return &familyBox{f: f}
	})
	for _, t := range metric.Types() {
		c.constant(b.rt, t.String(), int(t))
	}

	b.accessor(c, "name", func(this goja.Value) goja.Value {
		return b.rt.ToValue(b.familyThis(this).f.Name)
	}, func(this, v goja.Value) {
		box := b.familyThis(this)
		box.f.Name = b.familyName(v)
	})
	b.accessor(c, "help", func(this goja.Value) goja.Value {
		return b.rt.ToValue(b.familyThis(this).f.Help)
	}, func(this, v goja.Value) {
		box := b.familyThis(this)
		box.f.Help = b.optionalString(v, "help")
	})
	b.accessor(c, "unit", func(this goja.Value) goja.Value {
		return b.rt.ToValue(b.familyThis(this).f.Unit)
	}, func(this, v goja.Value) {
		box := b.familyThis(this)
		box.f.Unit = b.optionalString(v, "unit")
	})
	b.accessor(c, "type", func(this goja.Value) goja.Value {
		return b.rt.ToValue(int(b.familyThis(this).f.Type))
	}, nil)
	b.accessor(c, "metrics", func(this goja.Value) goja.Value {
		f := b.familyThis(this).f
		items := make([]any, len(f.Metrics))
		for i, m := range f.Metrics {
			items[i] = b.instance(b.metrics[m.Type()], &metricBox{m: m.Clone()})
		}
		return b.rt.NewArray(items...)
	}, nil)

	b.method(c, "addMetric", func(call goja.FunctionCall) goja.Value {
		box := b.familyThis(call.This)
		mb, ok := b.unwrap(call.Argument(0)).(*metricBox)
		if !ok {
			b.throwType("addMetric: argument is not a metric")
		}
		if err := box.f.Add(mb.m); err != nil {
			if errors.Is(err, metric.ErrTypeMismatch) {
				b.throwType("addMetric: %s metric does not match %s family %q",
					mb.m.Type(), box.f.Type, box.f.Name)
			}
			b.throwType("addMetric: %v", err)
		}
		return call.This
	})
	b.method(c, "dispatch", func(call goja.FunctionCall) goja.Value {
		f := b.familyThis(call.This).f.Clone()
		if err := b.pipeline.SubmitFamily(b.ctx, f); err != nil {
			panic(b.rt.NewGoError(err))
		}
		return goja.Undefined()
	})
	b.method(c, "toString", func(call goja.FunctionCall) goja.Value {
		return b.rt.ToValue(b.familyThis(call.This).f.String())
	})
	return c
}

func (b *Bridge) familyName(v goja.Value) string {
	name := b.stringArg(v, "name")
	if name == "" {
		b.throwType("name must not be empty")
	}
	return name
}

func (b *Bridge) familyType(v goja.Value) metric.Type {
	f, _ := b.numberArg(v, "type")
	t := metric.Type(int(f))
	if float64(int(f)) != f || !t.Valid() {
		b.throwRange("invalid metric family type %v", f)
	}
	return t
}

func (b *Bridge) optionalString(v goja.Value, what string) string {
	if isNullish(v) {
		return ""
	}
	return b.stringArg(v, what)
}
