package script

import (
	"github.com/dop251/goja"

	"github.com/HerbHall/metricd/pkg/metric"
)

func (b *Bridge) newNotificationClass() *class {
	c := b.newClass("Notification", func(args []goja.Value) any {
		n := &metric.Notification{
			Name:        b.optionalString(arg(args, 0), "name"),
			Severity:    metric.SeverityFailure,
			Labels:      b.labelsArg(arg(args, 3), "labels"),
			Annotations: b.labelsArg(arg(args, 4), "annotations"),
		}
		if sev := arg(args, 1); !isNullish(sev) {
			n.Severity = b.severityArg(sev)
		}
		if ts := arg(args, 2); !isNullish(ts) {
			n.Time = b.timeArg(ts, "time")
		} else {
			n.Time = metric.FromSeconds(metric.Seconds(b.now()))
		}
		return &notificationBox{n: n}
	})
	for _, s := range []metric.Severity{metric.SeverityFailure, metric.SeverityWarning, metric.SeverityOkay} {
		c.constant(b.rt, s.String(), int(s))
	}

	b.accessor(c, "name", func(this goja.Value) goja.Value {
		return b.rt.ToValue(b.notificationThis(this).n.Name)
	}, func(this, v goja.Value) {
		box := b.notificationThis(this)
		box.n.Name = b.optionalString(v, "name")
	})
	b.accessor(c, "severity", func(this goja.Value) goja.Value {
		return b.rt.ToValue(int(b.notificationThis(this).n.Severity))
	}, func(this, v goja.Value) {
		box := b.notificationThis(this)
		box.n.Severity = b.severityArg(v)
	})
	b.accessor(c, "time", func(this goja.Value) goja.Value {
		return b.timeValue(b.notificationThis(this).n.Time)
	}, func(this, v goja.Value) {
		box := b.notificationThis(this)
		box.n.Time = b.timeArg(v, "time")
	})
	b.accessor(c, "labels", func(this goja.Value) goja.Value {
		return b.labelsValue(b.notificationThis(this).n.Labels)
	}, func(this, v goja.Value) {
		box := b.notificationThis(this)
		box.n.Labels = b.labelsArg(v, "labels")
	})
	b.accessor(c, "annotations", func(this goja.Value) goja.Value {
		return b.labelsValue(b.notificationThis(this).n.Annotations)
	}, func(this, v goja.Value) {
		box := b.notificationThis(this)
		box.n.Annotations = b.labelsArg(v, "annotations")
	})

	b.method(c, "addLabel", func(call goja.FunctionCall) goja.Value {
		box := b.notificationThis(call.This)
		name := b.stringArg(call.Argument(0), "label name")
		value := b.stringArg(call.Argument(1), "label value")
		box.n.Labels.Set(name, value)
		return call.This
	})
	b.method(c, "addAnnotation", func(call goja.FunctionCall) goja.Value {
		box := b.notificationThis(call.This)
		name := b.stringArg(call.Argument(0), "annotation name")
		value := b.stringArg(call.Argument(1), "annotation value")
		box.n.Annotations.Set(name, value)
		return call.This
	})
	b.method(c, "dispatch", func(call goja.FunctionCall) goja.Value {
		n := b.notificationThis(call.This).n.Clone()
		if err := b.pipeline.SubmitNotification(b.ctx, n); err != nil {
			panic(b.rt.NewGoError(err))
		}
		return goja.Undefined()
	})
	b.method(c, "toString", func(call goja.FunctionCall) goja.Value {
		return b.rt.ToValue(b.notificationThis(call.This).n.String())
	})
	return c
}

func (b *Bridge) severityArg(v goja.Value) metric.Severity {
	f, _ := b.numberArg(v, "severity")
	s := metric.Severity(int(f))
	if float64(int(f)) != f || !s.Valid() {
		b.throwRange("invalid severity %v", f)
	}
	return s
}
