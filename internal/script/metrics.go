package script

import (
	"strings"

	"github.com/dop251/goja"

	"github.com/HerbHall/metricd/pkg/metric"
)

// Script class names, indexed by metric type.
var classNames = [...]string{
	metric.TypeUnknown:        "MetricUnknown",
	metric.TypeGauge:          "MetricGauge",
	metric.TypeCounter:        "MetricCounter",
	metric.TypeStateSet:       "MetricStateSet",
	metric.TypeInfo:           "MetricInfo",
	metric.TypeSummary:        "MetricSummary",
	metric.TypeHistogram:      "MetricHistogram",
	metric.TypeGaugeHistogram: "MetricGaugeHistogram",
}

// valueArgs is the number of leading constructor arguments that describe
// the value. Labels, time and interval follow them.
func valueArgs(t metric.Type) int {
	switch t {
	case metric.TypeSummary:
		return 3
	case metric.TypeHistogram, metric.TypeGaugeHistogram:
		return 2
	default:
		return 1
	}
}

func (b *Bridge) newMetricClass(t metric.Type) *class {
	n := valueArgs(t)
	c := b.newClass(classNames[t], func(args []goja.Value) any {
		m := metric.Metric{
			Value:    b.parseValue(t, args),
			Labels:   b.labelsArg(arg(args, n), "labels"),
			Time:     b.timeArg(arg(args, n+1), "time"),
			Interval: b.durationArg(arg(args, n+2), "interval"),
		}
		return &metricBox{m: m}
	})

	for i, k := range metric.Kinds(t) {
		c.constant(b.rt, strings.ToUpper(k.String()), i)
	}

	b.accessor(c, "type", func(this goja.Value) goja.Value {
		return b.rt.ToValue(int(b.metricThis(this).m.Type()))
	}, nil)
	b.accessor(c, "labels", func(this goja.Value) goja.Value {
		return b.labelsValue(b.metricThis(this).m.Labels)
	}, func(this, v goja.Value) {
		box := b.metricThis(this)
		box.m.Labels = b.labelsArg(v, "labels")
	})
	b.accessor(c, "time", func(this goja.Value) goja.Value {
		return b.timeValue(b.metricThis(this).m.Time)
	}, func(this, v goja.Value) {
		box := b.metricThis(this)
		box.m.Time = b.timeArg(v, "time")
	})
	b.accessor(c, "interval", func(this goja.Value) goja.Value {
		return b.durationValue(b.metricThis(this).m.Interval)
	}, func(this, v goja.Value) {
		box := b.metricThis(this)
		box.m.Interval = b.durationArg(v, "interval")
	})
	b.method(c, "toString", func(call goja.FunctionCall) goja.Value {
		return b.rt.ToValue(b.metricThis(call.This).m.String())
	})

	switch t {
	case metric.TypeUnknown, metric.TypeGauge, metric.TypeCounter:
		b.numericAccessors(c, t)
	case metric.TypeStateSet:
		b.valueAccessor(c, t, "value", func(v metric.Value) goja.Value {
			return b.statesValue(v.(metric.StateSet).States)
		}, func(_ metric.Value, in goja.Value) metric.Value {
			return b.stateSet(in)
		})
	case metric.TypeInfo:
		b.valueAccessor(c, t, "value", func(v metric.Value) goja.Value {
			return b.labelsValue(v.(metric.Info).Labels)
		}, func(_ metric.Value, in goja.Value) metric.Value {
			return metric.Info{Labels: b.labelsArg(in, "info")}
		})
	case metric.TypeSummary:
		b.summaryAccessors(c)
	case metric.TypeHistogram, metric.TypeGaugeHistogram:
		b.histogramAccessors(c, t)
	}
	return c
}

// parseValue builds the value of a t metric from constructor arguments.
func (b *Bridge) parseValue(t metric.Type, args []goja.Value) metric.Value {
	switch t {
	case metric.TypeUnknown, metric.TypeGauge, metric.TypeCounter:
		// (value, labels, time, interval, kind)
		return b.numeric(t, arg(args, 0), arg(args, 4))
	case metric.TypeStateSet:
		return b.stateSet(arg(args, 0))
	case metric.TypeInfo:
		return metric.Info{Labels: b.labelsArg(arg(args, 0), "info")}
	case metric.TypeSummary:
		s := metric.Summary{Sum: b.floatArg(arg(args, 0), "sum", 0)}
		if c := arg(args, 1); !isNullish(c) {
			s.Count = b.uintArg(c, "count")
		}
		s.Quantiles = b.quantilesArg(arg(args, 2))
		return s
	default:
		h := b.histogram(arg(args, 0), arg(args, 1))
		if t == metric.TypeGaugeHistogram {
			return metric.GaugeHistogram(h)
		}
		return h
	}
}

func (b *Bridge) stateSet(v goja.Value) metric.StateSet {
	s := metric.StateSet{States: b.statesArg(v)}
	if err := metric.ValidateValue(s); err != nil {
		b.throwRange("%v", err)
	}
	return s
}

func (b *Bridge) histogram(sum, buckets goja.Value) metric.Histogram {
	h := metric.Histogram{Buckets: b.bucketsArg(buckets)}
	if !isNullish(sum) {
		h.HasSum = true
		h.Sum, _ = b.numberArg(sum, "sum")
	}
	return h
}

// numeric builds an Unknown, Gauge or Counter. Plain numbers default to
// FLOAT64; BigInt selects the type's integer kind.
func (b *Bridge) numeric(t metric.Type, v, kindArg goja.Value) metric.Value {
	kind, explicit := b.kindArg(t, kindArg)
	var n metric.Number
	if isNullish(v) {
		n = metric.Float(0).Convert(kind)
	} else {
		f, bi := b.numberArg(v, "value")
		if bi != nil && !explicit {
			kind = integerKind(t)
		}
		n = b.toNumber(f, bi, kind)
	}
	val, err := metric.NumericValue(t, n)
	if err != nil {
		b.throwRange("%v", err)
	}
	return val
}

func integerKind(t metric.Type) metric.NumberKind {
	if t == metric.TypeCounter {
		return metric.KindUint64
	}
	return metric.KindInt64
}

// kindArg maps a class kind constant to its representation. Without one
// the result is FLOAT64 and explicit is false.
func (b *Bridge) kindArg(t metric.Type, v goja.Value) (kind metric.NumberKind, explicit bool) {
	if isNullish(v) {
		return metric.KindFloat64, false
	}
	kinds := metric.Kinds(t)
	f, _ := b.numberArg(v, "kind")
	i := int(f)
	if float64(i) != f || i < 0 || i >= len(kinds) {
		b.throwRange("invalid kind %v for %s", f, classNames[t])
	}
	return kinds[i], true
}

func kindConstant(t metric.Type, k metric.NumberKind) int {
	for i, known := range metric.Kinds(t) {
		if known == k {
			return i
		}
	}
	return -1
}

// valueAccessor defines a property reading and replacing the metric value.
// build returns the complete new value before anything is stored.
func (b *Bridge) valueAccessor(c *class, t metric.Type, name string,
	get func(metric.Value) goja.Value, build func(cur metric.Value, in goja.Value) metric.Value,
) {
	b.accessor(c, name, func(this goja.Value) goja.Value {
		return get(b.typedThis(this, t).m.Value)
	}, func(this, in goja.Value) {
		box := b.typedThis(this, t)
		box.m.Value = build(box.m.Value, in)
	})
}

func (b *Bridge) typedThis(this goja.Value, t metric.Type) *metricBox {
	box := b.metricThis(this)
	if box.m.Type() != t {
		b.throwType("illegal invocation: receiver is not a %s", classNames[t])
	}
	return box
}

func (b *Bridge) numericAccessors(c *class, t metric.Type) {
	number := func(v metric.Value) metric.Number {
		n, _ := metric.NumberOf(v)
		return n
	}
	b.valueAccessor(c, t, "value", func(v metric.Value) goja.Value {
		return b.numberValue(number(v))
	}, func(cur metric.Value, in goja.Value) metric.Value {
		f, bi := b.numberArg(in, "value")
		val, err := metric.NumericValue(t, b.toNumber(f, bi, number(cur).Kind))
		if err != nil {
			b.throwRange("%v", err)
		}
		return val
	})
	b.accessor(c, "kind", func(this goja.Value) goja.Value {
		return b.rt.ToValue(kindConstant(t, number(b.typedThis(this, t).m.Value).Kind))
	}, nil)
	b.method(c, "setValue", func(call goja.FunctionCall) goja.Value {
		box := b.typedThis(call.This, t)
		kind := call.Argument(1)
		if isNullish(kind) {
			kind = b.rt.ToValue(kindConstant(t, number(box.m.Value).Kind))
		}
		box.m.Value = b.numeric(t, call.Argument(0), kind)
		return call.This
	})
}

func (b *Bridge) summaryAccessors(c *class) {
	t := metric.TypeSummary
	summary := func(v metric.Value) metric.Summary { return v.(metric.Summary) }
	b.valueAccessor(c, t, "sum", func(v metric.Value) goja.Value {
		return b.rt.ToValue(summary(v).Sum)
	}, func(cur metric.Value, in goja.Value) metric.Value {
		s := summary(metric.CloneValue(cur))
		s.Sum, _ = b.numberArg(in, "sum")
		return s
	})
	b.valueAccessor(c, t, "count", func(v metric.Value) goja.Value {
		return b.uintValue(summary(v).Count)
	}, func(cur metric.Value, in goja.Value) metric.Value {
		s := summary(metric.CloneValue(cur))
		s.Count = b.uintArg(in, "count")
		return s
	})
	b.valueAccessor(c, t, "quantiles", func(v metric.Value) goja.Value {
		return b.quantilesValue(summary(v).Quantiles)
	}, func(cur metric.Value, in goja.Value) metric.Value {
		s := summary(cur)
		s.Quantiles = b.quantilesArg(in)
		return s
	})
}

func (b *Bridge) histogramAccessors(c *class, t metric.Type) {
	toHist := func(v metric.Value) metric.Histogram {
		if g, ok := v.(metric.GaugeHistogram); ok {
			return metric.Histogram(g)
		}
		return v.(metric.Histogram)
	}
	fromHist := func(h metric.Histogram) metric.Value {
		if t == metric.TypeGaugeHistogram {
			return metric.GaugeHistogram(h)
		}
		return h
	}
	b.valueAccessor(c, t, "sum", func(v metric.Value) goja.Value {
		h := toHist(v)
		if !h.HasSum {
			return goja.Null()
		}
		return b.rt.ToValue(h.Sum)
	}, func(cur metric.Value, in goja.Value) metric.Value {
		h := toHist(metric.CloneValue(cur))
		h.HasSum, h.Sum = false, 0
		if !isNullish(in) {
			h.HasSum = true
			h.Sum, _ = b.numberArg(in, "sum")
		}
		return fromHist(h)
	})
	b.valueAccessor(c, t, "buckets", func(v metric.Value) goja.Value {
		return b.bucketsValue(toHist(v).Buckets)
	}, func(cur metric.Value, in goja.Value) metric.Value {
		h := toHist(cur)
		h.Buckets = b.bucketsArg(in)
		return fromHist(h)
	})
}
