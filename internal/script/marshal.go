package script

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/dop251/goja"

	"github.com/HerbHall/metricd/pkg/metric"
)

// Shape checks for values coming from scripts. Every check panics with a
// guest exception, which goja turns into a throw at the call site.

func arg(args []goja.Value, i int) goja.Value {
	if i < len(args) {
		return orUndefined(args[i])
	}
	return goja.Undefined()
}

func isNullish(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

func orUndefined(v goja.Value) goja.Value {
	if v == nil {
		return goja.Undefined()
	}
	return v
}

func (b *Bridge) throwType(format string, a ...any) {
	panic(b.rt.NewTypeError("%s", fmt.Sprintf(format, a...)))
}

func (b *Bridge) throwRange(format string, a ...any) {
	msg := b.rt.ToValue(fmt.Sprintf(format, a...))
	ctor, ok := goja.AssertConstructor(b.rt.Get("RangeError"))
	if !ok {
		panic(b.rt.NewTypeError("%s", msg.String()))
	}
	obj, err := ctor(nil, msg)
	if err != nil {
		panic(err)
	}
	panic(obj)
}

// numberArg returns v as a float. BigInt values are also returned exactly.
func (b *Bridge) numberArg(v goja.Value, what string) (float64, *big.Int) {
	if !isNullish(v) {
		switch n := v.Export().(type) {
		case int64:
			return float64(n), nil
		case float64:
			return n, nil
		case *big.Int:
			f, _ := new(big.Float).SetInt(n).Float64()
			return f, n
		}
	}
	b.throwType("%s must be a number", what)
	return 0, nil
}

func (b *Bridge) floatArg(v goja.Value, what string, def float64) float64 {
	if isNullish(v) {
		return def
	}
	f, _ := b.numberArg(v, what)
	return f
}

func (b *Bridge) uintArg(v goja.Value, what string) uint64 {
	f, bi := b.numberArg(v, what)
	if bi != nil {
		if bi.Sign() < 0 || !bi.IsUint64() {
			b.throwRange("%s must be a non-negative 64-bit integer", what)
		}
		return bi.Uint64()
	}
	if math.IsNaN(f) || f < 0 || f >= 1<<64 || f != math.Trunc(f) {
		b.throwRange("%s must be a non-negative 64-bit integer", what)
	}
	return uint64(f)
}

func (b *Bridge) stringArg(v goja.Value, what string) string {
	s, ok := exportString(v)
	if !ok {
		b.throwType("%s must be a string", what)
	}
	return s
}

func exportString(v goja.Value) (string, bool) {
	if isNullish(v) {
		return "", false
	}
	s, ok := v.Export().(string)
	return s, ok
}

// plainObject returns v as a non-array, non-function object.
func (b *Bridge) plainObject(v goja.Value, what string) *goja.Object {
	obj, ok := v.(*goja.Object)
	if ok {
		if _, isFn := goja.AssertFunction(obj); !isFn && obj.ClassName() != "Array" {
			return obj
		}
	}
	b.throwType("%s must be an object", what)
	return nil
}

func (b *Bridge) arrayArg(v goja.Value, what string) []goja.Value {
	obj, ok := v.(*goja.Object)
	if !ok || obj.ClassName() != "Array" {
		b.throwType("%s must be an array", what)
	}
	n := obj.Get("length").ToInteger()
	out := make([]goja.Value, n)
	for i := range out {
		out[i] = orUndefined(obj.Get(strconv.Itoa(i)))
	}
	return out
}

// labelsArg reads {name: "value"} in property order. Null and undefined
// give an empty set.
func (b *Bridge) labelsArg(v goja.Value, what string) metric.LabelSet {
	if isNullish(v) {
		return nil
	}
	obj := b.plainObject(v, what)
	keys := obj.Keys()
	ls := make(metric.LabelSet, 0, len(keys))
	for _, k := range keys {
		s, ok := exportString(obj.Get(k))
		if !ok {
			b.throwType("%s: value of %q must be a string", what, k)
		}
		ls = append(ls, metric.Label{Name: k, Value: s})
	}
	return ls
}

func (b *Bridge) labelsValue(ls metric.LabelSet) *goja.Object {
	obj := b.rt.NewObject()
	for _, l := range ls {
		_ = obj.Set(l.Name, l.Value)
	}
	return obj
}

func (b *Bridge) timeArg(v goja.Value, what string) time.Time {
	if isNullish(v) {
		return time.Time{}
	}
	f, _ := b.numberArg(v, what)
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		b.throwRange("%s must be a non-negative number of seconds", what)
	}
	return metric.FromSeconds(f)
}

func (b *Bridge) timeValue(t time.Time) goja.Value {
	return b.rt.ToValue(metric.Seconds(t))
}

func (b *Bridge) durationArg(v goja.Value, what string) time.Duration {
	if isNullish(v) {
		return 0
	}
	f, _ := b.numberArg(v, what)
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		b.throwRange("%s must be a non-negative number of seconds", what)
	}
	return metric.DurationFromSeconds(f)
}

func (b *Bridge) durationValue(d time.Duration) goja.Value {
	return b.rt.ToValue(d.Seconds())
}

// pairArg reads a two-element array.
func (b *Bridge) pairArg(v goja.Value, what string) (goja.Value, goja.Value) {
	obj, ok := v.(*goja.Object)
	if !ok || obj.ClassName() != "Array" || obj.Get("length").ToInteger() != 2 {
		b.throwType("%s must be a [x, y] pair", what)
	}
	items := b.arrayArg(v, what)
	return items[0], items[1]
}

// quantilesArg reads [[q, v], ...] in the order given. q must lie in [0, 1].
func (b *Bridge) quantilesArg(v goja.Value) []metric.Quantile {
	if isNullish(v) {
		return nil
	}
	items := b.arrayArg(v, "quantiles")
	out := make([]metric.Quantile, len(items))
	for i, item := range items {
		what := fmt.Sprintf("quantiles[%d]", i)
		q, val := b.pairArg(item, what)
		out[i].Quantile = b.floatArg(q, what+"[0]", math.NaN())
		if !(out[i].Quantile >= 0 && out[i].Quantile <= 1) {
			b.throwRange("%s: quantile %v outside [0, 1]", what, out[i].Quantile)
		}
		out[i].Value, _ = b.numberArg(val, what+"[1]")
	}
	return out
}

func (b *Bridge) quantilesValue(qs []metric.Quantile) *goja.Object {
	items := make([]any, len(qs))
	for i, q := range qs {
		items[i] = b.rt.NewArray(q.Quantile, q.Value)
	}
	return b.rt.NewArray(items...)
}

// bucketsArg reads [[upperBound, counter], ...] in the order given.
func (b *Bridge) bucketsArg(v goja.Value) []metric.Bucket {
	if isNullish(v) {
		return nil
	}
	items := b.arrayArg(v, "buckets")
	out := make([]metric.Bucket, len(items))
	for i, item := range items {
		what := fmt.Sprintf("buckets[%d]", i)
		ub, counter := b.pairArg(item, what)
		out[i].UpperBound, _ = b.numberArg(ub, what+"[0]")
		out[i].Counter = b.uintArg(counter, what+"[1]")
	}
	return out
}

func (b *Bridge) bucketsValue(bs []metric.Bucket) *goja.Object {
	items := make([]any, len(bs))
	for i, bk := range bs {
		items[i] = b.rt.NewArray(bk.UpperBound, b.uintValue(bk.Counter))
	}
	return b.rt.NewArray(items...)
}

// statesArg reads {name: true|false} in property order.
func (b *Bridge) statesArg(v goja.Value) []metric.State {
	if isNullish(v) {
		return nil
	}
	obj := b.plainObject(v, "states")
	keys := obj.Keys()
	out := make([]metric.State, 0, len(keys))
	for _, k := range keys {
		enabled, ok := orUndefined(obj.Get(k)).Export().(bool)
		if !ok {
			b.throwType("states: value of %q must be a boolean", k)
		}
		out = append(out, metric.State{Name: k, Enabled: enabled})
	}
	return out
}

func (b *Bridge) statesValue(states []metric.State) *goja.Object {
	obj := b.rt.NewObject()
	for _, st := range states {
		_ = obj.Set(st.Name, st.Enabled)
	}
	return obj
}

// uintValue keeps values up to MaxInt64 as exact integers.
func (b *Bridge) uintValue(u uint64) goja.Value {
	if u <= math.MaxInt64 {
		return b.rt.ToValue(int64(u))
	}
	return b.rt.ToValue(float64(u))
}

func (b *Bridge) numberValue(n metric.Number) goja.Value {
	switch n.Kind {
	case metric.KindInt64:
		return b.rt.ToValue(n.Int)
	case metric.KindUint64:
		return b.uintValue(n.Uint)
	default:
		return b.rt.ToValue(n.Float)
	}
}

// toNumber expresses a script number in kind k. Integer kinds truncate
// toward zero and reject values they cannot hold.
func (b *Bridge) toNumber(f float64, bi *big.Int, k metric.NumberKind) metric.Number {
	switch k {
	case metric.KindInt64:
		if bi != nil {
			if !bi.IsInt64() {
				b.throwRange("value %s overflows INT64", bi)
			}
			return metric.Int(bi.Int64())
		}
		if math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
			b.throwRange("value %v cannot be represented as INT64", f)
		}
		return metric.Float(f).Convert(metric.KindInt64)
	case metric.KindUint64:
		if bi != nil {
			if bi.Sign() < 0 || !bi.IsUint64() {
				b.throwRange("value %s cannot be represented as UINT64", bi)
			}
			return metric.Uint(bi.Uint64())
		}
		if math.IsNaN(f) || f < 0 || f >= 1<<64 {
			b.throwRange("value %v cannot be represented as UINT64", f)
		}
		return metric.Float(f).Convert(metric.KindUint64)
	default:
		return metric.Float(f)
	}
}
