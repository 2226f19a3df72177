package metric

import (
	"fmt"
	"math"
)

// Value is the payload of a Metric. The set of implementations is closed:
// Unknown, Gauge, Counter, StateSet, Info, Summary, Histogram and
// GaugeHistogram.
type Value interface {
	Type() Type
	String() string

	clone() Value
	equal(Value) bool
	validate() error
}

// Unknown is an untyped numeric value (float64 or int64).
type Unknown struct{ Number }

// Gauge is a numeric value that can go up and down (float64 or int64).
type Gauge struct{ Number }

// Counter is a numeric value that is monotonic by convention (uint64 or
// float64). The sign is not checked for float64 counters.
type Counter struct{ Number }

// State is one named flag of a StateSet.
type State struct {
	Name    string
	Enabled bool
}

// StateSet is an ordered set of named boolean flags.
type StateSet struct {
	States []State
}

// Info carries a label set as its value.
type Info struct {
	Labels LabelSet
}

// Quantile is one (quantile, value) point of a Summary.
type Quantile struct {
	Quantile float64
	Value    float64
}

// Summary is a precomputed quantile summary.
type Summary struct {
	Sum       float64
	Count     uint64
	Quantiles []Quantile
}

// Bucket is one cumulative histogram bucket.
type Bucket struct {
	UpperBound float64
	Counter    uint64
}

// Histogram holds cumulative buckets in the order the producer supplied
// them. Buckets are never sorted.
type Histogram struct {
	HasSum  bool
	Sum     float64
	Buckets []Bucket
}

// GaugeHistogram has the same shape as Histogram but its buckets may
// decrease between samples.
type GaugeHistogram Histogram

func (Unknown) Type() Type        { return TypeUnknown }
func (Gauge) Type() Type          { return TypeGauge }
func (Counter) Type() Type        { return TypeCounter }
func (StateSet) Type() Type       { return TypeStateSet }
func (Info) Type() Type           { return TypeInfo }
func (Summary) Type() Type        { return TypeSummary }
func (Histogram) Type() Type      { return TypeHistogram }
func (GaugeHistogram) Type() Type { return TypeGaugeHistogram }

// Count returns the total observation count, which is the counter of the
// last bucket.
func (h Histogram) Count() uint64 {
	if len(h.Buckets) == 0 {
		return 0
	}
	return h.Buckets[len(h.Buckets)-1].Counter
}

// Count returns the total observation count.
func (h GaugeHistogram) Count() uint64 { return Histogram(h).Count() }

// Get returns the state of the named flag.
func (s StateSet) Get(name string) (enabled, ok bool) {
	for _, st := range s.States {
		if st.Name == name {
			return st.Enabled, true
		}
	}
	return false, false
}

func (v Unknown) clone() Value  { return v }
func (v Gauge) clone() Value    { return v }
func (v Counter) clone() Value  { return v }
func (v StateSet) clone() Value { return StateSet{States: cloneSlice(v.States)} }
func (v Info) clone() Value     { return Info{Labels: v.Labels.Clone()} }

func (v Summary) clone() Value {
	v.Quantiles = cloneSlice(v.Quantiles)
	return v
}

func (v Histogram) clone() Value {
	v.Buckets = cloneSlice(v.Buckets)
	return v
}

func (v GaugeHistogram) clone() Value {
	v.Buckets = cloneSlice(v.Buckets)
	return v
}

func (v Unknown) equal(o Value) bool {
	ov, ok := o.(Unknown)
	return ok && v.Number.Equal(ov.Number)
}

func (v Gauge) equal(o Value) bool {
	ov, ok := o.(Gauge)
	return ok && v.Number.Equal(ov.Number)
}

func (v Counter) equal(o Value) bool {
	ov, ok := o.(Counter)
	return ok && v.Number.Equal(ov.Number)
}

func (v StateSet) equal(o Value) bool {
	ov, ok := o.(StateSet)
	return ok && sliceEqual(v.States, ov.States)
}

func (v Info) equal(o Value) bool {
	ov, ok := o.(Info)
	return ok && v.Labels.Equal(ov.Labels)
}

func (v Summary) equal(o Value) bool {
	ov, ok := o.(Summary)
	return ok && floatEqual(v.Sum, ov.Sum) && v.Count == ov.Count && sliceEqual(v.Quantiles, ov.Quantiles)
}

func (v Histogram) equal(o Value) bool {
	ov, ok := o.(Histogram)
	return ok && histogramEqual(v, ov)
}

func (v GaugeHistogram) equal(o Value) bool {
	ov, ok := o.(GaugeHistogram)
	return ok && histogramEqual(Histogram(v), Histogram(ov))
}

func (v Unknown) validate() error { return validateNumber(TypeUnknown, v.Number, KindFloat64, KindInt64) }
func (v Gauge) validate() error   { return validateNumber(TypeGauge, v.Number, KindFloat64, KindInt64) }
func (v Counter) validate() error { return validateNumber(TypeCounter, v.Number, KindUint64, KindFloat64) }

func (v StateSet) validate() error {
	seen := make(map[string]struct{}, len(v.States))
	for _, st := range v.States {
		if _, dup := seen[st.Name]; dup {
			return fmt.Errorf("duplicate state %q", st.Name)
		}
		seen[st.Name] = struct{}{}
	}
	return nil
}

func (v Info) validate() error { return nil }

func (v Summary) validate() error {
	for _, q := range v.Quantiles {
		if math.IsNaN(q.Quantile) || q.Quantile < 0 || q.Quantile > 1 {
			return fmt.Errorf("quantile %v out of range [0,1]", q.Quantile)
		}
	}
	return nil
}

func (v Histogram) validate() error      { return nil }
func (v GaugeHistogram) validate() error { return nil }

// Kinds returns the numeric kinds accepted by t, default first. Non-numeric
// types return nil.
func Kinds(t Type) []NumberKind {
	switch t {
	case TypeUnknown, TypeGauge:
		return []NumberKind{KindFloat64, KindInt64}
	case TypeCounter:
		return []NumberKind{KindUint64, KindFloat64}
	default:
		return nil
	}
}

// NumericValue builds the numeric value of type t. It returns
// ErrInvalidKind when n's kind is not allowed for t and ErrInvalidType when
// t is not numeric.
func NumericValue(t Type, n Number) (Value, error) {
	var v Value
	switch t {
	case TypeUnknown:
		v = Unknown{n}
	case TypeGauge:
		v = Gauge{n}
	case TypeCounter:
		v = Counter{n}
	default:
		return nil, fmt.Errorf("%w: %s is not numeric", ErrInvalidType, t)
	}
	if err := v.validate(); err != nil {
		return nil, err
	}
	return v, nil
}

// NumberOf returns the numeric payload of an Unknown, Gauge or Counter.
func NumberOf(v Value) (Number, bool) {
	switch x := v.(type) {
	case Unknown:
		return x.Number, true
	case Gauge:
		return x.Number, true
	case Counter:
		return x.Number, true
	default:
		return Number{}, false
	}
}

// CloneValue returns a deep copy of v.
func CloneValue(v Value) Value {
	if v == nil {
		return nil
	}
	return v.clone()
}

// ValueEqual reports whether a and b have the same type and content.
func ValueEqual(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.equal(b)
}

// ValidateValue checks the internal consistency of v.
func ValidateValue(v Value) error {
	if v == nil {
		return fmt.Errorf("%w: nil value", ErrInvalidType)
	}
	return v.validate()
}

func validateNumber(t Type, n Number, allowed ...NumberKind) error {
	for _, k := range allowed {
		if n.Kind == k {
			return nil
		}
	}
	return fmt.Errorf("%w: %s cannot hold %s", ErrInvalidKind, t, n.Kind)
}

func histogramEqual(a, b Histogram) bool {
	if a.HasSum != b.HasSum || (a.HasSum && !floatEqual(a.Sum, b.Sum)) {
		return false
	}
	return sliceEqual(a.Buckets, b.Buckets)
}

func floatEqual(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

func sliceEqual[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
