package metric

import (
	"fmt"
	"time"
)

// Metric is one sample: a value with its labels, collection time and
// expected sampling interval.
type Metric struct {
	Value    Value
	Labels   LabelSet
	Time     time.Time
	Interval time.Duration
}

// Type returns the type of the metric's value.
func (m Metric) Type() Type {
	if m.Value == nil {
		return TypeUnknown
	}
	return m.Value.Type()
}

// Clone returns a deep copy of m.
func (m Metric) Clone() Metric {
	return Metric{
		Value:    CloneValue(m.Value),
		Labels:   m.Labels.Clone(),
		Time:     m.Time,
		Interval: m.Interval,
	}
}

// Equal compares all fields. Times are compared with time.Time.Equal.
func (m Metric) Equal(o Metric) bool {
	return ValueEqual(m.Value, o.Value) &&
		m.Labels.Equal(o.Labels) &&
		m.Time.Equal(o.Time) &&
		m.Interval == o.Interval
}

// Family is a named, typed collection of metrics sharing one shape.
type Family struct {
	Name    string
	Help    string
	Unit    string
	Type    Type
	Metrics []Metric
}

// NewFamily returns an empty family. It fails on an empty name or an
// undefined type.
func NewFamily(name string, t Type) (*Family, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidType, int(t))
	}
	return &Family{Name: name, Type: t}, nil
}

// Add appends a clone of m. It fails with ErrTypeMismatch when m's value
// type differs from the family type.
func (f *Family) Add(m Metric) error {
	if m.Value == nil {
		return fmt.Errorf("%w: metric has no value", ErrInvalidType)
	}
	if m.Type() != f.Type {
		return fmt.Errorf("%w: %s into %s family %q", ErrTypeMismatch, m.Type(), f.Type, f.Name)
	}
	f.Metrics = append(f.Metrics, m.Clone())
	return nil
}

// Clone returns a deep copy of f.
func (f *Family) Clone() *Family {
	if f == nil {
		return nil
	}
	out := &Family{
		Name: f.Name,
		Help: f.Help,
		Unit: f.Unit,
		Type: f.Type,
	}
	if f.Metrics != nil {
		out.Metrics = make([]Metric, len(f.Metrics))
		for i, m := range f.Metrics {
			out.Metrics[i] = m.Clone()
		}
	}
	return out
}

// Validate checks the family name, type and every member metric.
func (f *Family) Validate() error {
	if f.Name == "" {
		return ErrEmptyName
	}
	if !f.Type.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidType, int(f.Type))
	}
	for i, m := range f.Metrics {
		if m.Type() != f.Type {
			return fmt.Errorf("metric %d: %w", i, ErrTypeMismatch)
		}
		if err := ValidateValue(m.Value); err != nil {
			return fmt.Errorf("metric %d: %w", i, err)
		}
	}
	return nil
}
