// Package metric defines the daemon's metric and notification data model.
//
// Values produced on one side of the script bridge are never shared with the
// other side: every crossing goes through Clone.
package metric

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Sentinel errors returned by the data model.
var (
	ErrTypeMismatch = errors.New("metric type does not match family type")
	ErrInvalidType  = errors.New("invalid metric type")
	ErrInvalidKind  = errors.New("invalid numeric kind for metric type")
	ErrEmptyName    = errors.New("family name is empty")
)

// Type tags a metric value and the family that holds it.
type Type int

const (
	TypeUnknown Type = iota
	TypeGauge
	TypeCounter
	TypeStateSet
	TypeInfo
	TypeSummary
	TypeHistogram
	TypeGaugeHistogram
)

var typeNames = [...]string{
	TypeUnknown:        "UNKNOWN",
	TypeGauge:          "GAUGE",
	TypeCounter:        "COUNTER",
	TypeStateSet:       "STATE_SET",
	TypeInfo:           "INFO",
	TypeSummary:        "SUMMARY",
	TypeHistogram:      "HISTOGRAM",
	TypeGaugeHistogram: "GAUGE_HISTOGRAM",
}

// Types lists every metric type in tag order.
func Types() []Type {
	return []Type{
		TypeUnknown, TypeGauge, TypeCounter, TypeStateSet,
		TypeInfo, TypeSummary, TypeHistogram, TypeGaugeHistogram,
	}
}

// Valid reports whether t is one of the defined types.
func (t Type) Valid() bool {
	return t >= TypeUnknown && t <= TypeGaugeHistogram
}

func (t Type) String() string {
	if !t.Valid() {
		return "Type(" + strconv.Itoa(int(t)) + ")"
	}
	return typeNames[t]
}

// ParseType maps a type name such as "GAUGE" back to its tag.
func ParseType(s string) (Type, error) {
	for i, name := range typeNames {
		if name == s {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidType, s)
}

// NumberKind is the representation of a numeric metric value.
type NumberKind uint8

const (
	KindFloat64 NumberKind = iota
	KindInt64
	KindUint64
)

func (k NumberKind) String() string {
	switch k {
	case KindFloat64:
		return "float64"
	case KindInt64:
		return "int64"
	case KindUint64:
		return "uint64"
	default:
		return "NumberKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Number is a numeric value that remembers its representation.
type Number struct {
	Kind  NumberKind
	Float float64
	Int   int64
	Uint  uint64
}

// Float returns a float64 Number.
func Float(v float64) Number { return Number{Kind: KindFloat64, Float: v} }

// Int returns an int64 Number.
func Int(v int64) Number { return Number{Kind: KindInt64, Int: v} }

// Uint returns a uint64 Number.
func Uint(v uint64) Number { return Number{Kind: KindUint64, Uint: v} }

// Float64 returns the value as a float64 regardless of kind.
func (n Number) Float64() float64 {
	switch n.Kind {
	case KindInt64:
		return float64(n.Int)
	case KindUint64:
		return float64(n.Uint)
	default:
		return n.Float
	}
}

// Convert returns n re-expressed in kind k. Conversions to integer kinds
// truncate toward zero; negative or NaN values convert to 0 for Uint64.
func (n Number) Convert(k NumberKind) Number {
	if n.Kind == k {
		return n
	}
	switch k {
	case KindInt64:
		switch n.Kind {
		case KindUint64:
			if n.Uint > math.MaxInt64 {
				return Int(math.MaxInt64)
			}
			return Int(int64(n.Uint))
		default:
			return Int(floatToInt64(n.Float))
		}
	case KindUint64:
		switch n.Kind {
		case KindInt64:
			if n.Int < 0 {
				return Uint(0)
			}
			return Uint(uint64(n.Int))
		default:
			return Uint(floatToUint64(n.Float))
		}
	default:
		return Float(n.Float64())
	}
}

// Equal compares kind and value. NaN floats compare equal to each other.
func (n Number) Equal(o Number) bool {
	if n.Kind != o.Kind {
		return false
	}
	switch n.Kind {
	case KindInt64:
		return n.Int == o.Int
	case KindUint64:
		return n.Uint == o.Uint
	default:
		return n.Float == o.Float || (math.IsNaN(n.Float) && math.IsNaN(o.Float))
	}
}

func (n Number) String() string {
	switch n.Kind {
	case KindInt64:
		return strconv.FormatInt(n.Int, 10)
	case KindUint64:
		return strconv.FormatUint(n.Uint, 10)
	default:
		return formatFloat(n.Float)
	}
}

func floatToInt64(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

func floatToUint64(f float64) uint64 {
	switch {
	case math.IsNaN(f), f <= 0:
		return 0
	case f >= math.MaxUint64:
		return math.MaxUint64
	}
	return uint64(f)
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	case math.IsNaN(f):
		return "NaN"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
