package metric

import (
	"math"
	"strconv"
	"strings"
	"time"
)

func (v StateSet) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, st := range v.States {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(st.Name)
		b.WriteByte('=')
		b.WriteString(strconv.FormatBool(st.Enabled))
	}
	b.WriteByte('}')
	return b.String()
}

func (v Info) String() string { return v.Labels.String() }

func (v Summary) String() string {
	var b strings.Builder
	b.WriteString("{sum=")
	b.WriteString(formatFloat(v.Sum))
	b.WriteString(", count=")
	b.WriteString(strconv.FormatUint(v.Count, 10))
	b.WriteString(", quantiles=[")
	for i, q := range v.Quantiles {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('[')
		b.WriteString(formatFloat(q.Quantile))
		b.WriteString(", ")
		b.WriteString(formatFloat(q.Value))
		b.WriteByte(']')
	}
	b.WriteString("]}")
	return b.String()
}

func (v Histogram) String() string { return formatHistogram(v) }

func (v GaugeHistogram) String() string { return formatHistogram(Histogram(v)) }

func formatHistogram(h Histogram) string {
	var b strings.Builder
	b.WriteByte('{')
	if h.HasSum {
		b.WriteString("sum=")
		b.WriteString(formatFloat(h.Sum))
		b.WriteString(", ")
	}
	b.WriteString("buckets=[")
	for i, bk := range h.Buckets {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('[')
		b.WriteString(formatFloat(bk.UpperBound))
		b.WriteString(", ")
		b.WriteString(strconv.FormatUint(bk.Counter, 10))
		b.WriteByte(']')
	}
	b.WriteString("]}")
	return b.String()
}

// String renders a stable structural dump of the metric.
func (m Metric) String() string {
	var b strings.Builder
	b.WriteString("{type=")
	b.WriteString(m.Type().String())
	b.WriteString(", value=")
	if m.Value != nil {
		b.WriteString(m.Value.String())
	} else {
		b.WriteString("nil")
	}
	b.WriteString(", labels=")
	b.WriteString(m.Labels.String())
	b.WriteString(", time=")
	b.WriteString(formatSeconds(Seconds(m.Time)))
	b.WriteString(", interval=")
	b.WriteString(formatSeconds(m.Interval.Seconds()))
	b.WriteByte('}')
	return b.String()
}

// String renders a stable structural dump of the family and its metrics.
func (f *Family) String() string {
	var b strings.Builder
	b.WriteString("{name=")
	b.WriteString(strconv.Quote(f.Name))
	b.WriteString(", type=")
	b.WriteString(f.Type.String())
	if f.Help != "" {
		b.WriteString(", help=")
		b.WriteString(strconv.Quote(f.Help))
	}
	if f.Unit != "" {
		b.WriteString(", unit=")
		b.WriteString(strconv.Quote(f.Unit))
	}
	b.WriteString(", metrics=[")
	for i, m := range f.Metrics {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(m.String())
	}
	b.WriteString("]}")
	return b.String()
}

// String renders a stable structural dump of the notification.
func (n *Notification) String() string {
	var b strings.Builder
	b.WriteString("{name=")
	b.WriteString(strconv.Quote(n.Name))
	b.WriteString(", severity=")
	b.WriteString(n.Severity.String())
	b.WriteString(", time=")
	b.WriteString(formatSeconds(Seconds(n.Time)))
	b.WriteString(", labels=")
	b.WriteString(n.Labels.String())
	b.WriteString(", annotations=")
	b.WriteString(n.Annotations.String())
	b.WriteByte('}')
	return b.String()
}

// Seconds converts t to fractional Unix seconds. The zero time maps to 0.
func Seconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMicro()) / 1e6
}

// FromSeconds converts fractional Unix seconds to a time rounded to the
// microsecond. Zero, negative and non-finite inputs map to the zero time.
func FromSeconds(s float64) time.Time {
	if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return time.Time{}
	}
	return time.UnixMicro(int64(math.Round(s * 1e6)))
}

// DurationFromSeconds converts fractional seconds to a duration rounded to
// the microsecond. Negative and non-finite inputs map to 0.
func DurationFromSeconds(s float64) time.Duration {
	if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}
	return time.Duration(math.Round(s*1e6)) * time.Microsecond
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 6, 64)
}
