package metric

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// MarshalJSON encodes the set as a JSON object, keeping label order.
func (ls LabelSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	writeLabels(&buf, ls)
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object of string values, keeping key order.
func (ls *LabelSet) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*ls = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("label set: expected object, got %v", tok)
	}
	out := LabelSet{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("label %q: %w", key, err)
		}
		out = append(out, Label{Name: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*ls = out
	return nil
}

// MarshalJSON encodes the family with type names and per-type value shapes.
func (f *Family) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"name":`)
	writeString(&buf, f.Name)
	if f.Help != "" {
		buf.WriteString(`,"help":`)
		writeString(&buf, f.Help)
	}
	if f.Unit != "" {
		buf.WriteString(`,"unit":`)
		writeString(&buf, f.Unit)
	}
	buf.WriteString(`,"type":`)
	writeString(&buf, f.Type.String())
	buf.WriteString(`,"metrics":[`)
	for i, m := range f.Metrics {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeMetric(&buf, m)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON encodes the notification.
func (n *Notification) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"name":`)
	writeString(&buf, n.Name)
	buf.WriteString(`,"severity":`)
	writeString(&buf, n.Severity.String())
	buf.WriteString(`,"time":`)
	writeFloat(&buf, Seconds(n.Time))
	buf.WriteString(`,"labels":`)
	writeLabels(&buf, n.Labels)
	buf.WriteString(`,"annotations":`)
	writeLabels(&buf, n.Annotations)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ValueJSON encodes only the value part of a metric.
func ValueJSON(v Value) []byte {
	var buf bytes.Buffer
	writeValue(&buf, v)
	return buf.Bytes()
}

func writeMetric(buf *bytes.Buffer, m Metric) {
	buf.WriteString(`{"labels":`)
	writeLabels(buf, m.Labels)
	buf.WriteString(`,"time":`)
	writeFloat(buf, Seconds(m.Time))
	buf.WriteString(`,"interval":`)
	writeFloat(buf, m.Interval.Seconds())
	buf.WriteString(`,"value":`)
	writeValue(buf, m.Value)
	buf.WriteByte('}')
}

func writeValue(buf *bytes.Buffer, v Value) {
	switch x := v.(type) {
	case Unknown:
		writeNumber(buf, x.Number)
	case Gauge:
		writeNumber(buf, x.Number)
	case Counter:
		writeNumber(buf, x.Number)
	case StateSet:
		buf.WriteByte('{')
		for i, st := range x.States {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, st.Name)
			buf.WriteByte(':')
			buf.WriteString(strconv.FormatBool(st.Enabled))
		}
		buf.WriteByte('}')
	case Info:
		writeLabels(buf, x.Labels)
	case Summary:
		buf.WriteString(`{"sum":`)
		writeFloat(buf, x.Sum)
		buf.WriteString(`,"count":`)
		buf.WriteString(strconv.FormatUint(x.Count, 10))
		buf.WriteString(`,"quantiles":[`)
		for i, q := range x.Quantiles {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteByte('[')
			writeFloat(buf, q.Quantile)
			buf.WriteByte(',')
			writeFloat(buf, q.Value)
			buf.WriteByte(']')
		}
		buf.WriteString("]}")
	case Histogram:
		writeHistogram(buf, x)
	case GaugeHistogram:
		writeHistogram(buf, Histogram(x))
	default:
		buf.WriteString("null")
	}
}

func writeHistogram(buf *bytes.Buffer, h Histogram) {
	buf.WriteByte('{')
	if h.HasSum {
		buf.WriteString(`"sum":`)
		writeFloat(buf, h.Sum)
		buf.WriteByte(',')
	}
	buf.WriteString(`"buckets":[`)
	for i, b := range h.Buckets {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('[')
		writeFloat(buf, b.UpperBound)
		buf.WriteByte(',')
		buf.WriteString(strconv.FormatUint(b.Counter, 10))
		buf.WriteByte(']')
	}
	buf.WriteString("]}")
}

func writeLabels(buf *bytes.Buffer, ls LabelSet) {
	buf.WriteByte('{')
	for i, l := range ls {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, l.Name)
		buf.WriteByte(':')
		writeString(buf, l.Value)
	}
	buf.WriteByte('}')
}

func writeNumber(buf *bytes.Buffer, n Number) {
	switch n.Kind {
	case KindInt64:
		buf.WriteString(strconv.FormatInt(n.Int, 10))
	case KindUint64:
		buf.WriteString(strconv.FormatUint(n.Uint, 10))
	default:
		writeFloat(buf, n.Float)
	}
}

// writeFloat emits non-finite values as the strings "NaN", "+Inf", "-Inf".
func writeFloat(buf *bytes.Buffer, f float64) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		buf.WriteByte('"')
		buf.WriteString(formatFloat(f))
		buf.WriteByte('"')
		return
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}

func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}
