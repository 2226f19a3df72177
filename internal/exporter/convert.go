package exporter

import (
	"math"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/HerbHall/metricd/pkg/metric"
)

// convertFamily turns one cached family into const metrics. Metrics that
// client_golang rejects become invalid metrics so the scrape reports them.
func convertFamily(namespace string, fam *metric.Family) []prometheus.Metric {
	name := metricName(namespace, fam)
	help := fam.Help
	if help == "" {
		help = fam.Name
	}

	var out []prometheus.Metric
	for _, m := range fam.Metrics {
		names, values := labelPairs(m.Labels)
		switch v := m.Value.(type) {
		case metric.Unknown:
			out = append(out, constMetric(name, help, names, values, prometheus.UntypedValue, v.Float64(), m))
		case metric.Gauge:
			out = append(out, constMetric(name, help, names, values, prometheus.GaugeValue, v.Float64(), m))
		case metric.Counter:
			out = append(out, constMetric(name, help, names, values, prometheus.CounterValue, v.Float64(), m))
		case metric.StateSet:
			stateLabel := sanitize(fam.Name)
			for _, st := range v.States {
				val := 0.0
				if st.Enabled {
					val = 1
				}
				out = append(out, constMetric(name, help,
					append(cloneStrings(names), stateLabel),
					append(cloneStrings(values), st.Name),
					prometheus.GaugeValue, val, m))
			}
		case metric.Info:
			infoNames, infoValues := labelPairs(v.Labels)
			out = append(out, constMetric(name, help,
				append(cloneStrings(names), infoNames...),
				append(cloneStrings(values), infoValues...),
				prometheus.GaugeValue, 1, m))
		case metric.Summary:
			quantiles := make(map[float64]float64, len(v.Quantiles))
			for _, q := range v.Quantiles {
				quantiles[q.Quantile] = q.Value
			}
			desc := prometheus.NewDesc(name, help, names, nil)
			pm, err := prometheus.NewConstSummary(desc, v.Count, v.Sum, quantiles, values...)
			out = append(out, finish(desc, pm, err, m))
		case metric.Histogram:
			out = append(out, histogramMetric(name, help, names, values, v, m))
		case metric.GaugeHistogram:
			out = append(out, histogramMetric(name, help, names, values, metric.Histogram(v), m))
		}
	}
	return out
}

func constMetric(name, help string, names, values []string, vt prometheus.ValueType, v float64, m metric.Metric) prometheus.Metric {
	desc := prometheus.NewDesc(name, help, names, nil)
	pm, err := prometheus.NewConstMetric(desc, vt, v, values...)
	return finish(desc, pm, err, m)
}

// histogramMetric maps cumulative buckets onto a const histogram. The
// +Inf bucket becomes the sample count.
func histogramMetric(name, help string, names, values []string, h metric.Histogram, m metric.Metric) prometheus.Metric {
	buckets := make(map[float64]uint64, len(h.Buckets))
	var count uint64
	for _, b := range h.Buckets {
		if b.Counter > count {
			count = b.Counter
		}
		if math.IsInf(b.UpperBound, 1) {
			continue
		}
		buckets[b.UpperBound] = b.Counter
	}
	desc := prometheus.NewDesc(name, help, names, nil)
	pm, err := prometheus.NewConstHistogram(desc, count, h.Sum, buckets, values...)
	return finish(desc, pm, err, m)
}

func finish(desc *prometheus.Desc, pm prometheus.Metric, err error, m metric.Metric) prometheus.Metric {
	if err != nil {
		return prometheus.NewInvalidMetric(desc, err)
	}
	if !m.Time.IsZero() {
		return prometheus.NewMetricWithTimestamp(m.Time, pm)
	}
	return pm
}

// metricName builds the exposed name: namespace prefix, sanitized family
// name, unit suffix, and _total for counters and _info for info families.
func metricName(namespace string, fam *metric.Family) string {
	name := sanitize(fam.Name)
	if namespace != "" {
		name = sanitize(namespace) + "_" + name
	}
	if fam.Unit != "" {
		if unit := sanitize(fam.Unit); !strings.HasSuffix(name, "_"+unit) {
			name += "_" + unit
		}
	}
	switch fam.Type {
	case metric.TypeCounter:
		if !strings.HasSuffix(name, "_total") {
			name += "_total"
		}
	case metric.TypeInfo:
		if !strings.HasSuffix(name, "_info") {
			name += "_info"
		}
	}
	return name
}

func labelPairs(ls metric.LabelSet) (names, values []string) {
	names = make([]string, len(ls))
	values = make([]string, len(ls))
	for i, l := range ls {
		names[i] = strings.ReplaceAll(sanitize(l.Name), ":", "_")
		values[i] = l.Value
	}
	return names, values
}

// sanitize replaces characters that are not valid in a Prometheus name
// with underscores and prefixes names that start with a digit.
func sanitize(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(s) + 1)
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func cloneStrings(s []string) []string {
	return append([]string(nil), s...)
}
