package exporter

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/metricd/internal/testutil"
	"github.com/HerbHall/metricd/pkg/metric"
	"github.com/HerbHall/metricd/pkg/plugin"
)

func newTestExporter(t *testing.T, clock *testutil.Clock) (*Exporter, *prometheus.Registry, *testutil.MockScheduler) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sched := testutil.NewMockScheduler()
	e := New(WithClock(clock.Now))
	require.NoError(t, e.Init(context.Background(), plugin.Dependencies{
		Scheduler: sched,
		Metrics:   reg,
	}))
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e, reg, sched
}

func family(name string, typ metric.Type, ms ...metric.Metric) *metric.Family {
	return &metric.Family{Name: name, Help: name + " help", Type: typ, Metrics: ms}
}

func TestExporterRegistersUnit(t *testing.T) {
	e, _, sched := newTestExporter(t, testutil.NewClock())
	assert.Equal(t, []string{UnitName}, sched.Writes())
	require.NoError(t, e.Stop(context.Background()))
	assert.Empty(t, sched.Writes())
}

func TestCollectAllTypes(t *testing.T) {
	_, reg, sched := newTestExporter(t, testutil.NewClock())
	ctx := context.Background()

	fams := []*metric.Family{
		family("demo", metric.TypeGauge, metric.Metric{
			Value: metric.Gauge{Number: metric.Float(42.5)}, Labels: metric.Labels("host", "a"),
		}),
		family("requests", metric.TypeCounter, metric.Metric{
			Value: metric.Counter{Number: metric.Uint(7)},
		}),
		family("raw", metric.TypeUnknown, metric.Metric{
			Value: metric.Unknown{Number: metric.Int(-3)},
		}),
		family("link", metric.TypeStateSet, metric.Metric{
			Value: metric.StateSet{States: []metric.State{{Name: "up", Enabled: true}, {Name: "down"}}},
		}),
		family("build", metric.TypeInfo, metric.Metric{
			Value: metric.Info{Labels: metric.Labels("version", "1.2.3")},
		}),
		family("rpc", metric.TypeSummary, metric.Metric{
			Value: metric.Summary{Sum: 12.5, Count: 4, Quantiles: []metric.Quantile{{Quantile: 0.5, Value: 2}}},
		}),
		family("latency", metric.TypeHistogram, metric.Metric{
			Value: metric.Histogram{HasSum: true, Sum: 3.5, Buckets: []metric.Bucket{
				{UpperBound: 1, Counter: 2}, {UpperBound: math.Inf(1), Counter: 5},
			}},
		}),
	}
	for _, fam := range fams {
		require.NoError(t, sched.FireWrite(ctx, UnitName, fam))
	}

	expected := `
# HELP build_info build help
# TYPE build_info gauge
build_info{version="1.2.3"} 1
# HELP demo demo help
# TYPE demo gauge
demo{host="a"} 42.5
# HELP latency latency help
# TYPE latency histogram
latency_bucket{le="1"} 2
latency_bucket{le="+Inf"} 5
latency_sum 3.5
latency_count 5
# HELP link link help
# TYPE link gauge
link{link="down"} 0
link{link="up"} 1
# HELP raw raw help
# TYPE raw untyped
raw -3
# HELP requests_total requests help
# TYPE requests_total counter
requests_total 7
# HELP rpc rpc help
# TYPE rpc summary
rpc{quantile="0.5"} 2
rpc_sum 12.5
rpc_count 4
`
	require.NoError(t, promtest.GatherAndCompare(reg, strings.NewReader(expected)))
}

func TestWriteReplacesByLabelSet(t *testing.T) {
	_, reg, sched := newTestExporter(t, testutil.NewClock())
	ctx := context.Background()

	gauge := func(v float64, host string) *metric.Family {
		return family("demo", metric.TypeGauge, metric.Metric{
			Value: metric.Gauge{Number: metric.Float(v)}, Labels: metric.Labels("host", host),
		})
	}
	require.NoError(t, sched.FireWrite(ctx, UnitName, gauge(1, "a")))
	require.NoError(t, sched.FireWrite(ctx, UnitName, gauge(2, "b")))
	require.NoError(t, sched.FireWrite(ctx, UnitName, gauge(3, "a")))

	expected := `
# HELP demo demo help
# TYPE demo gauge
demo{host="a"} 3
demo{host="b"} 2
`
	require.NoError(t, promtest.GatherAndCompare(reg, strings.NewReader(expected), "demo"))
}

func TestTypeChangeStartsOver(t *testing.T) {
	e, _, _ := newTestExporter(t, testutil.NewClock())
	ctx := context.Background()
	require.NoError(t, e.Write(ctx, family("x", metric.TypeGauge, metric.Metric{
		Value: metric.Gauge{Number: metric.Float(1)}, Labels: metric.Labels("a", "1"),
	})))
	require.NoError(t, e.Write(ctx, family("x", metric.TypeCounter, metric.Metric{
		Value: metric.Counter{Number: metric.Uint(1)},
	})))

	fams := e.snapshot()
	require.Len(t, fams, 1)
	assert.Equal(t, metric.TypeCounter, fams[0].Type)
	assert.Len(t, fams[0].Metrics, 1)
}

func TestSamplesExpire(t *testing.T) {
	clock := testutil.NewClock()
	e, reg, _ := newTestExporter(t, clock)
	ctx := context.Background()

	require.NoError(t, e.Write(ctx, testutil.NewFamily()))
	n, err := promtest.GatherAndCount(reg, "demo")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	clock.Advance(DefaultExpiry + time.Second)
	n, err = promtest.GatherAndCount(reg, "demo")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, e.snapshot())
}

func TestMetricName(t *testing.T) {
	tests := []struct {
		ns   string
		fam  metric.Family
		want string
	}{
		{"", metric.Family{Name: "demo", Type: metric.TypeGauge}, "demo"},
		{"js", metric.Family{Name: "demo", Type: metric.TypeGauge}, "js_demo"},
		{"", metric.Family{Name: "disk.read-bytes", Type: metric.TypeCounter}, "disk_read_bytes_total"},
		{"", metric.Family{Name: "io_total", Type: metric.TypeCounter}, "io_total"},
		{"", metric.Family{Name: "temp", Unit: "celsius", Type: metric.TypeGauge}, "temp_celsius"},
		{"", metric.Family{Name: "temp_celsius", Unit: "celsius", Type: metric.TypeGauge}, "temp_celsius"},
		{"", metric.Family{Name: "9lives", Type: metric.TypeInfo}, "_9lives_info"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := metricName(tt.ns, &tt.fam); got != tt.want {
				t.Errorf("metricName(%q, %q) = %q, want %q", tt.ns, tt.fam.Name, got, tt.want)
			}
		})
	}
}

func TestInvalidLabelsBecomeScrapeErrors(t *testing.T) {
	fam := family("clash", metric.TypeStateSet, metric.Metric{
		Value:  metric.StateSet{States: []metric.State{{Name: "on", Enabled: true}}},
		Labels: metric.Labels("clash", "x"),
	})
	e, reg, _ := newTestExporter(t, testutil.NewClock())
	require.NoError(t, e.Write(context.Background(), fam))
	_, err := reg.Gather()
	assert.Error(t, err, "a state label colliding with a metric label must fail the scrape")
}

func TestFamiliesRoute(t *testing.T) {
	e, _, _ := newTestExporter(t, testutil.NewClock())
	require.NoError(t, e.Write(context.Background(), testutil.NewFamily()))

	rec := httptest.NewRecorder()
	e.Routes()[0].Handler(rec, httptest.NewRequest(http.MethodGet, "/families", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "demo", got[0]["name"])
	assert.Equal(t, "GAUGE", got[0]["type"])

	assert.Equal(t, "1", e.Health(context.Background()).Details["families"])
}
