package script

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/metricd/internal/config"
	"github.com/HerbHall/metricd/internal/testutil"
	"github.com/HerbHall/metricd/pkg/metric"
	"github.com/HerbHall/metricd/pkg/plugin"
)

const managerYAML = `
plugins:
  javascript:
    instances:
      - name: good
        interval: 30s
        source: |
          let prefix = "";
          metricd.registerConfig(function (c) {
            for (const child of c.childrens) {
              if (child.key === "prefix") prefix = child.values[0];
            }
          });
          metricd.registerRead(function read() {
            const f = new MetricFamily(prefix + "up", MetricFamily.GAUGE);
            f.addMetric(new MetricGauge(1));
            f.dispatch();
          });
        config:
          prefix: "js_"
      - name: broken
        source: "this is not javascript"
`

func managerConfigFromYAML(t *testing.T, doc string) plugin.Config {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(doc)))
	tree, err := config.ParseTree([]byte(doc))
	require.NoError(t, err)
	return config.New(v).WithTree(tree).Sub("plugins.javascript")
}

func startManager(t *testing.T, doc string) (*Manager, *testutil.MockScheduler, *testutil.MockPipeline) {
	t.Helper()
	sched := testutil.NewMockScheduler()
	pipe := testutil.NewMockPipeline()
	m := NewManager()
	require.NoError(t, m.Init(context.Background(), plugin.Dependencies{
		Config:    managerConfigFromYAML(t, doc),
		Logger:    zap.NewNop(),
		Bus:       testutil.NewMockBus(),
		Scheduler: sched,
		Pipeline:  pipe,
	}))
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m, sched, pipe
}

func TestManagerStartsInstancesInIsolation(t *testing.T) {
	m, sched, pipe := startManager(t, managerYAML)

	good, ok := m.Instance("good")
	require.True(t, ok)
	assert.Equal(t, StateRunning, good.State())

	broken, ok := m.Instance("broken")
	require.True(t, ok)
	assert.Equal(t, StateFailed, broken.State())

	assert.Equal(t, []string{"good/read"}, sched.Reads())
	require.NoError(t, sched.FireRead(context.Background(), "good/read"))

	fams := pipe.Families()
	require.Len(t, fams, 1)
	assert.Equal(t, "js_up", fams[0].Name, "config subtree reaches the config hook")
	assert.True(t, metric.ValueEqual(metric.Gauge{Number: metric.Float(1)}, fams[0].Metrics[0].Value))

	health := m.Health(context.Background())
	assert.Equal(t, plugin.StatusDegraded, health.Status)
	assert.Equal(t, "running", health.Details["good"])
	assert.Equal(t, "failed", health.Details["broken"])
}

func TestManagerStopFreesInstances(t *testing.T) {
	m, sched, _ := startManager(t, managerYAML)
	require.NoError(t, m.Stop(context.Background()))

	for _, inst := range m.Instances() {
		assert.Contains(t, []State{StateFreed, StateFailed}, inst.State(), inst.Name())
	}
	assert.Empty(t, sched.Reads())
}

func TestManagerRejectsDuplicateNames(t *testing.T) {
	doc := `
plugins:
  javascript:
    instances:
      - name: twin
        source: "1"
      - name: twin
        source: "2"
`
	m := NewManager()
	err := m.Init(context.Background(), plugin.Dependencies{
		Config:    managerConfigFromYAML(t, doc),
		Scheduler: testutil.NewMockScheduler(),
		Pipeline:  testutil.NewMockPipeline(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate instance name")
}

func TestManagerRejectsInvalidInstance(t *testing.T) {
	doc := `
plugins:
  javascript:
    instances:
      - script: orphan.js
`
	m := NewManager()
	err := m.Init(context.Background(), plugin.Dependencies{
		Config:    managerConfigFromYAML(t, doc),
		Scheduler: testutil.NewMockScheduler(),
		Pipeline:  testutil.NewMockPipeline(),
	})
	assert.Error(t, err)
}

func TestManagerWithoutConfig(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Init(context.Background(), plugin.Dependencies{}))
	require.NoError(t, m.Start(context.Background()))
	assert.Empty(t, m.Instances())
	assert.Equal(t, plugin.StatusHealthy, m.Health(context.Background()).Status)
}

func TestManagerRoutes(t *testing.T) {
	m, _, _ := startManager(t, managerYAML)

	mux := http.NewServeMux()
	for _, r := range m.Routes() {
		mux.HandleFunc(r.Method+" "+r.Path, r.Handler)
	}

	t.Run("list", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/instances", http.NoBody))
		require.Equal(t, http.StatusOK, rec.Code)

		var got []map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, "good", got[0]["name"])
		assert.Equal(t, "running", got[0]["state"])
		assert.Equal(t, "failed", got[1]["state"])
		assert.NotEmpty(t, got[1]["last_error"])
	})

	t.Run("get", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/instances/good", http.NoBody))
		require.Equal(t, http.StatusOK, rec.Code)

		var st Status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
		assert.Equal(t, []string{"read:good/read"}, st.Units)
	})

	t.Run("missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/instances/nope", http.NoBody))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")
	})
}
