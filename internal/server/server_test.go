package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/metricd/internal/registry"
	"github.com/HerbHall/metricd/internal/version"
	"github.com/HerbHall/metricd/pkg/plugin"
)

type stubPlugin struct {
	name   string
	health string
	routes []plugin.Route
}

func (p *stubPlugin) Info() plugin.PluginInfo {
	return plugin.PluginInfo{Name: p.name, Version: "0.1.0", Description: p.name + " stub", APIVersion: plugin.APIVersionCurrent}
}
func (p *stubPlugin) Init(context.Context, plugin.Dependencies) error { return nil }
func (p *stubPlugin) Start(context.Context) error                     { return nil }
func (p *stubPlugin) Stop(context.Context) error                      { return nil }
func (p *stubPlugin) Routes() []plugin.Route                          { return p.routes }
func (p *stubPlugin) Health(context.Context) plugin.HealthStatus {
	return plugin.HealthStatus{Status: p.health}
}

func newTestServer(t *testing.T, plugins []*stubPlugin, opts ...Option) *Server {
	t.Helper()
	reg := registry.New(zap.NewNop())
	for _, p := range plugins {
		require.NoError(t, reg.Register(p))
	}
	require.NoError(t, reg.Validate())
	return New("127.0.0.1:0", reg, zap.NewNop(), opts...)
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
	return rec
}

func TestHealthAggregatesPlugins(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     string
		code     int
	}{
		{"no plugins", nil, plugin.StatusHealthy, http.StatusOK},
		{"all healthy", []string{plugin.StatusHealthy, plugin.StatusHealthy}, plugin.StatusHealthy, http.StatusOK},
		{"one degraded", []string{plugin.StatusHealthy, plugin.StatusDegraded}, plugin.StatusDegraded, http.StatusOK},
		{"unhealthy wins", []string{plugin.StatusUnhealthy, plugin.StatusDegraded}, plugin.StatusUnhealthy, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var plugins []*stubPlugin
			for n, st := range tt.statuses {
				plugins = append(plugins, &stubPlugin{name: string(rune('a' + n)), health: st})
			}
			rec := get(t, newTestServer(t, plugins), "/api/v1/health")
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, version.Short(), rec.Header().Get(VersionHeader))

			var body healthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body.Status)
			assert.Equal(t, "metricd", body.Service)
			assert.Len(t, body.Plugins, len(tt.statuses))
		})
	}
}

func TestPluginsList(t *testing.T) {
	s := newTestServer(t, []*stubPlugin{{name: "javascript", health: plugin.StatusHealthy}})
	rec := get(t, s, "/api/v1/plugins")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"name":"javascript","version":"0.1.0","description":"javascript stub"}]`, rec.Body.String())
}

func TestPluginRoutesAreMounted(t *testing.T) {
	p := &stubPlugin{name: "javascript", routes: []plugin.Route{{
		Method: http.MethodGet,
		Path:   "/instances",
		Handler: func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("instances"))
		},
	}}}
	s := newTestServer(t, []*stubPlugin{p})

	rec := get(t, s, "/api/v1/javascript/instances")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "instances", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/v1/other/instances").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "metricd_test_total", Help: "test counter"})
	reg.MustRegister(c)
	c.Add(3)

	s := newTestServer(t, nil, WithGatherer(reg))
	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "metricd_test_total 3"), rec.Body.String())
}

func TestMetricsEndpointNeedsGatherer(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/metrics").Code)
}

func TestScrapePathOption(t *testing.T) {
	s := newTestServer(t, nil, WithGatherer(prometheus.NewRegistry()), WithScrapePath("/scrape"))
	assert.Equal(t, http.StatusOK, get(t, s, "/scrape").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/metrics").Code)
}
