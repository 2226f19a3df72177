// Package server exposes the daemon's HTTP API: health, plugin listing,
// plugin routes and the Prometheus scrape endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/HerbHall/metricd/internal/registry"
	"github.com/HerbHall/metricd/internal/version"
	"github.com/HerbHall/metricd/pkg/plugin"
)

// VersionHeader is set on every core API response.
const VersionHeader = "X-Metricd-Version"

// Server is the metricd HTTP server.
type Server struct {
	httpServer *http.Server
	registry   *registry.Registry
	gatherer   prometheus.Gatherer
	scrapePath string
	logger     *zap.Logger
	mux        *http.ServeMux
}

// DefaultScrapePath is where the gatherer is served unless overridden.
const DefaultScrapePath = "/metrics"

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves g at the scrape path. Without it nothing is mounted
// there.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithScrapePath moves the scrape endpoint. Empty keeps the default.
func WithScrapePath(path string) Option {
	return func(s *Server) {
		if path != "" {
			s.scrapePath = path
		}
	}
}

// New creates a server and mounts the core and plugin routes.
func New(addr string, reg *registry.Registry, logger *zap.Logger, opts ...Option) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		registry:   reg,
		scrapePath: DefaultScrapePath,
		logger:     logger,
		mux:        mux,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerCoreRoutes()
	s.mountPluginRoutes()

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) registerCoreRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/plugins", s.handlePlugins)
	if s.gatherer != nil {
		s.mux.Handle("GET "+s.scrapePath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
			ErrorLog:      zap.NewStdLog(s.logger),
			ErrorHandling: promhttp.ContinueOnError,
		}))
	}
}

// mountPluginRoutes registers all plugin routes under /api/v1/{plugin}/.
func (s *Server) mountPluginRoutes() {
	for pluginName, routes := range s.registry.AllRoutes() {
		for _, route := range routes {
			pattern := fmt.Sprintf("%s /api/v1/%s%s", route.Method, pluginName, route.Path)
			s.mux.HandleFunc(pattern, route.Handler)
			s.logger.Debug("mounted route",
				zap.String("plugin", pluginName),
				zap.String("pattern", pattern),
			)
		}
	}
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("starting HTTP server", zap.String("addr", l.Addr().String()))
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(l)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status  string                         `json:"status"`
	Service string                         `json:"service"`
	Version map[string]string              `json:"version"`
	Plugins map[string]plugin.HealthStatus `json:"plugins,omitempty"`
}

// handleHealth reports the worst status of any plugin implementing
// plugin.HealthChecker. Unhealthy plugins turn the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  plugin.StatusHealthy,
		Service: "metricd",
		Version: version.Map(),
		Plugins: make(map[string]plugin.HealthStatus),
	}
	for _, p := range s.registry.All() {
		hc, ok := p.(plugin.HealthChecker)
		if !ok {
			continue
		}
		st := hc.Health(r.Context())
		resp.Plugins[p.Info().Name] = st
		if severity(st.Status) > severity(resp.Status) {
			resp.Status = st.Status
		}
	}

	code := http.StatusOK
	if resp.Status == plugin.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func severity(status string) int {
	switch status {
	case plugin.StatusDegraded:
		return 1
	case plugin.StatusUnhealthy:
		return 2
	default:
		return 0
	}
}

// handlePlugins returns the list of enabled plugins.
func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	plugins := s.registry.All()
	type pluginResponse struct {
		Name        string `json:"name"`
		Version     string `json:"version"`
		Description string `json:"description"`
	}
	info := make([]pluginResponse, 0, len(plugins))
	for _, p := range plugins {
		pi := p.Info()
		info = append(info, pluginResponse{
			Name:        pi.Name,
			Version:     pi.Version,
			Description: pi.Description,
		})
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(VersionHeader, version.Short())
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
