package script

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/HerbHall/metricd/internal/config"
	"github.com/HerbHall/metricd/internal/server"
	"github.com/HerbHall/metricd/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Manager)(nil)
	_ plugin.HTTPProvider  = (*Manager)(nil)
	_ plugin.HealthChecker = (*Manager)(nil)
)

// PluginName is the registry name of the script manager.
const PluginName = "javascript"

type managerConfig struct {
	Instances []InstanceConfig `mapstructure:"instances" validate:"dive"`
}

// Manager is the javascript plugin. It owns one Instance per configured
// script. A script that fails to load or start is reported and left
// Failed; the others keep running.
type Manager struct {
	logger *zap.Logger

	mu        sync.RWMutex
	instances []*Instance
}

// NewManager creates the plugin. Instances are created in Init.
func NewManager() *Manager {
	return &Manager{logger: zap.NewNop()}
}

func (m *Manager) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        PluginName,
		Version:     "1.0.0",
		Description: "Runs user scripts that register read, write and notification hooks",
		APIVersion:  plugin.APIVersionCurrent,
	}
}

// Init decodes plugins.javascript.instances and creates every instance.
// Each instance's config subtree is taken from the ordered file tree.
func (m *Manager) Init(_ context.Context, deps plugin.Dependencies) error {
	if deps.Logger != nil {
		m.logger = deps.Logger
	}

	var cfg managerConfig
	if deps.Config != nil {
		if err := config.UnmarshalValid(deps.Config, &cfg); err != nil {
			return fmt.Errorf("javascript: %w", err)
		}
		nodes := deps.Config.Node().ChildrenNamed("instances")
		for n := range cfg.Instances {
			if n < len(nodes) {
				cfg.Instances[n].Config = nodes[n].Child("config")
			}
		}
	}

	seen := make(map[string]bool, len(cfg.Instances))
	instances := make([]*Instance, 0, len(cfg.Instances))
	for _, ic := range cfg.Instances {
		if seen[ic.Name] {
			return fmt.Errorf("javascript: duplicate instance name %q", ic.Name)
		}
		seen[ic.Name] = true

		inst, err := NewInstance(ic, Deps{
			Scheduler: deps.Scheduler,
			Pipeline:  deps.Pipeline,
			Logger:    m.logger,
			Bus:       deps.Bus,
		})
		if err != nil {
			return fmt.Errorf("javascript: %w", err)
		}
		instances = append(instances, inst)
	}

	m.mu.Lock()
	m.instances = instances
	m.mu.Unlock()

	m.logger.Info("javascript plugin initialized", zap.Int("instances", len(instances)))
	return nil
}

// Start loads and starts every instance in configuration order.
func (m *Manager) Start(ctx context.Context) error {
	failed := 0
	for _, inst := range m.Instances() {
		if err := inst.Load(ctx); err != nil {
			failed++
			continue
		}
		if err := inst.Start(ctx); err != nil {
			failed++
		}
	}
	m.logger.Info("javascript plugin started",
		zap.Int("instances", len(m.Instances())),
		zap.Int("failed", failed),
	)
	return nil
}

// Stop shuts instances down in reverse order.
func (m *Manager) Stop(ctx context.Context) error {
	instances := m.Instances()
	for n := len(instances) - 1; n >= 0; n-- {
		if err := instances[n].Shutdown(ctx); err != nil {
			m.logger.Warn("instance shutdown failed",
				zap.String("instance", instances[n].Name()),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Instances returns the configured instances in order.
func (m *Manager) Instances() []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Instance(nil), m.instances...)
}

// Instance returns the named instance.
func (m *Manager) Instance(name string) (*Instance, bool) {
	for _, inst := range m.Instances() {
		if inst.Name() == name {
			return inst, true
		}
	}
	return nil, false
}

// Health is degraded while any instance is Failed.
func (m *Manager) Health(context.Context) plugin.HealthStatus {
	details := make(map[string]string)
	status := plugin.StatusHealthy
	for _, inst := range m.Instances() {
		st := inst.State()
		details[inst.Name()] = st.String()
		if st == StateFailed {
			status = plugin.StatusDegraded
		}
	}
	return plugin.HealthStatus{Status: status, Details: details}
}

func (m *Manager) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: http.MethodGet, Path: "/instances", Handler: m.handleList},
		{Method: http.MethodGet, Path: "/instances/{name}", Handler: m.handleGet},
	}
}

func (m *Manager) handleList(w http.ResponseWriter, _ *http.Request) {
	instances := m.Instances()
	out := make([]Status, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.Status())
	}
	writeJSON(w, out)
}

func (m *Manager) handleGet(w http.ResponseWriter, r *http.Request) {
	inst, ok := m.Instance(r.PathValue("name"))
	if !ok {
		server.NotFound(w, fmt.Sprintf("no script instance %q", r.PathValue("name")), r.URL.Path)
		return
	}
	writeJSON(w, inst.Status())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
