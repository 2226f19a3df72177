// Package exporter is the export unit that serves dispatched families to
// Prometheus. It caches the latest sample per family and label set and
// converts them to client_golang const metrics on every scrape.
package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/HerbHall/metricd/internal/config"
	"github.com/HerbHall/metricd/pkg/metric"
	"github.com/HerbHall/metricd/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Exporter)(nil)
	_ plugin.HTTPProvider  = (*Exporter)(nil)
	_ plugin.HealthChecker = (*Exporter)(nil)
	_ prometheus.Collector = (*Exporter)(nil)
)

// PluginName is the registry name of the exporter.
const PluginName = "exporter"

// UnitName is the export unit registered with the scheduler.
const UnitName = PluginName + "/prometheus"

// DefaultExpiry drops samples that were not refreshed for this long.
const DefaultExpiry = 5 * time.Minute

// Config is plugins.exporter.
type Config struct {
	Namespace string        `mapstructure:"namespace"`
	Expiry    time.Duration `mapstructure:"expiry" validate:"gte=0"`
}

type sample struct {
	metric  metric.Metric
	updated time.Time
}

type entry struct {
	help    string
	unit    string
	typ     metric.Type
	samples map[string]sample
}

// Exporter caches families handed to its export unit and implements
// prometheus.Collector over the cache.
type Exporter struct {
	logger *zap.Logger
	sched  plugin.Scheduler
	now    func() time.Time
	cfg    Config

	mu       sync.RWMutex
	families map[string]*entry
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) { e.now = now }
}

// New creates the exporter plugin.
func New(opts ...Option) *Exporter {
	e := &Exporter{
		logger:   zap.NewNop(),
		now:      time.Now,
		cfg:      Config{Expiry: DefaultExpiry},
		families: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Exporter) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        PluginName,
		Version:     "1.0.0",
		Description: "Serves dispatched metric families in the Prometheus exposition format",
		APIVersion:  plugin.APIVersionCurrent,
	}
}

// Init reads the config and registers the collector with deps.Metrics.
func (e *Exporter) Init(_ context.Context, deps plugin.Dependencies) error {
	if deps.Logger != nil {
		e.logger = deps.Logger
	}
	if deps.Scheduler == nil {
		return errors.New("exporter: scheduler is required")
	}
	e.sched = deps.Scheduler

	if deps.Config != nil {
		if err := config.UnmarshalValid(deps.Config, &e.cfg); err != nil {
			return fmt.Errorf("exporter: %w", err)
		}
	}
	if e.cfg.Expiry == 0 {
		e.cfg.Expiry = DefaultExpiry
	}

	if deps.Metrics != nil {
		if err := deps.Metrics.Register(e); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return fmt.Errorf("exporter: register collector: %w", err)
			}
		}
	}
	return nil
}

func (e *Exporter) Start(context.Context) error {
	if err := e.sched.RegisterExport(UnitName, e.Write); err != nil {
		return fmt.Errorf("exporter: %w", err)
	}
	e.logger.Info("exporter started", zap.Duration("expiry", e.cfg.Expiry))
	return nil
}

func (e *Exporter) Stop(context.Context) error {
	e.sched.UnregisterExport(UnitName)
	return nil
}

// Write stores the metrics of fam, replacing earlier samples with the same
// label set. A family whose type changed starts over.
func (e *Exporter) Write(_ context.Context, fam *metric.Family) error {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.families[fam.Name]
	if !ok || ent.typ != fam.Type {
		ent = &entry{typ: fam.Type, samples: make(map[string]sample)}
		e.families[fam.Name] = ent
	}
	ent.help = fam.Help
	ent.unit = fam.Unit
	for _, m := range fam.Metrics {
		ent.samples[m.Labels.String()] = sample{metric: m, updated: now}
	}
	return nil
}

// Describe sends nothing: the exported families change at runtime, which
// makes this an unchecked collector.
func (e *Exporter) Describe(chan<- *prometheus.Desc) {}

// Collect expires stale samples and emits the rest.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	for _, fam := range e.snapshot() {
		for _, m := range convertFamily(e.cfg.Namespace, fam) {
			ch <- m
		}
	}
}

// snapshot prunes expired samples and returns the cache as families
// ordered by name.
func (e *Exporter) snapshot() []*metric.Family {
	cutoff := e.now().Add(-e.cfg.Expiry)

	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*metric.Family, 0, len(e.families))
	for name, ent := range e.families {
		fam := &metric.Family{Name: name, Help: ent.help, Unit: ent.unit, Type: ent.typ}
		for key, s := range ent.samples {
			if s.updated.Before(cutoff) {
				delete(ent.samples, key)
				continue
			}
			fam.Metrics = append(fam.Metrics, s.metric)
		}
		if len(ent.samples) == 0 {
			delete(e.families, name)
			continue
		}
		sort.Slice(fam.Metrics, func(a, b int) bool {
			return fam.Metrics[a].Labels.String() < fam.Metrics[b].Labels.String()
		})
		out = append(out, fam)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Health reports the number of cached families.
func (e *Exporter) Health(context.Context) plugin.HealthStatus {
	e.mu.RLock()
	n := len(e.families)
	e.mu.RUnlock()
	return plugin.HealthStatus{
		Status:  plugin.StatusHealthy,
		Details: map[string]string{"families": fmt.Sprint(n)},
	}
}

func (e *Exporter) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: http.MethodGet, Path: "/families", Handler: e.handleFamilies},
	}
}

// handleFamilies returns the cached families in the metric JSON encoding.
func (e *Exporter) handleFamilies(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(e.snapshot()); err != nil {
		e.logger.Warn("encode families", zap.Error(err))
	}
}
