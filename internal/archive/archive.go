// Package archive persists dispatched families and notifications in the
// shared SQLite store and serves them back over HTTP.
package archive

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/metricd/internal/config"
	"github.com/HerbHall/metricd/pkg/metric"
	"github.com/HerbHall/metricd/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Archive)(nil)
	_ plugin.HTTPProvider  = (*Archive)(nil)
	_ plugin.HealthChecker = (*Archive)(nil)
)

// PluginName is the registry name of the archive.
const PluginName = "archive"

// Unit names registered with the scheduler.
const (
	MetricsUnit       = PluginName + "/metrics"
	NotificationsUnit = PluginName + "/notifications"
	PruneUnit         = PluginName + "/prune"
)

// Config is plugins.archive. Path is read by the daemon to open the store.
type Config struct {
	Path          string        `mapstructure:"path"`
	Retention     time.Duration `mapstructure:"retention" validate:"gte=0"`
	PruneInterval time.Duration `mapstructure:"prune_interval" validate:"gte=0"`
	Metrics       *bool         `mapstructure:"metrics"`
}

// DefaultPruneInterval is used when retention is set without an interval.
const DefaultPruneInterval = time.Minute

// Archive is the archive plugin.
type Archive struct {
	logger *zap.Logger
	sched  plugin.Scheduler
	repo   *Repository
	now    func() time.Time
	cfg    Config

	samples       atomic.Int64
	notifications atomic.Int64
	lastErr       atomic.Value // string
}

// Option configures an Archive.
type Option func(*Archive)

// WithClock overrides the time source for receive times and pruning.
func WithClock(now func() time.Time) Option {
	return func(a *Archive) { a.now = now }
}

// New creates the archive plugin.
func New(opts ...Option) *Archive {
	a := &Archive{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Archive) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        PluginName,
		Version:     "1.0.0",
		Description: "Stores dispatched metrics and notifications in SQLite",
		APIVersion:  plugin.APIVersionCurrent,
	}
}

// Init decodes the config and migrates the archive tables.
func (a *Archive) Init(ctx context.Context, deps plugin.Dependencies) error {
	if deps.Logger != nil {
		a.logger = deps.Logger
	}
	if deps.Store == nil || deps.Scheduler == nil {
		return errors.New("archive: store and scheduler are required")
	}
	a.sched = deps.Scheduler

	if deps.Config != nil {
		if err := config.UnmarshalValid(deps.Config, &a.cfg); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
	}
	if a.cfg.Retention > 0 && a.cfg.PruneInterval == 0 {
		a.cfg.PruneInterval = DefaultPruneInterval
	}

	repo, err := NewRepository(ctx, deps.Store)
	if err != nil {
		return err
	}
	a.repo = repo
	return nil
}

func (a *Archive) storeMetrics() bool { return a.cfg.Metrics == nil || *a.cfg.Metrics }

// Start registers the archive units.
func (a *Archive) Start(context.Context) error {
	if a.storeMetrics() {
		if err := a.sched.RegisterExport(MetricsUnit, a.writeFamily); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
	}
	if err := a.sched.RegisterNotificationSink(NotificationsUnit, a.writeNotification); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if a.cfg.Retention > 0 {
		if err := a.sched.RegisterPeriodic(PruneUnit, a.prune, a.cfg.PruneInterval); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
	}
	a.logger.Info("archive started",
		zap.Bool("metrics", a.storeMetrics()),
		zap.Duration("retention", a.cfg.Retention),
	)
	return nil
}

func (a *Archive) Stop(context.Context) error {
	a.sched.UnregisterExport(MetricsUnit)
	a.sched.UnregisterNotificationSink(NotificationsUnit)
	a.sched.UnregisterPeriodic(PruneUnit)
	return nil
}

func (a *Archive) writeFamily(ctx context.Context, fam *metric.Family) error {
	n, err := a.repo.InsertFamily(ctx, fam, a.now())
	if err != nil {
		a.lastErr.Store(err.Error())
		return err
	}
	a.samples.Add(int64(n))
	return nil
}

func (a *Archive) writeNotification(ctx context.Context, n *metric.Notification) error {
	if _, err := a.repo.InsertNotification(ctx, n, a.now()); err != nil {
		a.lastErr.Store(err.Error())
		return err
	}
	a.notifications.Add(1)
	return nil
}

func (a *Archive) prune(ctx context.Context) error {
	removed, err := a.repo.Prune(ctx, a.now().Add(-a.cfg.Retention))
	if err != nil {
		a.lastErr.Store(err.Error())
		return err
	}
	if removed > 0 {
		a.logger.Debug("archive pruned", zap.Int64("rows", removed))
	}
	return nil
}

// Health is degraded after a write error.
func (a *Archive) Health(context.Context) plugin.HealthStatus {
	st := plugin.HealthStatus{
		Status: plugin.StatusHealthy,
		Details: map[string]string{
			"samples":       strconv.FormatInt(a.samples.Load(), 10),
			"notifications": strconv.FormatInt(a.notifications.Load(), 10),
		},
	}
	if msg, _ := a.lastErr.Load().(string); msg != "" {
		st.Status = plugin.StatusDegraded
		st.Message = msg
	}
	return st
}
