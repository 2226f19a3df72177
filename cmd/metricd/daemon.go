package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/HerbHall/metricd/internal/archive"
	"github.com/HerbHall/metricd/internal/config"
	"github.com/HerbHall/metricd/internal/dispatch"
	"github.com/HerbHall/metricd/internal/event"
	"github.com/HerbHall/metricd/internal/exporter"
	"github.com/HerbHall/metricd/internal/mqtt"
	"github.com/HerbHall/metricd/internal/registry"
	"github.com/HerbHall/metricd/internal/script"
	"github.com/HerbHall/metricd/internal/server"
	"github.com/HerbHall/metricd/internal/store"
	"github.com/HerbHall/metricd/internal/stream"
	"github.com/HerbHall/metricd/internal/version"
	"github.com/HerbHall/metricd/pkg/plugin"
)

// shutdownTimeout bounds the graceful stop after a signal.
const shutdownTimeout = 10 * time.Second

// daemon holds the long-lived services shared by all plugins.
type daemon struct {
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *prometheus.Registry
	bus        *event.Bus
	dispatcher *dispatch.Dispatcher
	store      *store.SQLiteStore
	registry   *registry.Registry
}

// pluginsFor returns the compiled-in plugins enabled by cfg, in
// registration order.
func pluginsFor(cfg plugin.Config) []plugin.Plugin {
	all := []struct {
		name string
		make func() plugin.Plugin
	}{
		{exporter.PluginName, func() plugin.Plugin { return exporter.New() }},
		{archive.PluginName, func() plugin.Plugin { return archive.New() }},
		{mqtt.PluginName, func() plugin.Plugin { return mqtt.New() }},
		{stream.PluginName, func() plugin.Plugin { return stream.New() }},
		{script.PluginName, func() plugin.Plugin { return script.NewManager() }},
	}
	var out []plugin.Plugin
	for _, p := range all {
		if cfg.GetBool("plugins." + p.name + ".enabled") {
			out = append(out, p.make())
		}
	}
	return out
}

func newDaemon(cfg *config.Config, logger *zap.Logger) (*daemon, error) {
	var opts dispatch.Options
	if err := config.UnmarshalValid(cfg.Sub("dispatch"), &opts); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	d := &daemon{
		cfg:     cfg,
		logger:  logger,
		metrics: prometheus.NewRegistry(),
		bus:     event.NewBus(logger.Named("event")),
	}
	d.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.dispatcher = dispatch.New(opts, logger.Named("dispatch"),
		dispatch.WithBus(d.bus),
		dispatch.WithRegisterer(d.metrics),
	)

	if cfg.GetBool("plugins.archive.enabled") {
		st, err := store.New(cfg.GetString("plugins.archive.path"))
		if err != nil {
			_ = d.dispatcher.Close(context.Background())
			return nil, fmt.Errorf("open archive: %w", err)
		}
		d.store = st
	}

	d.registry = registry.New(logger.Named("registry"))
	for _, p := range pluginsFor(cfg) {
		if err := d.registry.Register(p); err != nil {
			d.close(context.Background())
			return nil, err
		}
	}
	if err := d.registry.Validate(); err != nil {
		d.close(context.Background())
		return nil, err
	}
	return d, nil
}

// deps builds the dependency set for the named plugin.
func (d *daemon) deps(name string) plugin.Dependencies {
	deps := plugin.Dependencies{
		Config:    d.cfg.Sub("plugins." + name),
		Logger:    d.logger.Named(name),
		Bus:       d.bus,
		Scheduler: d.dispatcher,
		Pipeline:  d.dispatcher,
		Metrics:   d.metrics,
	}
	if d.store != nil {
		deps.Store = d.store
	}
	return deps
}

// run starts every plugin and the HTTP server, then blocks until ctx is
// cancelled or the server fails.
func (d *daemon) run(ctx context.Context) error {
	if err := d.registry.InitAll(ctx, d.deps); err != nil {
		d.stop()
		return err
	}
	if err := d.registry.StartAll(ctx); err != nil {
		d.stop()
		return err
	}

	srv := server.New(d.cfg.GetString("server.addr"), d.registry, d.logger.Named("server"),
		server.WithGatherer(d.metrics),
		server.WithScrapePath(d.cfg.GetString("plugins.exporter.path")),
	)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	d.logger.Info("metricd ready",
		zap.String("addr", d.cfg.GetString("server.addr")),
		zap.String("version", version.Short()),
	)

	var serveErr error
	select {
	case <-ctx.Done():
		d.logger.Info("shutdown requested")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		d.logger.Error("server shutdown error", zap.Error(err))
	}
	d.stop()
	d.logger.Info("metricd stopped")
	return serveErr
}

// stop stops plugins, then the dispatcher, then closes the store.
func (d *daemon) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	d.registry.StopAll(ctx)
	d.close(ctx)
}

func (d *daemon) close(ctx context.Context) {
	if err := d.dispatcher.Close(ctx); err != nil {
		d.logger.Warn("dispatcher close", zap.Error(err))
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("store close", zap.Error(err))
		}
	}
}

func runDaemon(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlagSet("run", stderr)
	configPath := fs.String("config", "", "path to configuration file")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.GetString("log.level"), cfg.GetString("log.format"))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("metricd starting", zap.String("version", version.Info()))
	d, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}
	if err := d.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
