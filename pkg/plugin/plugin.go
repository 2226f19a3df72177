// Package plugin defines the contracts between the daemon core and its
// compile-time plugins.
package plugin

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Plugin API versions accepted by the registry.
const (
	APIVersionMin     = 1
	APIVersionCurrent = 1
)

// PluginInfo describes a plugin to the registry.
type PluginInfo struct {
	Name         string
	Version      string
	Description  string
	Dependencies []string
	Required     bool
	APIVersion   int
}

// Plugin is implemented by every daemon module.
type Plugin interface {
	Info() PluginInfo

	// Init wires dependencies and reads configuration. No background work
	// may start before Start.
	Init(ctx context.Context, deps Dependencies) error

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Dependencies are handed to a plugin at Init.
type Dependencies struct {
	Config    Config
	Logger    *zap.Logger
	Bus       EventBus
	Store     Store
	Scheduler Scheduler
	Pipeline  Pipeline
	Metrics   prometheus.Registerer
}

// Route is an HTTP route exposed by a plugin, mounted under
// /api/v1/{plugin}.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}
