// Package mqtt publishes dispatched families and notifications as JSON to
// an MQTT broker. Publishing goes through a circuit breaker so a dead
// broker costs one fast failure per message instead of a timeout.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/HerbHall/metricd/internal/config"
	"github.com/HerbHall/metricd/pkg/metric"
	"github.com/HerbHall/metricd/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Plugin)(nil)
	_ plugin.HealthChecker = (*Plugin)(nil)
)

// PluginName is the registry name of the MQTT publisher.
const PluginName = "mqtt"

// Unit names registered with the scheduler.
const (
	MetricsUnit       = PluginName + "/metrics"
	NotificationsUnit = PluginName + "/notifications"
)

// Config is plugins.mqtt.
type Config struct {
	Broker      string        `mapstructure:"broker" validate:"required,url"`
	ClientID    string        `mapstructure:"client_id" validate:"required"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	QoS         byte          `mapstructure:"qos" validate:"lte=2"`
	Retain      bool          `mapstructure:"retain"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gte=0"`
	Metrics     *bool         `mapstructure:"metrics"`

	// Breaker settings.
	MaxFailures  uint32        `mapstructure:"max_failures"`
	OpenDuration time.Duration `mapstructure:"open_duration" validate:"gte=0"`
}

// Defaults applied by Init.
const (
	DefaultTimeout      = 5 * time.Second
	DefaultMaxFailures  = 5
	DefaultOpenDuration = 30 * time.Second
)

// Plugin is the MQTT publisher plugin.
type Plugin struct {
	logger  *zap.Logger
	sched   plugin.Scheduler
	cfg     Config
	pub     Publisher
	breaker *gobreaker.CircuitBreaker
}

// Option configures a Plugin.
type Option func(*Plugin)

// WithPublisher replaces the Paho client.
func WithPublisher(p Publisher) Option {
	return func(m *Plugin) { m.pub = p }
}

// New creates the MQTT plugin.
func New(opts ...Option) *Plugin {
	m := &Plugin{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Plugin) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        PluginName,
		Version:     "1.0.0",
		Description: "Publishes metrics and notifications to an MQTT broker",
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Plugin) Init(_ context.Context, deps plugin.Dependencies) error {
	if deps.Logger != nil {
		m.logger = deps.Logger
	}
	if deps.Scheduler == nil {
		return errors.New("mqtt: scheduler is required")
	}
	m.sched = deps.Scheduler

	if deps.Config != nil {
		if err := config.UnmarshalValid(deps.Config, &m.cfg); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if m.cfg.Timeout == 0 {
		m.cfg.Timeout = DefaultTimeout
	}
	if m.cfg.MaxFailures == 0 {
		m.cfg.MaxFailures = DefaultMaxFailures
	}
	if m.cfg.OpenDuration == 0 {
		m.cfg.OpenDuration = DefaultOpenDuration
	}

	maxFailures := m.cfg.MaxFailures
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        PluginName,
		MaxRequests: 1,
		Timeout:     m.cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.logger.Warn("mqtt breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return nil
}

func (m *Plugin) publishMetrics() bool { return m.cfg.Metrics == nil || *m.cfg.Metrics }

// Start connects to the broker and registers the units.
func (m *Plugin) Start(context.Context) error {
	if m.pub == nil {
		pub, err := dial(m.cfg, m.logger)
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		m.pub = pub
	}
	if m.publishMetrics() {
		if err := m.sched.RegisterExport(MetricsUnit, m.writeFamily); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if err := m.sched.RegisterNotificationSink(NotificationsUnit, m.writeNotification); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	m.logger.Info("mqtt publisher started",
		zap.String("broker", m.cfg.Broker),
		zap.String("topic_prefix", m.cfg.TopicPrefix),
	)
	return nil
}

func (m *Plugin) Stop(context.Context) error {
	m.sched.UnregisterExport(MetricsUnit)
	m.sched.UnregisterNotificationSink(NotificationsUnit)
	if m.pub != nil {
		m.pub.Close()
	}
	return nil
}

func (m *Plugin) writeFamily(ctx context.Context, fam *metric.Family) error {
	payload, err := fam.MarshalJSON()
	if err != nil {
		return err
	}
	return m.publish(ctx, m.topic("metric", fam.Name), payload)
}

func (m *Plugin) writeNotification(ctx context.Context, n *metric.Notification) error {
	payload, err := n.MarshalJSON()
	if err != nil {
		return err
	}
	return m.publish(ctx, m.topic("notification", n.Name), payload)
}

func (m *Plugin) publish(ctx context.Context, topic string, payload []byte) error {
	_, err := m.breaker.Execute(func() (any, error) {
		return nil, m.pub.Publish(ctx, topic, m.cfg.QoS, m.cfg.Retain, payload)
	})
	if err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

// topic joins the prefix, the kind and the name. Wildcard characters and
// slashes in the name are replaced so every message lands on one level.
func (m *Plugin) topic(kind, name string) string {
	name = strings.NewReplacer("+", "_", "#", "_", "/", "_").Replace(name)
	if m.cfg.TopicPrefix == "" {
		return kind + "/" + name
	}
	return m.cfg.TopicPrefix + "/" + kind + "/" + name
}

// Health follows the breaker: open is degraded.
func (m *Plugin) Health(context.Context) plugin.HealthStatus {
	if m.breaker == nil {
		return plugin.HealthStatus{Status: plugin.StatusHealthy}
	}
	st := m.breaker.State()
	status := plugin.StatusHealthy
	if st == gobreaker.StateOpen {
		status = plugin.StatusDegraded
	}
	counts := m.breaker.Counts()
	return plugin.HealthStatus{
		Status: status,
		Details: map[string]string{
			"breaker":              st.String(),
			"consecutive_failures": fmt.Sprint(counts.ConsecutiveFailures),
		},
	}
}
