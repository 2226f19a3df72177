package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/metricd/pkg/metric"
)

// FixtureTime is the timestamp used by fixtures.
var FixtureTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// NewFamily returns a gauge family named "demo" holding one metric with
// value 42.5 and labels {host="a"}. Override fields with options.
func NewFamily(opts ...func(*metric.Family)) *metric.Family {
	f := &metric.Family{
		Name: "demo",
		Help: "fixture family",
		Type: metric.TypeGauge,
		Metrics: []metric.Metric{{
			Value:    metric.Gauge{Number: metric.Float(42.5)},
			Labels:   metric.Labels("host", "a"),
			Time:     FixtureTime,
			Interval: 10 * time.Second,
		}},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithFamilyName sets the family name.
func WithFamilyName(name string) func(*metric.Family) {
	return func(f *metric.Family) { f.Name = name }
}

// WithMetrics replaces the family's metrics and sets the family type from
// the first one.
func WithMetrics(ms ...metric.Metric) func(*metric.Family) {
	return func(f *metric.Family) {
		f.Metrics = ms
		if len(ms) > 0 {
			f.Type = ms[0].Type()
		}
	}
}

// NewNotification returns a FAILURE notification with a unique id label.
func NewNotification(opts ...func(*metric.Notification)) *metric.Notification {
	n := &metric.Notification{
		Name:        "test_notification",
		Severity:    metric.SeverityFailure,
		Time:        FixtureTime,
		Labels:      metric.Labels("id", uuid.NewString()),
		Annotations: metric.Labels("summary", "fixture"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// WithSeverity sets the notification severity.
func WithSeverity(s metric.Severity) func(*metric.Notification) {
	return func(n *metric.Notification) { n.Severity = s }
}

// WithNotificationName sets the notification name.
func WithNotificationName(name string) func(*metric.Notification) {
	return func(n *metric.Notification) { n.Name = name }
}
