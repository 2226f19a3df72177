package plugin

import (
	"context"
	"time"

	"github.com/HerbHall/metricd/pkg/metric"
)

// ReadFunc is a periodic collection unit.
type ReadFunc func(ctx context.Context) error

// WriteFunc is an export unit. The family is shared between units and must
// be treated as read-only.
type WriteFunc func(ctx context.Context, fam *metric.Family) error

// NotificationFunc receives notifications. The notification is shared
// between units and must be treated as read-only.
type NotificationFunc func(ctx context.Context, n *metric.Notification) error

// Scheduler owns the named host-visible units. Registering an existing
// name replaces the previous unit.
type Scheduler interface {
	RegisterPeriodic(name string, fn ReadFunc, interval time.Duration) error
	UnregisterPeriodic(name string) bool

	RegisterExport(name string, fn WriteFunc) error
	UnregisterExport(name string) bool

	RegisterNotificationSink(name string, fn NotificationFunc) error
	UnregisterNotificationSink(name string) bool
}

// Pipeline accepts dispatched data. Submissions return once the data is
// queued; they never wait for the units to process it.
type Pipeline interface {
	SubmitFamily(ctx context.Context, fam *metric.Family) error
	SubmitNotification(ctx context.Context, n *metric.Notification) error
}
