package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/HerbHall/metricd/pkg/metric"
	"github.com/HerbHall/metricd/pkg/plugin"
	"go.uber.org/zap"
)

// NotificationReadFailure is the name of the notifications emitted when a
// read unit crosses the failure threshold and when it recovers.
const NotificationReadFailure = "read_failure"

type periodicUnit struct {
	name     string
	fn       plugin.ReadFunc
	interval time.Duration
	cancel   context.CancelFunc

	mu        sync.Mutex
	failures  int
	effective time.Duration
}

func (u *periodicUnit) info() UnitInfo {
	u.mu.Lock()
	defer u.mu.Unlock()
	return UnitInfo{Kind: KindRead, Name: u.name, Interval: u.effective, Failures: u.failures}
}

// RegisterPeriodic starts a read unit that fires immediately and then every
// interval. A non-positive interval uses the default. An existing unit with
// the same name is replaced.
func (d *Dispatcher) RegisterPeriodic(name string, fn plugin.ReadFunc, interval time.Duration) error {
	if name == "" {
		return ErrEmptyName
	}
	if fn == nil {
		return ErrNilFunc
	}
	if interval <= 0 {
		interval = d.opts.DefaultInterval
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if old, ok := d.periodic[name]; ok {
		old.cancel()
	}
	ctx, cancel := context.WithCancel(d.ctx)
	u := &periodicUnit{name: name, fn: fn, interval: interval, cancel: cancel, effective: interval}
	d.periodic[name] = u
	d.wg.Add(1)
	go d.runPeriodic(ctx, u)
	d.metrics.units.WithLabelValues(KindRead).Set(float64(len(d.periodic)))
	d.mu.Unlock()

	d.logger.Debug("read unit registered", zap.String("unit", name), zap.Duration("interval", interval))
	d.publish(TopicUnitRegistered, KindRead, name)
	return nil
}

// UnregisterPeriodic stops the named read unit. A call in progress runs to
// completion. It reports whether the unit existed.
func (d *Dispatcher) UnregisterPeriodic(name string) bool {
	d.mu.Lock()
	u, ok := d.periodic[name]
	if ok {
		delete(d.periodic, name)
		u.cancel()
		d.metrics.units.WithLabelValues(KindRead).Set(float64(len(d.periodic)))
	}
	d.mu.Unlock()

	if ok {
		d.metrics.forget(KindRead, name)
		d.publish(TopicUnitUnregistered, KindRead, name)
	}
	return ok
}

func (d *Dispatcher) runPeriodic(ctx context.Context, u *periodicUnit) {
	defer d.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}

		started := time.Now()
		err := d.invoke(KindRead, u.name, func() error { return u.fn(ctx) })
		next, n := d.afterRead(u, err)
		if n != nil {
			d.notify(ctx, n)
		}
		timer.Reset(time.Until(started.Add(next)))
	}
}

// afterRead updates failure accounting and returns the delay until the
// next firing, plus a notification when the unit crossed the failure
// threshold or recovered. Past the threshold the delay doubles per failure
// up to MaxReadInterval.
func (d *Dispatcher) afterRead(u *periodicUnit, err error) (time.Duration, *metric.Notification) {
	threshold := d.opts.FailureThreshold

	u.mu.Lock()
	defer u.mu.Unlock()

	if err == nil {
		var n *metric.Notification
		if threshold > 0 && u.failures >= threshold {
			d.logger.Info("read unit recovered",
				zap.String("unit", u.name),
				zap.Int("failures", u.failures),
			)
			n = d.readNotification(u.name, metric.SeverityOkay, "read unit recovered", u.failures, nil)
		}
		u.failures = 0
		u.effective = u.interval
		return u.effective, n
	}

	u.failures++
	d.logger.Warn("read unit failed",
		zap.String("unit", u.name),
		zap.Int("consecutive_failures", u.failures),
		zap.Error(err),
	)
	if threshold <= 0 || u.failures < threshold {
		return u.effective, nil
	}
	var n *metric.Notification
	if u.failures == threshold {
		n = d.readNotification(u.name, metric.SeverityFailure, "read unit failing", u.failures, err)
	}
	u.effective *= 2
	if u.effective > d.opts.MaxReadInterval {
		u.effective = d.opts.MaxReadInterval
	}
	return u.effective, n
}

func (d *Dispatcher) readNotification(unit string, sev metric.Severity, summary string, failures int, cause error) *metric.Notification {
	n := &metric.Notification{
		Name:     NotificationReadFailure,
		Severity: sev,
		Time:     d.now(),
		Labels:   metric.Labels("unit", unit),
		Annotations: metric.Labels(
			"summary", summary,
			"failures", strconv.Itoa(failures),
		),
	}
	if cause != nil {
		n.Annotations.Set("error", cause.Error())
	}
	return n
}

func (d *Dispatcher) notify(ctx context.Context, n *metric.Notification) {
	if err := d.SubmitNotification(ctx, n); err != nil {
		d.logger.Debug("notification not submitted",
			zap.String("name", n.Name),
			zap.Error(fmt.Errorf("submit: %w", err)),
		)
	}
}
