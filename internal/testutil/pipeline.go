package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/HerbHall/metricd/pkg/metric"
	"github.com/HerbHall/metricd/pkg/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Pipeline  = (*MockPipeline)(nil)
	_ plugin.Scheduler = (*MockScheduler)(nil)
)

// MockPipeline records submitted families and notifications.
type MockPipeline struct {
	mu            sync.Mutex
	families      []*metric.Family
	notifications []*metric.Notification
	Err           error
}

// NewMockPipeline returns an empty MockPipeline.
func NewMockPipeline() *MockPipeline {
	return &MockPipeline{}
}

// SubmitFamily records a clone of fam, or returns Err when set.
func (p *MockPipeline) SubmitFamily(_ context.Context, fam *metric.Family) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.families = append(p.families, fam.Clone())
	return nil
}

// SubmitNotification records a clone of n, or returns Err when set.
func (p *MockPipeline) SubmitNotification(_ context.Context, n *metric.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.notifications = append(p.notifications, n.Clone())
	return nil
}

// Families returns the recorded families.
func (p *MockPipeline) Families() []*metric.Family {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*metric.Family, len(p.families))
	copy(out, p.families)
	return out
}

// Notifications returns the recorded notifications.
func (p *MockPipeline) Notifications() []*metric.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*metric.Notification, len(p.notifications))
	copy(out, p.notifications)
	return out
}

// Reset clears all recorded submissions.
func (p *MockPipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.families = nil
	p.notifications = nil
}

// MockScheduler records registered units and fires them on demand instead
// of on a timer.
type MockScheduler struct {
	mu        sync.Mutex
	reads     map[string]plugin.ReadFunc
	intervals map[string]time.Duration
	writes    map[string]plugin.WriteFunc
	notifies  map[string]plugin.NotificationFunc
}

// NewMockScheduler returns an empty MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		reads:     make(map[string]plugin.ReadFunc),
		intervals: make(map[string]time.Duration),
		writes:    make(map[string]plugin.WriteFunc),
		notifies:  make(map[string]plugin.NotificationFunc),
	}
}

func (s *MockScheduler) RegisterPeriodic(name string, fn plugin.ReadFunc, interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads[name] = fn
	s.intervals[name] = interval
	return nil
}

func (s *MockScheduler) UnregisterPeriodic(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.reads[name]
	delete(s.reads, name)
	delete(s.intervals, name)
	return ok
}

func (s *MockScheduler) RegisterExport(name string, fn plugin.WriteFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes[name] = fn
	return nil
}

func (s *MockScheduler) UnregisterExport(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.writes[name]
	delete(s.writes, name)
	return ok
}

func (s *MockScheduler) RegisterNotificationSink(name string, fn plugin.NotificationFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifies[name] = fn
	return nil
}

func (s *MockScheduler) UnregisterNotificationSink(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.notifies[name]
	delete(s.notifies, name)
	return ok
}

// Reads returns the sorted names of registered read units.
func (s *MockScheduler) Reads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.reads)
}

// Writes returns the sorted names of registered export units.
func (s *MockScheduler) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.writes)
}

// NotificationSinks returns the sorted names of registered notification units.
func (s *MockScheduler) NotificationSinks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.notifies)
}

// Interval returns the interval a read unit was registered with.
func (s *MockScheduler) Interval(name string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intervals[name]
}

// FireRead invokes the named read unit.
func (s *MockScheduler) FireRead(ctx context.Context, name string) error {
	s.mu.Lock()
	fn, ok := s.reads[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no read unit %q", name)
	}
	return fn(ctx)
}

// FireWrite invokes the named export unit with fam.
func (s *MockScheduler) FireWrite(ctx context.Context, name string, fam *metric.Family) error {
	s.mu.Lock()
	fn, ok := s.writes[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no export unit %q", name)
	}
	return fn(ctx, fam)
}

// FireNotification invokes the named notification unit with n.
func (s *MockScheduler) FireNotification(ctx context.Context, name string, n *metric.Notification) error {
	s.mu.Lock()
	fn, ok := s.notifies[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no notification unit %q", name)
	}
	return fn(ctx, n)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
