package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/metricd/internal/config"
	"github.com/HerbHall/metricd/internal/script"
	"github.com/HerbHall/metricd/pkg/metric"
	"github.com/HerbHall/metricd/pkg/plugin"
)

// recorder is the scheduler and pipeline used by check. Units are kept
// but never scheduled; submissions are only counted.
type recorder struct {
	mu            sync.Mutex
	reads         map[string]plugin.ReadFunc
	families      int
	notifications int
}

func newRecorder() *recorder {
	return &recorder{reads: make(map[string]plugin.ReadFunc)}
}

func (r *recorder) RegisterPeriodic(name string, fn plugin.ReadFunc, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads[name] = fn
	return nil
}

func (r *recorder) UnregisterPeriodic(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.reads[name]
	delete(r.reads, name)
	return ok
}

func (r *recorder) RegisterExport(string, plugin.WriteFunc) error                  { return nil }
func (r *recorder) UnregisterExport(string) bool                                   { return true }
func (r *recorder) RegisterNotificationSink(string, plugin.NotificationFunc) error { return nil }
func (r *recorder) UnregisterNotificationSink(string) bool                         { return true }

func (r *recorder) SubmitFamily(context.Context, *metric.Family) error {
	r.mu.Lock()
	r.families++
	r.mu.Unlock()
	return nil
}

func (r *recorder) SubmitNotification(context.Context, *metric.Notification) error {
	r.mu.Lock()
	r.notifications++
	r.mu.Unlock()
	return nil
}

func (r *recorder) counts() (families, notifications int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.families, r.notifications
}

// readsFor returns the read units of one instance in name order.
func (r *recorder) readsFor(instance string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for name := range r.reads {
		if strings.HasPrefix(name, instance+"/") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (r *recorder) fire(ctx context.Context, name string) error {
	r.mu.Lock()
	fn := r.reads[name]
	r.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("no read unit %q", name)
	}
	return fn(ctx)
}

var errCheckFailed = errors.New("one or more instances failed")

// checkResult is the outcome of one instance dry run.
type checkResult struct {
	Name          string
	State         script.State
	Units         []string
	Families      int
	Notifications int
	Err           string
}

func (r checkResult) String() string {
	if r.Err != "" {
		return fmt.Sprintf("%s: FAIL (%s) %s", r.Name, r.State, r.Err)
	}
	return fmt.Sprintf("%s: ok units=[%s] families=%d notifications=%d",
		r.Name, strings.Join(r.Units, ", "), r.Families, r.Notifications)
}

// checkInstances loads and starts every configured script instance
// against a recording pipeline, fires each registered read once and shuts
// everything down again.
func checkInstances(ctx context.Context, cfg plugin.Config) ([]checkResult, error) {
	rec := newRecorder()

	m := script.NewManager()
	if err := m.Init(ctx, plugin.Dependencies{Config: cfg, Scheduler: rec, Pipeline: rec}); err != nil {
		return nil, err
	}
	if err := m.Start(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = m.Stop(context.WithoutCancel(ctx)) }()

	var results []checkResult
	for _, inst := range m.Instances() {
		fams, notes := rec.counts()
		var readErr error
		for _, name := range rec.readsFor(inst.Name()) {
			if err := rec.fire(ctx, name); err != nil && readErr == nil {
				readErr = fmt.Errorf("%s: %w", name, err)
			}
		}

		st := inst.Status()
		famsAfter, notesAfter := rec.counts()
		res := checkResult{
			Name:          st.Name,
			State:         st.State,
			Units:         st.Units,
			Families:      famsAfter - fams,
			Notifications: notesAfter - notes,
			Err:           st.LastError,
		}
		if res.Err == "" && readErr != nil {
			res.Err = readErr.Error()
		}
		if res.Err == "" && st.State != script.StateRunning {
			res.Err = "not running"
		}
		results = append(results, res)
	}
	return results, nil
}

func runCheck(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("check", stderr)
	configPath := fs.String("config", "", "path to configuration file")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	results, err := checkInstances(ctx, cfg.Sub("plugins."+script.PluginName))
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Err != "" {
			failed++
		}
		fmt.Fprintln(stdout, r)
	}
	fmt.Fprintf(stdout, "%d instances, %d failed\n", len(results), failed)
	if failed > 0 {
		return errCheckFailed
	}
	return nil
}
