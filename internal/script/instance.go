package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/HerbHall/metricd/internal/config"
	"github.com/HerbHall/metricd/pkg/plugin"
)

// TopicStateChange is published on every instance state transition with a
// StateChange payload.
const TopicStateChange = "script.instance.state"

// DefaultDrainTimeout bounds how long a call waits for pending timers.
const DefaultDrainTimeout = time.Second

// State is the lifecycle state of an Instance.
type State int

const (
	StateUnconfigured State = iota
	StateConfiguring
	StateLoaded
	StateRunning
	StateShuttingDown
	StateFreed
	StateFailed
)

var stateNames = [...]string{
	StateUnconfigured: "unconfigured",
	StateConfiguring:  "configuring",
	StateLoaded:       "loaded",
	StateRunning:      "running",
	StateShuttingDown: "shutting_down",
	StateFreed:        "freed",
	StateFailed:       "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText accepts a state name.
func (s *State) UnmarshalText(text []byte) error {
	for n, name := range stateNames {
		if name == string(text) {
			*s = State(n)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// StateChange is the payload of TopicStateChange events.
type StateChange struct {
	Instance string `json:"instance"`
	From     State  `json:"from"`
	To       State  `json:"to"`
	Error    string `json:"error,omitempty"`
}

// InstanceConfig is one entry of plugins.javascript.instances.
type InstanceConfig struct {
	Name         string        `mapstructure:"name" validate:"required,excludesall=/"`
	Script       string        `mapstructure:"script" validate:"required_without=Source"`
	Source       string        `mapstructure:"source"`
	Include      []string      `mapstructure:"include"`
	MemoryLimit  uint64        `mapstructure:"memory_limit"`
	StackSize    int           `mapstructure:"stack_size" validate:"gte=0"`
	LoadStd      *bool         `mapstructure:"load_std"`
	Interval     time.Duration `mapstructure:"interval" validate:"gte=0"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gte=0"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout" validate:"gte=0"`

	// Config is the ordered subtree handed to the config hook.
	Config *plugin.ConfigNode `mapstructure:"-"`
}

func (c *InstanceConfig) loadStd() bool { return c.LoadStd == nil || *c.LoadStd }

func (c *InstanceConfig) drainTimeout() time.Duration {
	if c.DrainTimeout > 0 {
		return c.DrainTimeout
	}
	return DefaultDrainTimeout
}

// Deps are the host services an Instance talks to.
type Deps struct {
	Scheduler plugin.Scheduler
	Pipeline  plugin.Pipeline
	Logger    *zap.Logger
	Bus       plugin.EventBus // optional
	Now       func() time.Time
}

// Status is a point-in-time view of an Instance.
type Status struct {
	Name      string   `json:"name"`
	Script    string   `json:"script"`
	State     State    `json:"state"`
	Units     []string `json:"units"`
	LastError string   `json:"last_error,omitempty"`
}

// Instance runs one configured script in its own runtime. Every entry into
// the runtime holds mu for the call and the drain that follows it, so a
// script never runs on two goroutines at once. Instances share nothing.
type Instance struct {
	cfg    InstanceConfig
	deps   Deps
	logger *zap.Logger
	fails  *failureLog

	mu     sync.Mutex
	rt     *goja.Runtime
	bridge *Bridge
	hooks  *hookTable
	timers *timerQueue
	ctx    context.Context
	cancel context.CancelFunc
	// abort closes when the running call is interrupted.
	abort <-chan struct{}

	statusMu sync.RWMutex
	state    State
	lastErr  error
	units    []string
}

// NewInstance validates cfg and returns an instance in the Configuring
// state. No runtime exists until Load.
func NewInstance(cfg InstanceConfig, deps Deps) (*Instance, error) {
	if err := config.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("instance %q: %w", cfg.Name, err)
	}
	if deps.Scheduler == nil || deps.Pipeline == nil {
		return nil, fmt.Errorf("instance %q: scheduler and pipeline are required", cfg.Name)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	i := &Instance{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With(zap.String("instance", cfg.Name)),
		fails:  newFailureLog(),
	}
	i.setState(StateConfiguring, nil)
	return i, nil
}

// Name returns the instance name.
func (i *Instance) Name() string { return i.cfg.Name }

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.statusMu.RLock()
	defer i.statusMu.RUnlock()
	return i.state
}

// Status returns the state, registered units and last error.
func (i *Instance) Status() Status {
	i.statusMu.RLock()
	defer i.statusMu.RUnlock()
	st := Status{
		Name:   i.cfg.Name,
		Script: i.scriptName(),
		State:  i.state,
		Units:  append([]string(nil), i.units...),
	}
	if i.lastErr != nil {
		st.LastError = i.lastErr.Error()
	}
	return st
}

func (i *Instance) scriptName() string {
	if i.cfg.Script != "" {
		return i.cfg.Script
	}
	return i.cfg.Name + ".js"
}

// Load creates the runtime, installs the metricd module and helpers, and
// evaluates the include files in order followed by the main script. On
// failure the instance is Failed and the error wraps ErrLoad.
func (i *Instance) Load(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if st := i.State(); st != StateConfiguring {
		return fmt.Errorf("%w: load in state %s", ErrState, st)
	}

	i.ctx, i.cancel = context.WithCancel(context.WithoutCancel(ctx))
	i.rt = goja.New()
	if i.cfg.StackSize > 0 {
		i.rt.SetMaxCallStackSize(i.cfg.StackSize)
	}
	i.bridge = NewBridge(i.rt, i.deps.Pipeline, WithContext(i.ctx), WithNow(i.deps.Now))
	i.hooks = newHookTable()
	i.timers = newTimerQueue(i.rt, i.deps.Now)

	if err := i.installModule(); err != nil {
		return i.failLoad(i.scriptName(), fmt.Errorf("%w: install module: %w", ErrLoad, err))
	}

	for _, path := range i.cfg.Include {
		if err := i.evalFile(ctx, path); err != nil {
			return i.failLoad(path, err)
		}
	}
	if i.cfg.Source != "" {
		if err := i.eval(ctx, i.scriptName(), i.cfg.Source); err != nil {
			return i.failLoad(i.scriptName(), err)
		}
	} else if err := i.evalFile(ctx, i.cfg.Script); err != nil {
		return i.failLoad(i.cfg.Script, err)
	}

	i.setState(StateLoaded, nil)
	i.logger.Info("script loaded",
		zap.String("script", i.scriptName()),
		zap.Int("includes", len(i.cfg.Include)),
		zap.Int("pending_units", len(i.hooks.units)),
	)
	return nil
}

func (i *Instance) installModule() error {
	module := i.rt.NewObject()
	if err := i.bridge.Install(module); err != nil {
		return err
	}
	i.installRegistry(module)
	i.installLogging(module)
	i.timers.install()
	if i.cfg.loadStd() {
		i.installStd()
	}
	_ = module.Set("instance", i.cfg.Name)
	return i.rt.Set("metricd", module)
}

func (i *Instance) evalFile(ctx context.Context, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}
	return i.eval(ctx, path, string(src))
}

// eval compiles and runs src under the instance lock, then drains.
func (i *Instance) eval(ctx context.Context, name, src string) error {
	prog, err := goja.Compile(filepath.Base(name), src, false)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLoad, name, err)
	}
	return i.runLocked(ctx, ErrLoad, name, func() (goja.Value, error) {
		return i.rt.RunProgram(prog)
	})
}

func (i *Instance) failLoad(file string, err error) error {
	i.logger.Error("script load failed", zap.String("file", file), zap.Error(err))
	i.releaseLocked()
	i.setState(StateFailed, err)
	return err
}

// Start delivers the configured subtree to the config hook, calls the init
// hook and then hands every registered unit to the scheduler. A failing
// hook marks the instance Failed and removes all its units.
func (i *Instance) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if st := i.State(); st != StateLoaded {
		return fmt.Errorf("%w: start in state %s", ErrState, st)
	}

	if i.cfg.Config != nil {
		if err := i.configureLocked(ctx, i.cfg.Config); err != nil {
			return i.failStart("config", err)
		}
	}
	if fn := i.hooks.init; fn != nil {
		if err := i.runLocked(ctx, ErrHook, "init", func() (goja.Value, error) {
			return fn(goja.Undefined())
		}); err != nil {
			return i.failStart("init", err)
		}
	}

	i.setState(StateRunning, nil)
	if err := i.hooks.activate(i); err != nil {
		return i.failStart("register", err)
	}
	i.syncUnits()
	i.logger.Info("script running", zap.Strings("units", i.hooks.names()))
	return nil
}

func (i *Instance) failStart(step string, err error) error {
	i.logger.Error("script start failed", zap.String("step", step), zap.Error(err))
	i.hooks.deactivate(i)
	i.releaseLocked()
	i.setState(StateFailed, err)
	return err
}

// Configure delivers a configuration subtree to the config hook. It is a
// no-op when no config hook is registered.
func (i *Instance) Configure(ctx context.Context, node *plugin.ConfigNode) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if st := i.State(); st != StateLoaded && st != StateRunning {
		return fmt.Errorf("%w: configure in state %s", ErrState, st)
	}
	return i.configureLocked(ctx, node)
}

func (i *Instance) configureLocked(ctx context.Context, node *plugin.ConfigNode) error {
	fn := i.hooks.config
	if fn == nil || node == nil {
		return nil
	}
	tree, err := i.bridge.ConfigToValue(node)
	if err != nil {
		return err
	}
	return i.runLocked(ctx, ErrHook, "config", func() (goja.Value, error) {
		return fn(goja.Undefined(), tree)
	})
}

// Shutdown calls the shutdown hook, unregisters every unit and drops the
// runtime. It is safe to call in any state and more than once.
func (i *Instance) Shutdown(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	switch i.State() {
	case StateFreed:
		return nil
	case StateFailed:
		i.releaseLocked()
		return nil
	case StateConfiguring:
		i.setState(StateFreed, nil)
		return nil
	}

	i.setState(StateShuttingDown, nil)
	var hookErr error
	if fn := i.hooks.shutdown; fn != nil {
		hookErr = i.runLocked(ctx, ErrHook, "shutdown", func() (goja.Value, error) {
			return fn(goja.Undefined())
		})
		if hookErr != nil {
			i.logger.Warn("shutdown hook failed", zap.Error(hookErr))
		}
	}
	i.hooks.deactivate(i)
	i.releaseLocked()
	i.setState(StateFreed, hookErr)
	i.logger.Info("script freed")
	return hookErr
}

// releaseLocked drops the hook table, the timers and the runtime, in that
// order.
func (i *Instance) releaseLocked() {
	if i.hooks != nil {
		i.hooks.reset()
	}
	if i.timers != nil {
		i.timers.reset()
	}
	if i.cancel != nil {
		i.cancel()
	}
	i.bridge = nil
	i.rt = nil
	i.syncUnits()
}

// call is the entry point used by scheduled units. It skips the hook when
// the unit was unregistered or the instance stopped while it waited for
// the lock.
func (i *Instance) call(ctx context.Context, u *unit, invoke func() (goja.Value, error)) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if ctx.Err() != nil || i.rt == nil || i.State() != StateRunning || !i.hooks.current(u) {
		return nil
	}

	// A hook may unregister or replace its own unit, which cancels ctx.
	// Once entered, the call only ends early on instance shutdown.
	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stopAfter := context.AfterFunc(i.ctx, cancel)
	defer stopAfter()

	err := i.runLocked(callCtx, ErrHook, u.name, invoke)
	if err != nil {
		i.fails.log(i.logger, "script hook failed", zap.String("unit", u.name), zap.Error(err))
		i.recordError(err)
	}
	return err
}

// runLocked runs fn with the watchdog armed, then drains deferred work.
// The caller holds mu.
func (i *Instance) runLocked(ctx context.Context, base error, what string, fn func() (goja.Value, error)) error {
	calls.enter()
	defer calls.exit()

	wctx, stop := i.watch(ctx)
	i.abort = wctx.Done()
	res, err := fn()
	if err == nil {
		err = i.timers.drain(wctx, i.cfg.drainTimeout())
	}
	if err == nil {
		err = rejection(res)
	}
	if tripped := stop(); err == nil && tripped != nil {
		err = tripped
	}
	i.abort = nil
	if i.rt != nil {
		i.rt.ClearInterrupt()
	}
	if err != nil {
		return guestError(base, what, err)
	}
	return nil
}

// rejection reports a hook that returned a promise which was rejected by
// the end of the drain.
func rejection(v goja.Value) error {
	obj, ok := v.(*goja.Object)
	if !ok || obj.ClassName() != "Promise" {
		return nil
	}
	p, ok := obj.Export().(*goja.Promise)
	if !ok || p.State() != goja.PromiseStateRejected {
		return nil
	}
	return fmt.Errorf("promise rejected: %v", p.Result())
}

func (i *Instance) setState(to State, err error) {
	i.statusMu.Lock()
	from := i.state
	i.state = to
	if err != nil {
		i.lastErr = err
	}
	i.statusMu.Unlock()

	if from == to {
		return
	}
	i.logger.Debug("instance state changed", zap.Stringer("from", from), zap.Stringer("to", to))
	if i.deps.Bus != nil {
		change := StateChange{Instance: i.cfg.Name, From: from, To: to}
		if err != nil {
			change.Error = err.Error()
		}
		i.deps.Bus.PublishAsync(context.Background(), plugin.Event{
			Topic:     TopicStateChange,
			Source:    "javascript",
			Timestamp: i.deps.Now(),
			Payload:   change,
		})
	}
}

func (i *Instance) recordError(err error) {
	i.statusMu.Lock()
	i.lastErr = err
	i.statusMu.Unlock()
}

// syncUnits copies the unit names into the status snapshot. The caller
// holds mu.
func (i *Instance) syncUnits() {
	var names []string
	if i.hooks != nil {
		names = i.hooks.names()
	}
	i.statusMu.Lock()
	i.units = names
	i.statusMu.Unlock()
}

// IsQuotaError reports whether err was caused by a memory, stack or time
// limit.
func IsQuotaError(err error) bool {
	return errors.Is(err, ErrMemoryLimit) || errors.Is(err, ErrStackLimit) || errors.Is(err, ErrTimeout)
}
