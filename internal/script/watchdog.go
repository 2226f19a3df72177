package script

import (
	"context"
	"runtime/metrics"
	"sync"
	"time"
)

const (
	heapMetric           = "/memory/classes/heap/objects:bytes"
	memorySampleInterval = 10 * time.Millisecond
)

// calls counts script calls in flight across every instance in the process.
var calls = &callTracker{}

// callTracker lets the memory watchdog tell when heap growth can only come
// from one call. epoch moves on every enter and exit, so a reading taken at
// the same epoch as the baseline saw no other call start or finish.
type callTracker struct {
	mu      sync.Mutex
	running int
	epoch   uint64
}

func (c *callTracker) enter() {
	c.mu.Lock()
	c.running++
	c.epoch++
	c.mu.Unlock()
}

func (c *callTracker) exit() {
	c.mu.Lock()
	c.running--
	c.epoch++
	c.mu.Unlock()
}

// sole reports whether exactly one call is in flight, and the epoch at
// which that was observed.
func (c *callTracker) sole() (bool, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running == 1, c.epoch
}

func (c *callTracker) inFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// memoryMeter charges heap growth to the running call. Growth is only
// counted across samples where the call was alone; any other call starting
// or finishing resets the baseline, so one instance is never failed for
// another's allocations.
type memoryMeter struct {
	limit uint64
	heap  func() uint64
	calls *callTracker

	base  uint64
	epoch uint64
	valid bool
}

func (m *memoryMeter) exceeded() bool {
	sole, before := m.calls.sole()
	used := m.heap()
	_, after := m.calls.sole()

	switch {
	case !sole || before != after:
		m.valid = false
		return false
	case !m.valid || before != m.epoch:
		m.base, m.epoch, m.valid = used, before, true
		return false
	}
	return used > m.base && used-m.base > m.limit
}

// watch arms the per-call limits: the context, the optional timeout and
// the optional memory limit. Each one interrupts the runtime with its own
// error and cancels the returned context, which blocking host functions
// select on. stop disarms, waits for the watcher to exit and returns the
// limit that tripped, if any.
func (i *Instance) watch(ctx context.Context) (context.Context, func() error) {
	if i.cfg.Timeout <= 0 && i.cfg.MemoryLimit == 0 && ctx.Done() == nil {
		return ctx, func() error { return nil }
	}

	rt := i.rt
	wctx, cancel := context.WithCancelCause(ctx)
	var tripped error
	trip := func(err error) {
		tripped = err
		rt.Interrupt(err)
		cancel(err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		var timeout <-chan time.Time
		if i.cfg.Timeout > 0 {
			t := time.NewTimer(i.cfg.Timeout)
			defer t.Stop()
			timeout = t.C
		}
		var sample <-chan time.Time
		meter := &memoryMeter{limit: i.cfg.MemoryLimit, heap: heapBytes, calls: calls}
		if i.cfg.MemoryLimit > 0 {
			meter.exceeded()
			t := time.NewTicker(memorySampleInterval)
			defer t.Stop()
			sample = t.C
		}

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				rt.Interrupt(ctx.Err())
				cancel(ctx.Err())
				return
			case <-timeout:
				trip(ErrTimeout)
				return
			case <-sample:
				if meter.exceeded() {
					trip(ErrMemoryLimit)
					return
				}
			}
		}
	}()

	return wctx, func() error {
		close(done)
		wg.Wait()
		cancel(nil)
		return tripped
	}
}

func heapBytes() uint64 {
	s := []metrics.Sample{{Name: heapMetric}}
	metrics.Read(s)
	if s[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return s[0].Value.Uint64()
}
