package script

import (
	"context"
	"sort"
	"time"

	"github.com/dop251/goja"
)

// timerQueue holds the deferred work scheduled by setTimeout and
// queueMicrotask. It only runs while the instance lock is held, as part of
// the drain that ends every call into the runtime.
type timerQueue struct {
	rt     *goja.Runtime
	now    func() time.Time
	nextID int64
	micro  []deferred
	timers []*timer
}

type deferred struct {
	fn   goja.Callable
	args []goja.Value
}

type timer struct {
	id  int64
	due time.Time
	deferred
}

func newTimerQueue(rt *goja.Runtime, now func() time.Time) *timerQueue {
	return &timerQueue{rt: rt, now: now}
}

// install defines setTimeout, clearTimeout and queueMicrotask as globals.
func (q *timerQueue) install() {
	_ = q.rt.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(q.rt.NewTypeError("setTimeout: callback is not a function"))
		}
		delay := call.Argument(1).ToFloat()
		if delay != delay || delay < 0 {
			delay = 0
		}
		var args []goja.Value
		if len(call.Arguments) > 2 {
			args = append(args, call.Arguments[2:]...)
		}
		q.nextID++
		t := &timer{
			id:       q.nextID,
			due:      q.now().Add(time.Duration(delay * float64(time.Millisecond))),
			deferred: deferred{fn: fn, args: args},
		}
		q.timers = append(q.timers, t)
		sort.SliceStable(q.timers, func(a, b int) bool { return q.timers[a].due.Before(q.timers[b].due) })
		return q.rt.ToValue(t.id)
	})
	_ = q.rt.Set("clearTimeout", func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).ToInteger()
		for n, t := range q.timers {
			if t.id == id {
				q.timers = append(q.timers[:n], q.timers[n+1:]...)
				break
			}
		}
		return goja.Undefined()
	})
	_ = q.rt.Set("queueMicrotask", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(q.rt.NewTypeError("queueMicrotask: callback is not a function"))
		}
		q.micro = append(q.micro, deferred{fn: fn})
		return goja.Undefined()
	})
}

// drain runs queued microtasks, then every timer due within budget, in
// due order, waiting for timers that are not yet due. Timers due later
// stay queued for the next drain. The first error stops the drain.
func (q *timerQueue) drain(ctx context.Context, budget time.Duration) error {
	deadline := q.now().Add(budget)
	for {
		for len(q.micro) > 0 {
			d := q.micro[0]
			q.micro = q.micro[1:]
			if _, err := d.fn(goja.Undefined(), d.args...); err != nil {
				return err
			}
		}
		if len(q.timers) == 0 {
			return nil
		}
		t := q.timers[0]
		if t.due.After(deadline) {
			return nil
		}
		if wait := t.due.Sub(q.now()); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
		q.timers = q.timers[1:]
		if _, err := t.fn(goja.Undefined(), t.args...); err != nil {
			return err
		}
	}
}

func (q *timerQueue) reset() {
	q.micro = nil
	q.timers = nil
}
