package script

import (
	"errors"
	"os"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap/zapcore"

	"github.com/HerbHall/metricd/pkg/metric"
)

// maxSleep caps os.sleep. The instance lock is held while a script sleeps,
// so a sleep also ends when the call times out or is cancelled.
const maxSleep = 10 * time.Second

// installStd defines the std, os and console helper objects.
func (i *Instance) installStd() {
	rt := i.rt

	std := rt.NewObject()
	_ = std.Set("getenv", func(call goja.FunctionCall) goja.Value {
		v, ok := os.LookupEnv(call.Argument(0).String())
		if !ok {
			return goja.Undefined()
		}
		return rt.ToValue(v)
	})
	_ = std.Set("loadFile", func(call goja.FunctionCall) goja.Value {
		data, err := os.ReadFile(call.Argument(0).String())
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return rt.ToValue(string(data))
	})
	_ = std.Set("exists", func(call goja.FunctionCall) goja.Value {
		_, err := os.Stat(call.Argument(0).String())
		return rt.ToValue(err == nil)
	})
	_ = std.Set("evalScript", func(call goja.FunctionCall) goja.Value {
		path := call.Argument(0).String()
		data, err := os.ReadFile(path)
		if err != nil {
			panic(rt.NewGoError(err))
		}
		v, err := rt.RunScript(path, string(data))
		if err != nil {
			// Rethrow the original exception so the caller can catch it.
			var ex *goja.Exception
			if errors.As(err, &ex) {
				panic(ex.Value())
			}
			panic(err)
		}
		return v
	})
	_ = rt.Set("std", std)

	osObj := rt.NewObject()
	_ = osObj.Set("hostname", func(goja.FunctionCall) goja.Value {
		h, err := os.Hostname()
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return rt.ToValue(h)
	})
	_ = osObj.Set("now", func(goja.FunctionCall) goja.Value {
		return rt.ToValue(metric.Seconds(i.deps.Now()))
	})
	_ = osObj.Set("sleep", func(call goja.FunctionCall) goja.Value {
		d := time.Duration(call.Argument(0).ToFloat() * float64(time.Millisecond))
		if d > maxSleep {
			d = maxSleep
		}
		if d > 0 {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
			case <-i.abort:
			case <-i.ctx.Done():
			}
		}
		return goja.Undefined()
	})
	_ = rt.Set("os", osObj)

	console := rt.NewObject()
	for name, level := range map[string]zapcore.Level{
		"log":   zapcore.InfoLevel,
		"info":  zapcore.InfoLevel,
		"debug": zapcore.DebugLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	} {
		level := level
		_ = console.Set(name, func(call goja.FunctionCall) goja.Value {
			i.guestLog(level, false, call.Arguments)
			return goja.Undefined()
		})
	}
	_ = rt.Set("console", console)
}
