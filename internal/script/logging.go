package script

import (
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

// installLogging defines metricd.debug, info, notice, warning and error.
func (i *Instance) installLogging(module *goja.Object) {
	levels := []struct {
		name   string
		level  zapcore.Level
		notice bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"notice", zapcore.InfoLevel, true},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
	}
	for _, l := range levels {
		l := l
		_ = module.Set(l.name, func(call goja.FunctionCall) goja.Value {
			i.guestLog(l.level, l.notice, call.Arguments)
			return goja.Undefined()
		})
	}
}

func (i *Instance) guestLog(level zapcore.Level, notice bool, args []goja.Value) {
	ce := i.logger.Check(level, joinArgs(args))
	if ce == nil {
		return
	}
	fields := []zap.Field{zap.Bool("script", true)}
	if notice {
		fields = append(fields, zap.Bool("notice", true))
	}
	ce.Write(fields...)
}

func joinArgs(args []goja.Value) string {
	parts := make([]string, len(args))
	for n, a := range args {
		parts[n] = orUndefined(a).String()
	}
	return strings.Join(parts, " ")
}

// failureLog rate limits repeated hook failure messages and reports how
// many were dropped on the next line it lets through.
type failureLog struct {
	mu         sync.Mutex
	limiter    *rate.Limiter
	suppressed int
}

func newFailureLog() *failureLog {
	return &failureLog{limiter: rate.NewLimiter(rate.Every(10*time.Second), 3)}
}

func (f *failureLog) log(logger *zap.Logger, msg string, fields ...zap.Field) {
	f.mu.Lock()
	if !f.limiter.Allow() {
		f.suppressed++
		f.mu.Unlock()
		return
	}
	dropped := f.suppressed
	f.suppressed = 0
	f.mu.Unlock()

	if dropped > 0 {
		fields = append(fields, zap.Int("suppressed", dropped))
	}
	logger.Warn(msg, fields...)
}
