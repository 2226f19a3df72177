package script

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// Sentinel errors. Returned errors wrap one of these.
var (
	ErrLoad        = errors.New("script load failed")
	ErrHook        = errors.New("script hook failed")
	ErrMarshal     = errors.New("invalid script value")
	ErrNotMetric   = errors.New("value is not a metric object")
	ErrMemoryLimit = errors.New("script memory limit exceeded")
	ErrStackLimit  = errors.New("script stack limit exceeded")
	ErrTimeout     = errors.New("script call timed out")
	ErrState       = errors.New("invalid instance state")
)

// guestError converts an error returned by the engine into a host error
// wrapping base. Interrupts carry their own sentinel; exceptions keep the
// guest stack trace in the message.
func guestError(base error, what string, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return fmt.Errorf("%w: %s: %w", base, what, cause)
		}
		return fmt.Errorf("%w: %s: interrupted: %v", base, what, interrupted.Value())
	}
	var overflow *goja.StackOverflowError
	if errors.As(err, &overflow) {
		return fmt.Errorf("%w: %s: %w", base, what, ErrStackLimit)
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return fmt.Errorf("%w: %s: %s", base, what, ex.String())
	}
	return fmt.Errorf("%w: %s: %w", base, what, err)
}
