package goroutine

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"logwarden/metrics"

	"go.uber.org/zap"
)

// StackTraceBufferSize caps the captured stack of a recovered panic.
const StackTraceBufferSize = 4096

// ErrPanic marks errors produced by RecoverInto.
var ErrPanic = errors.New("panic recovered")

// Recover logs a panic raised in the calling goroutine and swallows it.
// A nil logger writes to stderr instead.
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		report(name, r, logger)
	}
}

// RecoverInto is Recover for functions with a named error result: the panic
// becomes *errp, wrapping ErrPanic and, when the value is an error, the value.
func RecoverInto(name string, logger *zap.SugaredLogger, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	report(name, r, logger)
	if errp == nil {
		return
	}
	if cause, ok := r.(error); ok {
		*errp = fmt.Errorf("%s: %w: %w", name, ErrPanic, cause)
		return
	}
	*errp = fmt.Errorf("%s: %w: %v", name, ErrPanic, r)
}

func report(name string, r any, logger *zap.SugaredLogger) {
	metrics.PanicsRecovered.WithLabelValues(name).Inc()

	buf := make([]byte, StackTraceBufferSize)
	stack := string(buf[:runtime.Stack(buf, false)])
	if logger == nil {
		fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n", name, r, stack)
		return
	}
	logger.Errorw("Goroutine panic recovered", "goroutine", name, "panic", r, "stack", stack)
}
