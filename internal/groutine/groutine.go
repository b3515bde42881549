// Package groutine starts named goroutines for the daemon's long-running
// workers (event loop, sink dispatcher, adapter signal pumps). Names show up
// as pprof labels and in panic logs.
package groutine

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"runtime/pprof"
	"strconv"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts fn on a labelled goroutine and returns a channel closed when fn
// returns. A panic in fn is logged with its stack and does not crash the
// process. If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, logger logrus.FieldLogger, fn func(ctx context.Context)) <-chan struct{} {
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	done := make(chan struct{})
	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		defer close(done)
		defer Recover(logger.WithField("goroutine", name), nil)

		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
	return done
}

// Recover is meant to be deferred. It logs a recovered panic with its stack
// and, when onPanic is set, hands the panic value over as an error.
func Recover(logger logrus.FieldLogger, onPanic func(error)) {
	r := recover()
	if r == nil {
		return
	}
	err := fmt.Errorf("panic: %v", r)
	logger.WithField("stack", string(debug.Stack())).WithError(err).Error("Recovered from panic")
	if onPanic != nil {
		onPanic(err)
	}
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetGID returns the numeric goroutine ID (hacky, for debugging).
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}
	gid, _ := strconv.ParseUint(string(b[:i]), 10, 64)
	return gid
}
