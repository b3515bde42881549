// Package loop provides the single logical event loop that owns all session
// and registry state. Adapter callbacks and timer fires are posted into it as
// closures and executed one at a time in FIFO order.
package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blimd/internal/groutine"
)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Executor serializes work onto one logical thread.
type Executor interface {
	// Post enqueues fn. It never blocks and is safe from any goroutine.
	Post(fn func())
	// AfterFunc posts fn once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Loop is the production Executor: an unbounded FIFO drained by one goroutine.
type Loop struct {
	logger logrus.FieldLogger

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}

	gid atomic.Uint64
}

// New creates a stopped loop. Call Start or Run to begin draining.
func New(logger logrus.FieldLogger) *Loop {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Loop{
		logger: logger.WithField("component", "loop"),
		wake:   make(chan struct{}, 1),
	}
}

// Post enqueues fn. Work posted after the loop stopped is dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.logger.Debug("Dropping task posted after loop shutdown")
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// AfterFunc posts fn to the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, func() { l.Post(fn) })
}

// Start runs the loop on a labelled goroutine. The returned channel is closed
// once the loop has stopped.
func (l *Loop) Start(ctx context.Context) <-chan struct{} {
	return groutine.Go(ctx, "event-loop", l.logger, func(ctx context.Context) {
		_ = l.Run(ctx)
	})
}

// Run drains the queue until ctx is cancelled. Tasks still queued at that
// point are discarded.
func (l *Loop) Run(ctx context.Context) error {
	l.gid.Store(groutine.GetGID())
	defer l.gid.Store(0)

	l.logger.Debug("Event loop started")
	defer l.logger.Debug("Event loop stopped")

	for {
		for {
			task, ok := l.next()
			if !ok {
				break
			}
			l.exec(task)
			if ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.closed = true
			dropped := len(l.queue)
			l.queue = nil
			l.mu.Unlock()
			if dropped > 0 {
				l.logger.WithField("dropped", dropped).Debug("Discarded queued tasks on shutdown")
			}
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// InLoop reports whether the caller runs on the loop goroutine.
func (l *Loop) InLoop() bool {
	gid := l.gid.Load()
	return gid != 0 && gid == groutine.GetGID()
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

// exec runs one task. A panicking task is logged and the loop keeps going.
func (l *Loop) exec(task func()) {
	defer groutine.Recover(l.logger, nil)
	task()
}
