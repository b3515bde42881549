package testutils

import (
	"sort"
	"time"

	"github.com/srg/blimd/internal/loop"
)

// ManualExecutor is a deterministic loop.Executor for tests. Posted tasks are
// queued until Drain is called and timers only fire through Advance.
type ManualExecutor struct {
	queue  []func()
	now    time.Duration
	timers []*ManualTimer
	seq    int
}

var _ loop.Executor = (*ManualExecutor)(nil)

// NewManualExecutor returns an executor with an empty queue at time zero.
func NewManualExecutor() *ManualExecutor {
	return &ManualExecutor{}
}

func (e *ManualExecutor) Post(fn func()) {
	e.queue = append(e.queue, fn)
}

func (e *ManualExecutor) AfterFunc(d time.Duration, fn func()) loop.Timer {
	e.seq++
	t := &ManualTimer{due: e.now + d, fn: fn, seq: e.seq}
	e.timers = append(e.timers, t)
	return t
}

// Drain runs queued tasks, including ones posted while draining, until the
// queue is empty. It returns the number of tasks run.
func (e *ManualExecutor) Drain() int {
	n := 0
	for len(e.queue) > 0 {
		task := e.queue[0]
		e.queue = e.queue[1:]
		task()
		n++
	}
	return n
}

// Pending returns the number of queued tasks.
func (e *ManualExecutor) Pending() int { return len(e.queue) }

// Advance moves the clock forward by d, posts every timer that became due in
// due order, and drains the queue after each.
func (e *ManualExecutor) Advance(d time.Duration) {
	target := e.now + d
	for {
		t := e.nextDue(target)
		if t == nil {
			break
		}
		e.now = t.due
		t.fired = true
		e.Post(t.fn)
		e.Drain()
	}
	e.now = target
	e.Drain()
}

// ActiveTimers returns the number of timers that have neither fired nor been stopped.
func (e *ManualExecutor) ActiveTimers() int {
	n := 0
	for _, t := range e.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

func (e *ManualExecutor) nextDue(limit time.Duration) *ManualTimer {
	var due []*ManualTimer
	for _, t := range e.timers {
		if !t.fired && !t.stopped && t.due <= limit {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].due == due[j].due {
			return due[i].seq < due[j].seq
		}
		return due[i].due < due[j].due
	})
	return due[0]
}

// ManualTimer is the loop.Timer returned by ManualExecutor.
type ManualTimer struct {
	due     time.Duration
	fn      func()
	seq     int
	fired   bool
	stopped bool
}

func (t *ManualTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}
