package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"

	"github.com/srg/blimd/internal/groutine"
)

const (
	// DefaultBufferSize is used when NewDispatcher gets a zero size.
	DefaultBufferSize uint32 = 1024
	// MaxBufferSize guards against accidental misconfiguration.
	MaxBufferSize uint32 = 1024 * 1024
)

type recordKind uint8

const (
	recordValue recordKind = iota
	recordStatus
	recordTick
)

type record struct {
	kind   recordKind
	value  Value
	status Status
	tick   Tick
}

// DispatcherMetrics counts what went through the dispatcher.
type DispatcherMetrics struct {
	Published   atomic.Uint64
	Delivered   atomic.Uint64
	Overwritten atomic.Uint64
	SinkErrors  atomic.Uint64
}

// Dispatcher is a Publisher that buffers records in an overlapped ring
// buffer and hands them to its sinks from one worker goroutine. When the
// buffer is full the oldest records are overwritten; publishing never blocks.
type Dispatcher struct {
	buffer  mpmc.RichOverlappedRingBuffer[record]
	sinks   []Sink
	logger  logrus.FieldLogger
	metrics DispatcherMetrics

	wake chan struct{}
	stop chan struct{}
	done <-chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
}

var _ Publisher = (*Dispatcher)(nil)

// NewDispatcher creates a stopped dispatcher feeding sinks.
func NewDispatcher(bufferSize uint32, logger logrus.FieldLogger, sinks ...Sink) (*Dispatcher, error) {
	if bufferSize == 0 {
		bufferSize = DefaultBufferSize
	}
	if bufferSize > MaxBufferSize {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", bufferSize, MaxBufferSize)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{
		buffer: mpmc.NewOverlappedRingBuffer[record](bufferSize),
		sinks:  sinks,
		logger: logger.WithField("component", "sink"),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}, nil
}

// Metrics exposes the dispatcher counters.
func (d *Dispatcher) Metrics() *DispatcherMetrics { return &d.metrics }

// Sinks returns the configured sink names.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

func (d *Dispatcher) PublishValue(v Value)   { d.enqueue(record{kind: recordValue, value: v}) }
func (d *Dispatcher) PublishStatus(s Status) { d.enqueue(record{kind: recordStatus, status: s}) }
func (d *Dispatcher) PublishTick(t Tick)     { d.enqueue(record{kind: recordTick, tick: t}) }

func (d *Dispatcher) enqueue(rec record) {
	if len(d.sinks) == 0 {
		return
	}
	overwrites, err := d.buffer.EnqueueM(rec)
	if err != nil {
		d.logger.WithError(err).Error("Unexpected buffer enqueue error")
		return
	}
	d.metrics.Published.Add(1)
	if overwrites > 0 {
		d.metrics.Overwritten.Add(uint64(overwrites))
		d.logger.WithField("overwritten", overwrites).Debug("Sink buffer full, oldest records dropped")
	}

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Start launches the worker goroutine. It stops when ctx is done or Close is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		d.done = groutine.Go(ctx, "sink-dispatcher", d.logger, d.run)
	})
}

func (d *Dispatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.Drain()
			return
		case <-d.stop:
			d.Drain()
			return
		case <-d.wake:
			d.Drain()
		}
	}
}

// Drain delivers every buffered record. The worker calls it; tests may call
// it directly on a dispatcher that was never started.
func (d *Dispatcher) Drain() {
	for !d.buffer.IsEmpty() {
		rec, err := d.buffer.Dequeue()
		if err != nil {
			d.logger.WithError(err).Debug("Buffer dequeue error")
			return
		}
		d.deliver(rec)
	}
}

func (d *Dispatcher) deliver(rec record) {
	for _, s := range d.sinks {
		var err error
		switch rec.kind {
		case recordValue:
			err = s.WriteValue(rec.value)
		case recordStatus:
			err = s.WriteStatus(rec.status)
		case recordTick:
			err = s.WriteTick(rec.tick)
		}
		if err != nil {
			d.metrics.SinkErrors.Add(1)
			d.logger.WithError(err).WithField("sink", s.Name()).Warn("Sink write failed")
		}
	}
	d.metrics.Delivered.Add(1)
}

// Close stops the worker after it drained the buffer and closes every sink.
func (d *Dispatcher) Close() error {
	var errs []error
	d.closeOnce.Do(func() {
		close(d.stop)
		if d.done != nil {
			<-d.done
		} else {
			d.Drain()
		}
		for _, s := range d.sinks {
			if err := s.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %s sink: %w", s.Name(), err))
			}
		}
	})
	return errors.Join(errs...)
}
