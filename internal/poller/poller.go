// Package poller implements the recurring health poll: each tick it pauses
// scanning, reads a small set of characteristics from every READY session and
// reports what it could and could not reach.
package poller

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blimd/internal/groutine"
	"github.com/srg/blimd/internal/loop"
	"github.com/srg/blimd/internal/session"
	"github.com/srg/blimd/internal/sink"
)

// Target names one characteristic to read on every tick.
type Target struct {
	Service        string `yaml:"service" json:"service"`
	Characteristic string `yaml:"characteristic" json:"characteristic"`
}

func (t Target) String() string { return t.Service + "/" + t.Characteristic }

// ParseTarget parses "service.characteristic" or "service/characteristic".
func ParseTarget(s string) (Target, error) {
	sep := strings.IndexAny(s, "./")
	if sep <= 0 || sep == len(s)-1 {
		return Target{}, fmt.Errorf("invalid poll target %q: want service.characteristic", s)
	}
	return Target{Service: s[:sep], Characteristic: s[sep+1:]}, nil
}

// Peer is the part of a session the poller uses.
type Peer interface {
	Address() string
	State() session.State
	Read(service, characteristic string) error
}

// ScanGate is the shared scan switch as seen by the poller.
type ScanGate interface {
	SuspendScan()
	ResumeScan()
	ApplyScanPolicy()
}

// Sessions adapts a session enumerator to a peer enumerator.
func Sessions(fn func() []*session.Session) func() []Peer {
	return func() []Peer {
		ss := fn()
		out := make([]Peer, len(ss))
		for i, s := range ss {
			out[i] = s
		}
		return out
	}
}

// Config carries the poller's collaborators.
type Config struct {
	Interval            time.Duration
	Targets             []Target
	ResumeScanAfterPoll bool

	Peers     func() []Peer
	Scan      ScanGate
	Executor  loop.Executor
	Publisher sink.Publisher
	Logger    logrus.FieldLogger
	Now       func() time.Time
}

// Poller runs on the loop. Start, Stop and Tick must be called from it.
type Poller struct {
	cfg     Config
	logger  logrus.FieldLogger
	timer   loop.Timer
	ticks   uint64
	running bool
}

func New(cfg Config) (*Poller, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", cfg.Interval)
	}
	if cfg.Peers == nil || cfg.Scan == nil || cfg.Executor == nil {
		return nil, errors.New("poller requires peers, scan gate and executor")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = sink.Discard
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Poller{
		cfg:    cfg,
		logger: cfg.Logger.WithField("component", "poller"),
	}, nil
}

// Start schedules the first tick one interval from now.
func (p *Poller) Start() {
	if p.running {
		return
	}
	p.running = true
	p.logger.WithFields(logrus.Fields{
		"interval": p.cfg.Interval,
		"targets":  len(p.cfg.Targets),
	}).Info("Health poller started")
	if p.cfg.ResumeScanAfterPoll {
		p.logger.Info("Scanning resumes after every poll; reads still in flight may overlap with scanning")
	}
	p.schedule()
}

// Stop cancels the pending tick.
func (p *Poller) Stop() {
	p.running = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Ticks returns the number of ticks run so far.
func (p *Poller) Ticks() uint64 { return p.ticks }

func (p *Poller) schedule() {
	if !p.running {
		return
	}
	p.timer = p.cfg.Executor.AfterFunc(p.cfg.Interval, p.fire)
}

// fire runs one tick. The next tick is scheduled whatever happens in this one.
func (p *Poller) fire() {
	defer p.schedule()
	defer groutine.Recover(p.logger, func(err error) {
		p.logger.WithError(err).Error("Poll tick aborted")
	})
	p.Tick()
}

// Tick polls every READY peer once and publishes the report.
func (p *Poller) Tick() sink.Tick {
	p.ticks++
	report := sink.Tick{Tick: p.ticks, Time: p.cfg.Now()}

	p.cfg.Scan.SuspendScan()

	for _, peer := range p.cfg.Peers() {
		if peer.State() != session.Ready {
			report.Missing++
			report.MissingAddresses = append(report.MissingAddresses, peer.Address())
			continue
		}
		report.Ready++

		issued, err := p.poll(peer)
		report.Issued += issued
		if err != nil {
			report.Failed++
			report.FailedAddresses = append(report.FailedAddresses, peer.Address())
			p.logger.WithError(err).WithField("address", peer.Address()).Warn("Poll failed")
		}
	}

	if p.cfg.ResumeScanAfterPoll {
		p.logger.Debug("Resuming scan after poll, pending reads may overlap with scanning")
		p.cfg.Scan.ResumeScan()
	} else {
		p.cfg.Scan.ApplyScanPolicy()
	}

	p.logger.WithFields(logrus.Fields{
		"tick":    report.Tick,
		"ready":   report.Ready,
		"missing": report.Missing,
		"failed":  report.Failed,
		"issued":  report.Issued,
	}).Info("Poll tick")
	if report.Missing > 0 {
		p.logger.WithField("addresses", report.MissingAddresses).Debug("Sessions not ready")
	}
	p.cfg.Publisher.PublishTick(report)
	return report
}

// poll issues every target read for one peer. A panic is turned into an
// error so the remaining peers are still polled.
func (p *Poller) poll(peer Peer) (issued int, err error) {
	defer groutine.Recover(p.logger.WithField("address", peer.Address()), func(perr error) {
		err = perr
	})

	var errs []error
	for _, t := range p.cfg.Targets {
		if rerr := peer.Read(t.Service, t.Characteristic); rerr != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t, rerr))
			continue
		}
		issued++
	}
	return issued, errors.Join(errs...)
}
