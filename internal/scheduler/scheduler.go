package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/baechuer/real-time-ressys/services/history-service/internal/logger"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/metrics"
)

// Ticker is the subset of time.Ticker the scheduler needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func NewRealTicker(d time.Duration) Ticker { return realTicker{t: time.NewTicker(d)} }

type Job func(ctx context.Context) error

// Scheduler runs a job after an initial delay, then on every tick and on demand.
// Runs never overlap: ticks that fire while a run is in progress are coalesced by
// the ticker, and a run longer than the interval is logged as an overrun.
type Scheduler struct {
	name         string
	interval     time.Duration
	initialDelay time.Duration
	job          Job

	newTicker func(time.Duration) Ticker
	after     func(time.Duration) <-chan time.Time
	now       func() time.Time

	trigger  chan struct{}
	runs     atomic.Int64
	overruns atomic.Int64
}

type Option func(*Scheduler)

func WithInitialDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.initialDelay = d }
}

func WithTicker(f func(time.Duration) Ticker) Option {
	return func(s *Scheduler) { s.newTicker = f }
}

func WithAfter(f func(time.Duration) <-chan time.Time) Option {
	return func(s *Scheduler) { s.after = f }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(name string, interval time.Duration, job Job, opts ...Option) *Scheduler {
	s := &Scheduler{
		name:      name,
		interval:  interval,
		job:       job,
		newTicker: NewRealTicker,
		after:     time.After,
		now:       time.Now,
		trigger:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Trigger requests an immediate run. It never blocks; a request made while one is
// already pending is merged into it.
func (s *Scheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Scheduler) Runs() int64     { return s.runs.Load() }
func (s *Scheduler) Overruns() int64 { return s.overruns.Load() }

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	log := logger.Logger.With().Str("component", "scheduler").Str("job", s.name).Logger()

	if s.initialDelay > 0 {
		log.Info().Dur("delay", s.initialDelay).Msg("waiting before first run")
		select {
		case <-ctx.Done():
			log.Info().Msg("stopped")
			return
		case <-s.after(s.initialDelay):
		}
	}

	ticker := s.newTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopped")
			return
		case <-ticker.C():
			s.runOnce(ctx, "tick")
		case <-s.trigger:
			s.runOnce(ctx, "trigger")
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, reason string) {
	log := logger.Logger.With().
		Str("component", "scheduler").
		Str("job", s.name).
		Str("reason", reason).
		Logger()

	start := s.now()
	err := s.safeRun(ctx)
	elapsed := s.now().Sub(start)
	s.runs.Add(1)

	if err != nil {
		log.Warn().Err(err).Dur("took", elapsed).Msg("run finished with errors")
	} else {
		log.Debug().Dur("took", elapsed).Msg("run finished")
	}

	if s.interval > 0 && elapsed > s.interval {
		s.overruns.Add(1)
		metrics.RecordOverrun(s.name)
		log.Warn().
			Dur("took", elapsed).
			Dur("interval", s.interval).
			Msg("run overran its interval")
	}
}

func (s *Scheduler) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", s.name, r)
		}
	}()
	return s.job(ctx)
}
