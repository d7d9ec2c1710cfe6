package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultInterval is just under six hours.
const DefaultInterval = 5*time.Hour + 59*time.Minute + 59*time.Second

var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrStopped        = errors.New("scheduler stopped")
)

// Refresher runs one refresh cycle
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RefreshFunc adapts a function to Refresher
type RefreshFunc func(ctx context.Context) error

func (f RefreshFunc) Refresh(ctx context.Context) error {
	return f(ctx)
}

// State of the scheduler
type State int32

const (
	Idle State = iota
	Scheduled
	Firing
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Firing:
		return "firing"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// every fires at a fixed delay after the previous fire. Unlike cron's
// "@every" it does not round the delay to whole seconds.
type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

// Scheduler fires the refresher at a fixed interval.
//
// A fire that comes due while the previous cycle is still running is
// skipped, not queued, so cycles never overlap. Errors and panics from a
// cycle are logged and scheduling continues.
type Scheduler struct {
	ctx       context.Context
	refresher Refresher
	interval  time.Duration
	logger    *logrus.Logger
	cron      *cron.Cron

	mu      sync.Mutex
	state   State
	stopped atomic.Bool
	fires   atomic.Int64
}

func NewScheduler(ctx context.Context, refresher Refresher, interval time.Duration, logger *logrus.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		ctx:       ctx,
		refresher: refresher,
		interval:  interval,
		logger:    logger,
		cron: cron.New(
			cron.WithLogger(cl),
			// Recover must run inside SkipIfStillRunning, which only
			// releases its slot when the job returns normally.
			cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
		),
	}
}

// Start the scheduler. The first fire happens one interval from now.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Stopped:
		return ErrStopped
	case Idle:
	default:
		return ErrAlreadyStarted
	}

	s.cron.Schedule(every(s.interval), cron.FuncJob(s.collectData))
	s.cron.Start()
	s.state = Scheduled

	s.logger.WithFields(logrus.Fields{
		"interval": s.interval.String(),
	}).Info("Scheduler started")
	return nil
}

// collectData runs one refresh cycle
func (s *Scheduler) collectData() {
	if s.stopped.Load() {
		return
	}
	s.transition(Firing)
	defer s.transition(Scheduled)

	s.fires.Add(1)
	if err := s.refresher.Refresh(s.ctx); err != nil {
		s.logger.WithError(err).Error("Scheduled refresh failed, retrying at next interval")
	}
}

func (s *Scheduler) transition(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Stopped {
		s.state = to
	}
}

// Stop the scheduler. No fire starts after Stop returns; the returned
// context is done once a fire that was already running has finished.
// Stop is idempotent and may be called from inside a fire.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped.CompareAndSwap(false, true) {
		s.logger.Info("Scheduler stopped")
	}
	s.state = Stopped
	return s.cron.Stop()
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Fires returns how many cycles the scheduler has started.
func (s *Scheduler) Fires() int64 {
	return s.fires.Load()
}

func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// cronLogger routes cron's logging through logrus. cron's informational
// messages fire on every wake-up, so they go to debug.
type cronLogger struct {
	logger *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(toFields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(toFields(keysAndValues)).WithError(err).Error("cron: " + msg)
}

func toFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
