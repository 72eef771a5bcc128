// Package retention runs the expired-media sweep on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vinayprograms/taskvault/logging"
	"github.com/vinayprograms/taskvault/tasks"
)

// DefaultSchedule runs the sweep daily at 03:00.
const DefaultSchedule = "0 3 * * *"

// Sweep is the operation a Sweeper runs; *tasks.Store implements it.
type Sweep interface {
	DeleteExpiredMedia(ctx context.Context) (tasks.SweepResult, error)
}

// Report describes one sweep run.
type Report struct {
	Deleted   int
	Scanned   int
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}

// Sweeper runs a Sweep on demand or on a schedule. Runs never overlap.
type Sweeper struct {
	sweep    Sweep
	schedule cron.Schedule
	expr     string
	logger   *logging.Logger
	clock    func() time.Time
	timeout  time.Duration

	running sync.Mutex

	mu     sync.Mutex
	last   *Report
	cron   *cron.Cron
	cancel context.CancelFunc
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the time source used for reports.
func WithClock(clock func() time.Time) Option {
	return func(s *Sweeper) {
		s.clock = clock
	}
}

// WithRunTimeout bounds each scheduled run. Zero means no bound.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		s.timeout = d
	}
}

// ParseSchedule parses a standard 5-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return schedule, nil
}

// New creates a sweeper. An empty schedule means DefaultSchedule.
func New(sweep Sweep, schedule string, opts ...Option) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	parsed, err := ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}

	s := &Sweeper{
		sweep:    sweep,
		schedule: parsed,
		expr:     schedule,
		logger:   logging.Discard(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("retention")
	return s, nil
}

// Schedule returns the cron expression.
func (s *Sweeper) Schedule() string {
	return s.expr
}

// Next returns the next scheduled run after t.
func (s *Sweeper) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// RunOnce runs a sweep now. It reports false without sweeping if another
// run is still in progress.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, bool) {
	if !s.running.TryLock() {
		s.logger.Warn("sweep skipped, previous run still active")
		return Report{}, false
	}
	defer s.running.Unlock()

	rep := Report{StartedAt: s.clock()}
	res, err := s.sweep.DeleteExpiredMedia(ctx)
	rep.Duration = s.clock().Sub(rep.StartedAt)
	rep.Deleted = res.Deleted
	rep.Scanned = res.Scanned
	rep.Err = err

	s.logger.SweepComplete(rep.Deleted, rep.Scanned, rep.Duration, err)

	s.mu.Lock()
	s.last = &rep
	s.mu.Unlock()
	return rep, true
}

// Last returns the most recent report, if any.
func (s *Sweeper) Last() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}

// Start schedules sweeps until ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(s.schedule, cron.FuncJob(func() {
		jobCtx := runCtx
		if s.timeout > 0 {
			var jobCancel context.CancelFunc
			jobCtx, jobCancel = context.WithTimeout(runCtx, s.timeout)
			defer jobCancel()
		}
		s.RunOnce(jobCtx)
	}))
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.logger.Info("sweeper started", map[string]interface{}{
		"schedule": s.expr,
		"next":     s.schedule.Next(s.clock()).Format(time.RFC3339),
	})

	go func() {
		<-runCtx.Done()
		s.Stop(context.Background())
	}()
	return nil
}

// Stop cancels scheduling and waits for a running sweep to finish. If ctx
// ends first the running sweep is cancelled.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	defer cancel()
	stopped := c.Stop()
	select {
	case <-stopped.Done():
		s.logger.Info("sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnShutdown stops the sweeper; it satisfies shutdown.Handler.
func (s *Sweeper) OnShutdown(ctx context.Context) error {
	return s.Stop(ctx)
}
