package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrJobRunning is returned by RunNow when the job is already executing.
var ErrJobRunning = errors.New("cron: job already running")

// Parser accepts the 5-field expressions used by every job.
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// entry is a registered job with its single-run guard and run history.
type entry struct {
	job     Job
	running sync.Mutex
	id      cron.EntryID

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
	runs    int
}

// Scheduler runs registered jobs on their schedules. A job never overlaps
// itself: a tick that finds the previous run still in flight is skipped.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries []*entry
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	now     func() time.Time
}

// NewScheduler creates a scheduler. Jobs are registered before Start.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{logger: logger, ctx: ctx, cancel: cancel, now: time.Now}
}

// RegisterJob validates the job's schedule and adds it. Names must be
// unique.
func (s *Scheduler) RegisterJob(j Job) error {
	if _, err := Parser.Parse(j.Schedule()); err != nil {
		return fmt.Errorf("cron: invalid schedule for job %q: %w", j.Name(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookup(j.Name()) != nil {
		return fmt.Errorf("cron: duplicate job name %q", j.Name())
	}
	if s.cron != nil {
		return fmt.Errorf("cron: job %q registered after Start", j.Name())
	}
	s.entries = append(s.entries, &entry{job: j})
	return nil
}

func (s *Scheduler) lookup(name string) *entry {
	for _, e := range s.entries {
		if e.job.Name() == name {
			return e
		}
	}
	return nil
}

// Start schedules every registered job.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("cron: scheduler already started")
	}

	c := cron.New(cron.WithParser(Parser))
	for _, e := range s.entries {
		e := e
		ctx := s.ctx
		id, err := c.AddFunc(e.job.Schedule(), func() {
			if err := s.run(ctx, e); errors.Is(err, ErrJobRunning) {
				s.logger.Warn("cron: job still running, tick skipped", "job", e.job.Name())
			}
		})
		if err != nil {
			return fmt.Errorf("cron: scheduling job %q: %w", e.job.Name(), err)
		}
		e.id = id
	}
	s.cron = c
	c.Start()
	s.logger.Info("cron: scheduler started", "jobs", len(s.entries))
	return nil
}

// run executes e once unless it is already running, and records the
// outcome.
func (s *Scheduler) run(ctx context.Context, e *entry) error {
	if !e.running.TryLock() {
		return fmt.Errorf("%w: %s", ErrJobRunning, e.job.Name())
	}
	defer e.running.Unlock()

	started := s.now()
	err := e.job.Run(ctx)

	e.mu.Lock()
	e.lastRun, e.lastErr = started, err
	e.runs++
	e.mu.Unlock()

	if err != nil {
		s.logger.Error("cron: job failed", "job", e.job.Name(), "error", err)
	} else {
		s.logger.Debug("cron: job completed", "job", e.job.Name(), "elapsed", s.now().Sub(started))
	}
	return err
}

// RunNow executes the named job immediately, outside its schedule. It
// returns ErrJobRunning when a run is already in flight.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e := s.lookup(name)
	s.mu.Unlock()
	if e == nil {
		return fmt.Errorf("cron: unknown job %q", name)
	}
	return s.run(ctx, e)
}

// Jobs returns the job names in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.entries))
	for i, e := range s.entries {
		names[i] = e.job.Name()
	}
	return names
}

// Status returns a snapshot of every job in registration order.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, len(s.entries))
	for i, e := range s.entries {
		e.mu.Lock()
		out[i] = JobStatus{
			Name:     e.job.Name(),
			Schedule: e.job.Schedule(),
			LastRun:  e.lastRun,
			LastErr:  e.lastErr,
			Runs:     e.runs,
		}
		e.mu.Unlock()
		if s.cron != nil {
			out[i].Next = s.cron.Entry(e.id).Next
		}
	}
	return out
}

// Stop cancels running jobs and waits for them to return, or for ctx.
// The scheduler can be started again afterwards.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron = nil
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	cancel()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		s.logger.Info("cron: scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cron: waiting for jobs: %w", ctx.Err())
	}
}
