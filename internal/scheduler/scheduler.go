// Package scheduler runs projects periodically. Every scheduled project
// gets its own goroutine that sleeps until the next point on the
// project's interval grid, checks that the schedule is still enabled,
// and runs the project.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/klauern/docsync/internal/config"
	apperr "github.com/klauern/docsync/internal/errors"
	"github.com/klauern/docsync/internal/logging"
	syncpkg "github.com/klauern/docsync/internal/sync"
)

// Runner runs one project.
type Runner interface {
	Run(ctx context.Context, projectID string) (*syncpkg.Result, error)
}

// EnabledFunc reports whether a project's stored schedule flag is set.
type EnabledFunc func(ctx context.Context, projectID string) (bool, error)

// Job is one scheduled project.
type Job struct {
	Project  string
	Interval time.Duration
	// Start anchors the grid. The zero time means "when the scheduler
	// starts", which runs the project immediately.
	Start time.Time
}

// Jobs returns a job for every project whose schedule is enabled in cfg.
func Jobs(cfg *config.Config) []Job {
	var jobs []Job
	for _, p := range cfg.Projects {
		if !p.Schedule.Enabled || p.Schedule.Interval <= 0 {
			continue
		}
		jobs = append(jobs, Job{Project: p.ID, Interval: p.Schedule.Interval, Start: p.Schedule.Start})
	}
	return jobs
}

// NextRun returns the first point of the grid start + n*interval that is
// not before now.
func NextRun(start time.Time, interval time.Duration, now time.Time) time.Time {
	if !now.After(start) || interval <= 0 {
		return start
	}
	elapsed := now.Sub(start)
	n := elapsed / interval
	if elapsed%interval != 0 {
		n++
	}
	return start.Add(n * interval)
}

// Options configures a Scheduler.
type Options struct {
	Runner  Runner
	Jobs    []Job
	Enabled EnabledFunc
	Logger  *slog.Logger
	Now     func() time.Time
}

// Scheduler runs jobs until stopped.
type Scheduler struct {
	runner  Runner
	jobs    []Job
	enabled EnabledFunc
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		runner:  opts.Runner,
		jobs:    opts.Jobs,
		enabled: opts.Enabled,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Start launches one goroutine per job. It returns immediately; calling
// Start on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	ctx, s.cancel = context.WithCancel(ctx)
	started := s.now()
	for _, job := range s.jobs {
		if job.Start.IsZero() {
			job.Start = started
		}
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	s.logger.Info("scheduler started", logging.Count(len(s.jobs)))
}

// Stop cancels every job and waits for runs in progress to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Wait blocks until every job goroutine has returned, which happens once
// the context given to Start is done or Stop is called.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()
	logger := s.logger.With(logging.Project(job.Project))

	for {
		next := NextRun(job.Start, job.Interval, s.now())
		logger.Debug("next run scheduled", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.runOnce(ctx, logger, job)

		// Never run twice for the same grid point.
		job.Start = NextRun(job.Start, job.Interval, next.Add(time.Nanosecond))
	}
}

func (s *Scheduler) runOnce(ctx context.Context, logger *slog.Logger, job Job) {
	if s.enabled != nil {
		ok, err := s.enabled(ctx, job.Project)
		if err != nil {
			logger.Error("failed to read schedule state", logging.Err(err))
			return
		}
		if !ok {
			logger.Debug("schedule disabled, skipping run")
			return
		}
	}

	res, err := s.runner.Run(ctx, job.Project)
	switch {
	case apperr.Is(err, apperr.ErrLockContention):
		logger.Info("previous run still in progress, skipping", logging.Err(err))
	case err != nil:
		logger.Error("scheduled run failed", logging.Err(err))
	case res != nil:
		logger.Info("scheduled run finished", "status", string(res.Status), logging.Count(len(res.Units)))
	}
}
