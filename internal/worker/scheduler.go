package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"packshot/internal/domain"
	"packshot/internal/infra"
	"packshot/internal/metrics"
)

// Scheduler defaults.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultStopTimeout  = 30 * time.Second
	DefaultJobPause     = 500 * time.Millisecond
)

// JobRunner dispatches one job. *Worker satisfies it.
type JobRunner interface {
	Run(ctx context.Context, jobID string) Outcome
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	PollInterval time.Duration
	// Pause is the delay between two consecutive jobs.
	Pause time.Duration
	// Wake, when set, returns a channel that cuts an idle wait short.
	Wake   func(ctx context.Context) <-chan struct{}
	Logger *infra.Logger
}

// Stats is a snapshot of the scheduler counters.
type Stats struct {
	Running       bool     `json:"running"`
	JobsProcessed int64    `json:"jobs_processed"`
	JobsFailed    int64    `json:"jobs_failed"`
	JobsSkipped   int64    `json:"jobs_skipped"`
	PollInterval  float64  `json:"poll_interval"`
	LastOutcome   *Outcome `json:"last_outcome,omitempty"`
	LastError     string   `json:"last_error,omitempty"`
}

// Scheduler polls the store and runs eligible jobs one at a time on a
// single goroutine. Stop is observed between jobs and during waits; a job in
// flight always runs to completion.
type Scheduler struct {
	jobs   domain.JobStore
	runner JobRunner
	poll   time.Duration
	pause  time.Duration
	wake   func(ctx context.Context) <-chan struct{}
	logger zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	running   atomic.Bool
	processed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	last      atomic.Pointer[Outcome]
}

func NewScheduler(jobs domain.JobStore, runner JobRunner, opts SchedulerOptions) *Scheduler {
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = infra.Component(*opts.Logger, "scheduler")
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	pause := opts.Pause
	if pause < 0 {
		pause = 0
	} else if pause == 0 {
		pause = DefaultJobPause
	}
	return &Scheduler{
		jobs:   jobs,
		runner: runner,
		poll:   poll,
		pause:  pause,
		wake:   opts.Wake,
		logger: logger,
	}
}

// Start launches the loop. It returns false if a loop is already running,
// including one still finishing a job after a timed-out Stop.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		select {
		case <-s.done:
		default:
			return false
		}
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)
	metrics.SchedulerRunning.Set(1)
	go s.loop(loopCtx, s.done)
	s.logger.Info().Dur("poll_interval", s.poll).Msg("scheduler started")
	return true
}

// Stop signals the loop and waits up to timeout for it to exit. It returns
// false when the timeout elapsed with a job still in flight; that job keeps
// running in the background.
func (s *Scheduler) Stop(timeout time.Duration) bool {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if done == nil {
		return true
	}
	if cancel != nil {
		cancel()
	}
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		s.logger.Info().Msg("scheduler stopped")
		return true
	case <-timer.C:
		s.logger.Warn().Dur("timeout", timeout).Msg("scheduler stop timed out with a job in flight")
		return false
	}
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func (s *Scheduler) Stats() Stats {
	st := Stats{
		Running:       s.running.Load(),
		JobsProcessed: s.processed.Load(),
		JobsFailed:    s.failed.Load(),
		JobsSkipped:   s.skipped.Load(),
		PollInterval:  s.poll.Seconds(),
	}
	if last := s.last.Load(); last != nil {
		o := *last
		st.LastOutcome = &o
		st.LastError = o.Message
	}
	return st
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.running.Store(false)
		metrics.SchedulerRunning.Set(0)
		close(done)
	}()

	var wake <-chan struct{}
	if s.wake != nil {
		wake = s.wake(ctx)
	}
	for ctx.Err() == nil {
		if s.tick(ctx) {
			s.wait(ctx, s.pause, nil)
		} else {
			s.wait(ctx, s.poll, wake)
		}
	}
}

// tick dispatches at most one job and reports whether one was found.
func (s *Scheduler) tick(ctx context.Context) (dispatched bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("scheduler iteration panicked")
		}
	}()

	job, err := s.jobs.NextEligibleJob(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNoJobAvailable) && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("dequeue failed")
		}
		return false
	}
	dispatched = true

	out := s.runner.Run(context.WithoutCancel(ctx), job.ID)
	s.last.Store(&out)
	switch {
	case !out.Accepted:
		s.skipped.Add(1)
	case out.Succeeded:
		s.processed.Add(1)
	default:
		s.failed.Add(1)
	}
	return dispatched
}

// wait sleeps for d or until ctx is done or wake fires.
func (s *Scheduler) wait(ctx context.Context, d time.Duration, wake <-chan struct{}) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-wake:
	}
}
