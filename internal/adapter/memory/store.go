// Package memory holds in-process implementations of the job and image
// stores. They back JOB_STORE=memory, the CLI and the tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"packshot/internal/domain"
)

// JobStore is a mutex-guarded map of jobs with the same eligibility rules as
// the PostgreSQL store.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

// Option configures a JobStore.
type Option func(*JobStore)

// WithClock replaces time.Now, letting tests move past retry deadlines.
func WithClock(now func() time.Time) Option {
	return func(s *JobStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewJobStore(opts ...Option) *JobStore {
	s := &JobStore{jobs: make(map[string]*domain.Job), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *JobStore) CreateJob(ctx context.Context, job *domain.Job) error {
	if job == nil {
		return fmt.Errorf("%w: job is nil", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(job.ProductID) == "" {
		return fmt.Errorf("%w: product_id is required", domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: job %s already exists", domain.ErrInvalidInput, job.ID)
	}
	if job.Status == "" {
		job.Status = domain.JobStatusQueued
	}
	if job.CurrentStep == "" {
		job.CurrentStep = domain.StepUploading
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = domain.DefaultMaxAttempts
	}
	now := s.now()
	job.CreatedAt = now
	job.UpdatedAt = now
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *JobStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *JobStore) UpdateProgress(ctx context.Context, id string, upd domain.ProgressUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if upd.From != "" && job.Status != upd.From {
		return domain.ErrStatusConflict
	}
	now := s.now()
	if upd.Status != "" {
		job.Status = upd.Status
	}
	if upd.Step != "" {
		job.CurrentStep = upd.Step
	}
	if upd.Progress > 0 {
		if upd.Status == domain.JobStatusProcessing || upd.Progress > job.Progress {
			job.Progress = upd.Progress
		}
	}
	if upd.Provider != "" {
		job.Provider = upd.Provider
	}
	if upd.Status == domain.JobStatusProcessing {
		job.StartedAt = &now
		job.NextRetryAt = nil
	}
	job.UpdatedAt = now
	return nil
}

func (s *JobStore) IncrementAttempt(ctx context.Context, id, errMsg string, delay time.Duration) (domain.AttemptResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.AttemptResult{}, domain.ErrNotFound
	}
	now := s.now()
	next := now.Add(delay)
	job.Attempts++
	job.Status = domain.JobStatusFailed
	job.LastError = errMsg
	job.NextRetryAt = &next
	job.UpdatedAt = now
	return domain.AttemptResult{
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		ShouldRetry: job.Attempts < job.MaxAttempts,
	}, nil
}

func (s *JobStore) CompleteJob(ctx context.Context, id string, out domain.JobOutput) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != domain.JobStatusProcessing {
		return false, nil
	}
	now := s.now()
	job.Status = domain.JobStatusCompleted
	job.CurrentStep = domain.StepDone
	job.Progress = 100
	job.OutputData = &out
	job.NextRetryAt = nil
	job.CompletedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (s *JobStore) FailJob(ctx context.Context, id, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status == domain.JobStatusCompleted {
		return false, nil
	}
	job.Status = domain.JobStatusFailed
	if job.Attempts < job.MaxAttempts {
		job.Attempts = job.MaxAttempts
	}
	job.LastError = errMsg
	job.NextRetryAt = nil
	job.UpdatedAt = s.now()
	return true, nil
}

// NextEligibleJob prefers queued jobs over retries, oldest first within each group.
func (s *JobStore) NextEligibleJob(ctx context.Context) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var best *domain.Job
	for _, job := range s.jobs {
		if !job.Eligible(now) {
			continue
		}
		if best == nil || before(job, best) {
			best = job
		}
	}
	if best == nil {
		return nil, domain.ErrNoJobAvailable
	}
	return cloneJob(best), nil
}

func before(a, b *domain.Job) bool {
	aq, bq := a.Status == domain.JobStatusQueued, b.Status == domain.JobStatusQueued
	if aq != bq {
		return aq
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (s *JobStore) ListJobs(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]domain.Job, 0)
	for _, job := range s.jobs {
		if job.UserID == userID {
			jobs = append(jobs, *cloneJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID > jobs[j].ID
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func cloneJob(j *domain.Job) *domain.Job {
	c := *j
	if j.NextRetryAt != nil {
		t := *j.NextRetryAt
		c.NextRetryAt = &t
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.OutputData != nil {
		out := *j.OutputData
		if j.OutputData.Images != nil {
			out.Images = make(map[string]domain.ImageRef, len(j.OutputData.Images))
			for k, v := range j.OutputData.Images {
				out.Images[k] = v
			}
		}
		c.OutputData = &out
	}
	return &c
}

var _ domain.JobStore = (*JobStore)(nil)
