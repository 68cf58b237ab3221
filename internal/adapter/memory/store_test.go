package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"packshot/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newStore(t *testing.T) (*JobStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return NewJobStore(WithClock(clock.Now)), clock
}

func mustCreate(t *testing.T, s *JobStore, clock *fakeClock, product string) *domain.Job {
	t.Helper()
	job := &domain.Job{ProductID: product, UserID: "user-1"}
	if err := s.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	clock.Advance(time.Second)
	return job
}

func TestQueuedBeforeRetries(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t)
	retry := mustCreate(t, s, clock, "p1")
	queued := mustCreate(t, s, clock, "p2")

	if err := s.UpdateProgress(ctx, retry.ID, domain.ProgressUpdate{Status: domain.JobStatusProcessing, From: domain.JobStatusQueued, Progress: 5}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.IncrementAttempt(ctx, retry.ID, "boom", 0); err != nil {
		t.Fatalf("IncrementAttempt: %v", err)
	}

	next, err := s.NextEligibleJob(ctx)
	if err != nil {
		t.Fatalf("NextEligibleJob: %v", err)
	}
	if next.ID != queued.ID {
		t.Fatalf("next = %s, want queued job %s", next.ID, queued.ID)
	}
}

func TestRetryBecomesEligibleAfterDelay(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t)
	job := mustCreate(t, s, clock, "p1")

	if err := s.UpdateProgress(ctx, job.ID, domain.ProgressUpdate{Status: domain.JobStatusProcessing, From: domain.JobStatusQueued}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	res, err := s.IncrementAttempt(ctx, job.ID, "boom", 4*time.Second)
	if err != nil {
		t.Fatalf("IncrementAttempt: %v", err)
	}
	if res.Attempts != 1 || !res.ShouldRetry {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := s.NextEligibleJob(ctx); !errors.Is(err, domain.ErrNoJobAvailable) {
		t.Fatalf("job eligible before next_retry_at: %v", err)
	}
	clock.Advance(4 * time.Second)
	next, err := s.NextEligibleJob(ctx)
	if err != nil || next.ID != job.ID {
		t.Fatalf("NextEligibleJob = (%v, %v)", next, err)
	}
}

func TestExhaustedJobNeverEligible(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t)
	job := mustCreate(t, s, clock, "p1")

	for i := 1; i <= 3; i++ {
		from := domain.JobStatusQueued
		if i > 1 {
			from = domain.JobStatusFailed
		}
		if err := s.UpdateProgress(ctx, job.ID, domain.ProgressUpdate{Status: domain.JobStatusProcessing, From: from, Progress: 5}); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		res, err := s.IncrementAttempt(ctx, job.ID, "boom", time.Second)
		if err != nil {
			t.Fatalf("IncrementAttempt %d: %v", i, err)
		}
		if res.ShouldRetry != (i < 3) {
			t.Fatalf("attempt %d should_retry = %v", i, res.ShouldRetry)
		}
		clock.Advance(time.Hour)
	}
	if _, err := s.FailJob(ctx, job.ID, "boom"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if _, err := s.NextEligibleJob(ctx); !errors.Is(err, domain.ErrNoJobAvailable) {
		t.Fatalf("exhausted job returned: %v", err)
	}
	got, _ := s.GetJob(ctx, job.ID)
	if got.Status != domain.JobStatusFailed || got.Attempts != 3 || got.CanRetry() {
		t.Fatalf("unexpected terminal job %+v", got)
	}
}

func TestClaimIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t)
	job := mustCreate(t, s, clock, "p1")
	claim := domain.ProgressUpdate{Status: domain.JobStatusProcessing, From: domain.JobStatusQueued, Progress: 5}

	if err := s.UpdateProgress(ctx, job.ID, claim); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := s.UpdateProgress(ctx, job.ID, claim); !errors.Is(err, domain.ErrStatusConflict) {
		t.Fatalf("second claim error = %v, want ErrStatusConflict", err)
	}
	if err := s.UpdateProgress(ctx, "missing", claim); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing job error = %v, want ErrNotFound", err)
	}
}

func TestProgressNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t)
	job := mustCreate(t, s, clock, "p1")
	_ = s.UpdateProgress(ctx, job.ID, domain.ProgressUpdate{Status: domain.JobStatusProcessing, Progress: 5})
	_ = s.UpdateProgress(ctx, job.ID, domain.ProgressUpdate{Progress: 50, Provider: "rembg"})
	_ = s.UpdateProgress(ctx, job.ID, domain.ProgressUpdate{Progress: 20})

	got, _ := s.GetJob(ctx, job.ID)
	if got.Progress != 50 || got.Provider != "rembg" || got.StartedAt == nil {
		t.Fatalf("unexpected job %+v", got)
	}
}

func TestCompleteOnlyFromProcessing(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t)
	job := mustCreate(t, s, clock, "p1")

	if ok, _ := s.CompleteJob(ctx, job.ID, domain.JobOutput{}); ok {
		t.Fatal("queued job completed")
	}
	_ = s.UpdateProgress(ctx, job.ID, domain.ProgressUpdate{Status: domain.JobStatusProcessing})
	out := domain.JobOutput{QualityScore: 91, QualityPassed: true, ProviderUsed: "rembg"}
	if ok, err := s.CompleteJob(ctx, job.ID, out); !ok || err != nil {
		t.Fatalf("CompleteJob = (%v, %v)", ok, err)
	}
	got, _ := s.GetJob(ctx, job.ID)
	if got.Status != domain.JobStatusCompleted || got.Progress != 100 || got.CurrentStep != domain.StepDone {
		t.Fatalf("unexpected job %+v", got)
	}
	if ok, _ := s.FailJob(ctx, job.ID, "late"); ok {
		t.Fatal("completed job failed")
	}
}

func TestListJobsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t)
	first := mustCreate(t, s, clock, "p1")
	second := mustCreate(t, s, clock, "p2")
	other := &domain.Job{ProductID: "p3", UserID: "user-2"}
	_ = s.CreateJob(ctx, other)

	jobs, err := s.ListJobs(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != second.ID || jobs[1].ID != first.ID {
		t.Fatalf("unexpected order %+v", jobs)
	}
	if jobs, _ := s.ListJobs(ctx, "user-1", 1); len(jobs) != 1 {
		t.Fatalf("limit not applied: %d", len(jobs))
	}
}

func TestGetJobReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t)
	job := mustCreate(t, s, clock, "p1")
	got, _ := s.GetJob(ctx, job.ID)
	got.Status = domain.JobStatusCompleted
	again, _ := s.GetJob(ctx, job.ID)
	if again.Status != domain.JobStatusQueued {
		t.Fatal("store mutated through returned job")
	}
}

func TestImageStore(t *testing.T) {
	ctx := context.Background()
	s := NewImageStore()
	if _, err := s.CreateImage(ctx, &domain.ImageRecord{ProductID: "p1", Type: domain.VariantProcessed, Path: "u/p1/processed.png"}); err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	_, _ = s.CreateImage(ctx, &domain.ImageRecord{ProductID: "p2", Path: "u/p2/processed.png"})
	images, _ := s.ListImages(ctx, "p1")
	if len(images) != 1 || images[0].ID == "" {
		t.Fatalf("unexpected images %+v", images)
	}
	s.Err = errors.New("db down")
	if _, err := s.CreateImage(ctx, &domain.ImageRecord{ProductID: "p1", Path: "x"}); err == nil {
		t.Fatal("expected configured error")
	}
}
