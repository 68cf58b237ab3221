package domain

import (
	"context"
	"time"

	"packshot/internal/quality"
)

// ProgressUpdate carries a partial job update. Zero values leave the
// corresponding column unchanged. When From is set the update only applies
// if the stored status still equals From, otherwise ErrStatusConflict.
type ProgressUpdate struct {
	Status   JobStatus
	From     JobStatus
	Step     Step
	Progress int
	Provider string
}

// AttemptResult is returned by IncrementAttempt with the counters after the increment.
type AttemptResult struct {
	Attempts    int  `json:"attempts"`
	MaxAttempts int  `json:"max_attempts"`
	ShouldRetry bool `json:"should_retry"`
}

// JobStore persists jobs and the queue ordering over them.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	UpdateProgress(ctx context.Context, id string, upd ProgressUpdate) error
	IncrementAttempt(ctx context.Context, id, errMsg string, delay time.Duration) (AttemptResult, error)
	CompleteJob(ctx context.Context, id string, out JobOutput) (bool, error)
	FailJob(ctx context.Context, id, errMsg string) (bool, error)
	NextEligibleJob(ctx context.Context) (*Job, error)
	ListJobs(ctx context.Context, userID string, limit int) ([]Job, error)
}

// ImageRepository persists image variant metadata.
type ImageRepository interface {
	CreateImage(ctx context.Context, rec *ImageRecord) (string, error)
	ListImages(ctx context.Context, productID string) ([]ImageRecord, error)
}

// PipelineResult is the outcome of a synchronous run.
type PipelineResult struct {
	Success       bool                `json:"success"`
	ProductID     string              `json:"product_id"`
	Images        map[string]ImageRef `json:"images"`
	QualityReport *quality.Report     `json:"quality_report,omitempty"`
	Provider      string              `json:"provider_used,omitempty"`
	Error         string              `json:"error,omitempty"`
}
