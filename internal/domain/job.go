package domain

import (
	"encoding/json"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Step names the pipeline stage a job is currently in.
type Step string

const (
	StepUploading   Step = "uploading"
	StepDownloading Step = "downloading"
	StepSegmenting  Step = "segmenting"
	StepComposing   Step = "composing"
	StepValidating  Step = "validating"
	StepSaving      Step = "saving"
	StepDone        Step = "done"
)

// DefaultMaxAttempts is applied when a job is created without an explicit limit.
const DefaultMaxAttempts = 3

// Image variants stored for every product.
const (
	VariantOriginal  = "original"
	VariantSegmented = "segmented"
	VariantProcessed = "processed"
)

// JobInput is the payload captured when a job is enqueued.
type JobInput struct {
	OriginalPath   string          `json:"original_path"`
	OriginalURL    string          `json:"original_url,omitempty"`
	Filename       string          `json:"filename,omitempty"`
	Classification json.RawMessage `json:"classification,omitempty"`
	OriginCountry  string          `json:"origin_country,omitempty"`
}

// JobOutput is written once, on success.
type JobOutput struct {
	Images         map[string]ImageRef `json:"images"`
	QualityScore   int                 `json:"quality_score"`
	QualityPassed  bool                `json:"quality_passed"`
	QualityDetails json.RawMessage     `json:"quality_details,omitempty"`
	ProviderUsed   string              `json:"provider_used"`
}

// Job is one request to process one product photo.
type Job struct {
	ID          string     `json:"id"`
	ProductID   string     `json:"product_id"`
	UserID      string     `json:"user_id"`
	Status      JobStatus  `json:"status"`
	CurrentStep Step       `json:"current_step"`
	Progress    int        `json:"progress"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	Provider    string     `json:"provider,omitempty"`
	InputData   JobInput   `json:"input_data"`
	OutputData  *JobOutput `json:"output_data,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// State reports the job's position in the lifecycle.
func (j *Job) State() State {
	return State{Status: j.Status, Retryable: j.Attempts < j.MaxAttempts}
}

// CanRetry reports whether a failed job will be picked up again.
func (j *Job) CanRetry() bool {
	return j.Status == JobStatusFailed && j.Attempts < j.MaxAttempts
}

// Eligible reports whether a worker may accept the job at the given instant.
func (j *Job) Eligible(now time.Time) bool {
	switch j.Status {
	case JobStatusQueued:
		return true
	case JobStatusFailed:
		if j.Attempts >= j.MaxAttempts {
			return false
		}
		return j.NextRetryAt == nil || !j.NextRetryAt.After(now)
	default:
		return false
	}
}

// ImageRef points at one stored image variant.
type ImageRef struct {
	ID           string `json:"id,omitempty"`
	Bucket       string `json:"bucket"`
	Path         string `json:"path"`
	URL          string `json:"url,omitempty"`
	QualityScore *int   `json:"quality_score,omitempty"`
}

// ImageRecord is the persisted metadata of one stored image variant.
type ImageRecord struct {
	ID           string    `json:"id"`
	ProductID    string    `json:"product_id"`
	Type         string    `json:"type"`
	Bucket       string    `json:"bucket"`
	Path         string    `json:"path"`
	QualityScore *int      `json:"quality_score,omitempty"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
}
