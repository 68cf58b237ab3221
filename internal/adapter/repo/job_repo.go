package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"packshot/internal/domain"
	"packshot/internal/infra"
	"packshot/internal/sqlinline"
)

// DefaultListLimit is used when ListJobs is called without a positive limit.
const DefaultListLimit = 20

// JobRepositoryPG implements domain.JobStore on PostgreSQL.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// CreateJob inserts a queued job. Missing identifiers and limits are filled in.
func (r *JobRepositoryPG) CreateJob(ctx context.Context, job *domain.Job) error {
	if job == nil {
		return fmt.Errorf("%w: job is nil", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(job.ProductID) == "" {
		return fmt.Errorf("%w: product_id is required", domain.ErrInvalidInput)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
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
	input, err := json.Marshal(job.InputData)
	if err != nil {
		return fmt.Errorf("encode job input: %w", err)
	}

	row := r.sql.QueryRow(ctx, sqlinline.QInsertJob,
		job.ID,
		job.ProductID,
		job.UserID,
		string(job.Status),
		string(job.CurrentStep),
		job.Progress,
		job.MaxAttempts,
		input,
	)
	return row.Scan(&job.CreatedAt, &job.UpdatedAt)
}

// GetJob fetches a job by its identifier.
func (r *JobRepositoryPG) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJob, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// UpdateProgress applies a partial update. With upd.From set, a row whose
// status moved on returns domain.ErrStatusConflict.
func (r *JobRepositoryPG) UpdateProgress(ctx context.Context, id string, upd domain.ProgressUpdate) error {
	var status string
	err := r.sql.QueryRow(ctx, sqlinline.QUpdateJobProgress,
		id,
		string(upd.Status),
		string(upd.Step),
		upd.Progress,
		upd.Provider,
		string(upd.From),
	).Scan(&status)
	if err == nil {
		return nil
	}
	if !infra.IsNoRows(err) {
		return err
	}
	if upd.From == "" {
		return domain.ErrNotFound
	}
	if _, getErr := r.GetJob(ctx, id); getErr != nil {
		return getErr
	}
	return domain.ErrStatusConflict
}

// IncrementAttempt records one failed attempt and schedules the next retry
// after delay.
func (r *JobRepositoryPG) IncrementAttempt(ctx context.Context, id, errMsg string, delay time.Duration) (domain.AttemptResult, error) {
	var res domain.AttemptResult
	err := r.sql.QueryRow(ctx, sqlinline.QIncrementJobAttempt, id, errMsg, delay.Seconds()).
		Scan(&res.Attempts, &res.MaxAttempts)
	if err != nil {
		if infra.IsNoRows(err) {
			return res, domain.ErrNotFound
		}
		return res, err
	}
	res.ShouldRetry = res.Attempts < res.MaxAttempts
	return res, nil
}

// CompleteJob stores the output and marks a processing job completed.
func (r *JobRepositoryPG) CompleteJob(ctx context.Context, id string, out domain.JobOutput) (bool, error) {
	raw, err := json.Marshal(out)
	if err != nil {
		return false, fmt.Errorf("encode job output: %w", err)
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QCompleteJob, id, raw)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FailJob marks a job terminally failed.
func (r *JobRepositoryPG) FailJob(ctx context.Context, id, errMsg string) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QFailJob, id, errMsg)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// NextEligibleJob returns the oldest queued job, or else the oldest failed
// job whose retry time has passed.
func (r *JobRepositoryPG) NextEligibleJob(ctx context.Context) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QNextEligibleJob))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNoJobAvailable
		}
		return nil, err
	}
	return job, nil
}

// ListJobs returns the user's jobs, newest first.
func (r *JobRepositoryPG) ListJobs(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListJobsByUser, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]domain.Job, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job           domain.Job
		status, step  string
		input, output []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.ProductID,
		&job.UserID,
		&status,
		&step,
		&job.Progress,
		&job.Attempts,
		&job.MaxAttempts,
		&job.NextRetryAt,
		&job.Provider,
		&input,
		&output,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.CurrentStep = domain.Step(step)
	if len(input) > 0 {
		if err := json.Unmarshal(input, &job.InputData); err != nil {
			return nil, fmt.Errorf("decode job input: %w", err)
		}
	}
	if len(output) > 0 && string(output) != "null" {
		var out domain.JobOutput
		if err := json.Unmarshal(output, &out); err != nil {
			return nil, fmt.Errorf("decode job output: %w", err)
		}
		job.OutputData = &out
	}
	return &job, nil
}

var _ domain.JobStore = (*JobRepositoryPG)(nil)
