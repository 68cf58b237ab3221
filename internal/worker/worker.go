// Package worker runs queued jobs through the image pipeline.
package worker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"packshot/internal/domain"
	"packshot/internal/infra"
	"packshot/internal/metrics"
	"packshot/internal/pipeline"
	"packshot/internal/storage"
)

// Outcome describes one dispatch. It is returned to the caller instead of
// being kept as worker state.
type Outcome struct {
	JobID      string        `json:"job_id"`
	Accepted   bool          `json:"accepted"`
	Succeeded  bool          `json:"succeeded"`
	Provider   string        `json:"provider,omitempty"`
	Attempts   int           `json:"attempts,omitempty"`
	Retrying   bool          `json:"retrying,omitempty"`
	Message    string        `json:"error,omitempty"`
	DurationMS int64         `json:"duration_ms"`
	FinishedAt time.Time     `json:"finished_at"`
	Err        error         `json:"-"`
	Duration   time.Duration `json:"-"`
}

// Options configures a Worker.
type Options struct {
	Backoff Backoff
	Logger  *infra.Logger
}

// Worker executes one job at a time against the shared pipeline stages.
type Worker struct {
	jobs    domain.JobStore
	stages  *pipeline.Stages
	backoff Backoff
	logger  zerolog.Logger
}

func New(jobs domain.JobStore, stages *pipeline.Stages, opts Options) *Worker {
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = infra.Component(*opts.Logger, "worker")
	}
	backoff := opts.Backoff
	if len(backoff.steps) == 0 {
		backoff = NewBackoff()
	}
	return &Worker{jobs: jobs, stages: stages, backoff: backoff, logger: logger}
}

// Process runs the job and reports whether it completed.
func (w *Worker) Process(ctx context.Context, jobID string) bool {
	return w.Run(ctx, jobID).Succeeded
}

// Run accepts the job if its state allows it, executes every stage and
// records the result. Jobs that are not accepted are left untouched.
func (w *Worker) Run(ctx context.Context, jobID string) (out Outcome) {
	start := time.Now()
	out.JobID = jobID
	defer func() {
		out.Duration = time.Since(start)
		out.DurationMS = out.Duration.Milliseconds()
		out.FinishedAt = time.Now()
		if out.Err != nil {
			out.Message = out.Err.Error()
		}
	}()

	job, err := w.jobs.GetJob(ctx, jobID)
	if err != nil {
		out.Err = err
		w.logger.Warn().Err(err).Str("job_id", jobID).Msg("job lookup failed")
		metrics.JobsTotal.WithLabelValues("skipped").Inc()
		return out
	}
	next, err := domain.Next(job.State(), domain.Event{Kind: domain.EventClaim})
	if err != nil {
		out.Err = fmt.Errorf("%w: %v", domain.ErrJobNotEligible, err)
		w.logger.Info().Str("job_id", jobID).Str("status", string(job.Status)).Msg("job rejected")
		metrics.JobsTotal.WithLabelValues("skipped").Inc()
		return out
	}
	claim := domain.ProgressUpdate{
		Status:   next.Status,
		From:     job.Status,
		Step:     domain.StepDownloading,
		Progress: 5,
	}
	if err := w.jobs.UpdateProgress(ctx, jobID, claim); err != nil {
		out.Err = err
		w.logger.Info().Err(err).Str("job_id", jobID).Msg("job claim lost")
		metrics.JobsTotal.WithLabelValues("skipped").Inc()
		return out
	}
	out.Accepted = true
	job.Status = next.Status
	w.logger.Info().Str("job_id", jobID).Str("product_id", job.ProductID).Int("attempt", job.Attempts+1).Msg("job started")

	defer func() {
		metrics.JobDurationSeconds.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			w.logger.Error().Err(err).Str("job_id", jobID).Msg("job panicked")
			out.Succeeded = false
			out.Err = err
			w.fail(ctx, job, err, &out)
		}
	}()

	output, err := w.execute(ctx, job)
	if err != nil {
		out.Err = err
		w.fail(ctx, job, err, &out)
		return out
	}
	out.Provider = output.ProviderUsed

	if _, err := domain.Next(job.State(), domain.Event{Kind: domain.EventSucceed}); err != nil {
		out.Err = err
		return out
	}
	ok, err := w.jobs.CompleteJob(ctx, jobID, output)
	if err != nil {
		out.Err = fmt.Errorf("complete job: %w", err)
		w.fail(ctx, job, out.Err, &out)
		return out
	}
	if !ok {
		out.Err = domain.ErrStatusConflict
		w.logger.Warn().Str("job_id", jobID).Msg("job changed state before completion")
		metrics.JobsTotal.WithLabelValues("skipped").Inc()
		return out
	}
	out.Succeeded = true
	metrics.JobsTotal.WithLabelValues("completed").Inc()
	w.logger.Info().
		Str("job_id", jobID).
		Str("provider", output.ProviderUsed).
		Int("quality_score", output.QualityScore).
		Bool("quality_passed", output.QualityPassed).
		Msg("job completed")
	return out
}

func (w *Worker) execute(ctx context.Context, job *domain.Job) (domain.JobOutput, error) {
	var output domain.JobOutput
	in := job.InputData
	if in.OriginalPath == "" {
		return output, fmt.Errorf("%w: input_data has no original_path", domain.ErrInvalidInput)
	}

	w.progress(ctx, job.ID, domain.StepDownloading, 10, "")
	original, err := w.stages.Download(ctx, storage.BucketRaw, in.OriginalPath)
	if err != nil {
		return output, err
	}
	w.progress(ctx, job.ID, "", 20, "")

	w.progress(ctx, job.ID, domain.StepSegmenting, 25, "")
	cutout, provider, err := w.stages.Segment(ctx, original)
	if err != nil {
		return output, err
	}
	w.progress(ctx, job.ID, "", 50, provider)

	w.progress(ctx, job.ID, domain.StepComposing, 55, "")
	composed, err := w.stages.Compose(ctx, cutout)
	if err != nil {
		return output, err
	}
	w.progress(ctx, job.ID, "", 75, "")

	w.progress(ctx, job.ID, domain.StepValidating, 78, "")
	report, err := w.stages.Validate(ctx, composed)
	if err != nil {
		return output, err
	}
	w.progress(ctx, job.ID, "", 85, "")

	w.progress(ctx, job.ID, domain.StepSaving, 88, "")
	segmented, err := w.stages.SaveVariant(ctx, storage.BucketSegmented,
		storage.VariantPath(job.UserID, job.ProductID, domain.VariantSegmented, ".png"), cutout)
	if err != nil {
		return output, err
	}
	w.progress(ctx, job.ID, "", 92, "")
	processed, err := w.stages.SaveVariant(ctx, storage.BucketProcessed,
		storage.VariantPath(job.UserID, job.ProductID, domain.VariantProcessed, ".png"), composed)
	if err != nil {
		return output, err
	}
	w.progress(ctx, job.ID, "", 95, "")

	score := report.Score
	processed.QualityScore = &score
	w.stages.Register(ctx, &segmented, job.ProductID, job.UserID, domain.VariantSegmented)
	w.stages.Register(ctx, &processed, job.ProductID, job.UserID, domain.VariantProcessed)

	details, err := report.DetailsJSON()
	if err != nil {
		return output, err
	}
	w.progress(ctx, job.ID, domain.StepDone, 100, "")

	output = domain.JobOutput{
		Images: map[string]domain.ImageRef{
			domain.VariantOriginal: {
				Bucket: storage.BucketRaw,
				Path:   in.OriginalPath,
				URL:    in.OriginalURL,
			},
			domain.VariantSegmented: segmented,
			domain.VariantProcessed: processed,
		},
		QualityScore:   report.Score,
		QualityPassed:  report.Passed,
		QualityDetails: details,
		ProviderUsed:   provider,
	}
	return output, nil
}

// progress records a stage transition. Failures are logged; the job keeps
// running and its final state is written by complete or fail.
func (w *Worker) progress(ctx context.Context, jobID string, step domain.Step, pct int, provider string) {
	upd := domain.ProgressUpdate{Step: step, Progress: pct, Provider: provider}
	if err := w.jobs.UpdateProgress(ctx, jobID, upd); err != nil {
		w.logger.Warn().Err(err).Str("job_id", jobID).Int("progress", pct).Msg("progress update failed")
		return
	}
	ev := w.logger.Debug().Str("job_id", jobID).Int("progress", pct)
	if step != "" {
		ev = ev.Str("step", string(step))
	}
	if provider != "" {
		ev = ev.Str("provider", provider)
	}
	ev.Msg("job progress")
}

// fail records the attempt and, once attempts are exhausted, marks the job
// terminally failed with the error message unchanged.
func (w *Worker) fail(ctx context.Context, job *domain.Job, cause error, out *Outcome) {
	msg := cause.Error()
	delay := w.backoff.Delay(job.Attempts)
	res, err := w.jobs.IncrementAttempt(ctx, job.ID, msg, delay)
	if err != nil {
		// Nothing dequeues processing rows, so the job is closed out here.
		w.logger.Error().Err(err).Str("job_id", job.ID).Str("cause", msg).Msg("record attempt failed")
		if _, ferr := w.jobs.FailJob(ctx, job.ID, msg); ferr != nil {
			w.logger.Error().Err(ferr).Str("job_id", job.ID).Msg("mark job failed")
		}
		metrics.JobsTotal.WithLabelValues("failed").Inc()
		return
	}
	out.Attempts = res.Attempts

	state, err := domain.Next(job.State(), domain.Event{
		Kind:        domain.EventFail,
		Attempts:    res.Attempts,
		MaxAttempts: res.MaxAttempts,
	})
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("unexpected failure transition")
	}
	if state.Retryable && res.ShouldRetry {
		out.Retrying = true
		metrics.JobsTotal.WithLabelValues("retry").Inc()
		w.logger.Warn().
			Str("job_id", job.ID).
			Str("error", msg).
			Int("attempt", res.Attempts).
			Int("max_attempts", res.MaxAttempts).
			Dur("retry_in", delay).
			Msg("job failed, retry scheduled")
		return
	}

	if _, err := w.jobs.FailJob(ctx, job.ID, msg); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("mark job failed")
	}
	metrics.JobsTotal.WithLabelValues("failed").Inc()
	w.logger.Error().
		Str("job_id", job.ID).
		Str("error", msg).
		Int("attempts", res.Attempts).
		Msg("job failed permanently")
}
