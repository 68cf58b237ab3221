package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"packshot/internal/domain"
	"packshot/internal/metrics"
	"packshot/internal/middleware"
	"packshot/internal/pipeline"
	"packshot/internal/storage"
	"packshot/pkg/zip"
)

// Listing bounds for GET /v1/jobs.
const (
	defaultJobLimit = 20
	maxJobLimit     = 100
)

type createJobResponse struct {
	JobID     string           `json:"job_id"`
	ProductID string           `json:"product_id"`
	Status    domain.JobStatus `json:"status"`
}

type jobView struct {
	ID          string            `json:"id"`
	ProductID   string            `json:"product_id"`
	Status      domain.JobStatus  `json:"status"`
	CurrentStep domain.Step       `json:"current_step"`
	StepLabel   string            `json:"step_label,omitempty"`
	Progress    int               `json:"progress"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"max_attempts"`
	CanRetry    bool              `json:"can_retry"`
	NextRetryAt *time.Time        `json:"next_retry_at,omitempty"`
	Provider    string            `json:"provider,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	Output      *domain.JobOutput `json:"output,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

func newJobView(job *domain.Job, locale string) jobView {
	return jobView{
		ID:          job.ID,
		ProductID:   job.ProductID,
		Status:      job.Status,
		CurrentStep: job.CurrentStep,
		StepLabel:   stepLabel(locale, job.CurrentStep),
		Progress:    job.Progress,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		CanRetry:    job.CanRetry(),
		NextRetryAt: job.NextRetryAt,
		Provider:    job.Provider,
		LastError:   job.LastError,
		Output:      job.OutputData,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}

// CreateJob stores the uploaded original and queues it for processing.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	up, err := a.readUpload(w, r)
	if err != nil {
		a.uploadError(w, err)
		return
	}
	productID := formValue(r, "product_id")
	if productID == "" {
		productID = uuid.NewString()
	}
	var classification json.RawMessage
	if raw := formValue(r, "classification"); raw != "" {
		if !json.Valid([]byte(raw)) {
			a.error(w, http.StatusBadRequest, "bad_request", "classification must be JSON")
			return
		}
		classification = json.RawMessage(raw)
	}

	ctx := r.Context()
	path := pipeline.OriginalPath(userID, productID, up.Filename, up.Data)
	ref, err := a.Stages.SaveVariant(ctx, storage.BucketRaw, path, up.Data)
	if err != nil {
		a.Logger.Error().Err(err).Str("product_id", productID).Msg("store original failed")
		a.error(w, http.StatusBadGateway, "storage_unavailable", "failed to store image")
		return
	}
	a.Stages.Register(ctx, &ref, productID, userID, domain.VariantOriginal)

	job := &domain.Job{
		ProductID:   productID,
		UserID:      userID,
		Status:      domain.JobStatusQueued,
		CurrentStep: domain.StepUploading,
		MaxAttempts: a.Config.JobMaxAttempts,
		InputData: domain.JobInput{
			OriginalPath:   ref.Path,
			OriginalURL:    ref.URL,
			Filename:       up.Filename,
			Classification: classification,
			OriginCountry:  middleware.CountryFromContext(ctx),
		},
	}
	if err := a.Jobs.CreateJob(ctx, job); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		a.Logger.Error().Err(err).Str("product_id", productID).Msg("create job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		return
	}
	metrics.JobsEnqueuedTotal.Inc()
	if a.Notifier != nil {
		if err := a.Notifier.JobEnqueued(ctx, job.ID); err != nil {
			a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("job wake-up not published")
		}
	}
	a.Logger.Info().Str("job_id", job.ID).Str("product_id", productID).Str("user_id", userID).Msg("job queued")
	a.json(w, http.StatusAccepted, createJobResponse{JobID: job.ID, ProductID: productID, Status: job.Status})
}

// ListJobs returns the caller's jobs, newest first.
func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit := defaultJobLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.error(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxJobLimit)
	}
	jobs, err := a.Jobs.ListJobs(r.Context(), userID, limit)
	if err != nil {
		a.Logger.Error().Err(err).Msg("list jobs failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list jobs")
		return
	}
	locale := middleware.LocaleFromContext(r.Context())
	items := make([]jobView, 0, len(jobs))
	for i := range jobs {
		items = append(items, newJobView(&jobs[i], locale))
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": items, "total": len(items)})
}

// GetJob reports the status of one job owned by the caller.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadJobForUser(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, newJobView(job, middleware.LocaleFromContext(r.Context())))
}

// JobArchive streams the stored variants of a completed job as a zip.
func (a *App) JobArchive(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadJobForUser(w, r)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusCompleted || job.OutputData == nil {
		a.error(w, http.StatusConflict, "not_ready", "job has not completed")
		return
	}

	variants := make([]string, 0, len(job.OutputData.Images))
	for v := range job.OutputData.Images {
		variants = append(variants, v)
	}
	sort.Strings(variants)

	store := a.Stages.Store()
	entries := make([]zip.Entry, 0, len(variants))
	for _, v := range variants {
		ref := job.OutputData.Images[v]
		data, err := store.Download(r.Context(), ref.Bucket, ref.Path)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				a.Logger.Warn().Str("job_id", job.ID).Str("variant", v).Msg("variant missing from storage")
				continue
			}
			a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("download variant failed")
			a.error(w, http.StatusBadGateway, "storage_unavailable", "failed to read variants")
			return
		}
		entries = append(entries, zip.Entry{Name: ref.Path, Data: data, Modified: job.UpdatedAt})
	}
	archive, err := zip.Archive(entries)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("build archive failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to build archive")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.zip", job.ProductID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

func (a *App) loadJobForUser(w http.ResponseWriter, r *http.Request) (*domain.Job, bool) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return nil, false
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return nil, false
	}
	job, err := a.Jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return nil, false
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("load job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return nil, false
	}
	if job.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return nil, false
	}
	return job, true
}
