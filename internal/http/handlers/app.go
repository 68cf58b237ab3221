package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"

	"packshot/internal/domain"
	"packshot/internal/infra"
	"packshot/internal/middleware"
	"packshot/internal/notify"
	"packshot/internal/pipeline"
	"packshot/internal/quality"
	"packshot/internal/worker"
)

// App holds the collaborators shared by all handlers.
type App struct {
	Config    *infra.Config
	Logger    infra.Logger
	Jobs      domain.JobStore
	Images    domain.ImageRepository
	Stages    *pipeline.Stages
	Runner    *pipeline.Runner
	Validator *quality.Validator
	Notifier  notify.Notifier
	// Scheduler is set when the API process runs the worker loop itself.
	Scheduler *worker.Scheduler
	// CountryLookup resolves client IPs for the i18n middleware; may be nil.
	CountryLookup middleware.CountryLookup
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{
		"error": map[string]string{"code": errCode, "message": message},
	})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// upload is an image read from a multipart form.
type upload struct {
	Filename string
	Data     []byte
	Width    int
	Height   int
}

var (
	errUploadMissing  = errors.New("image file is required")
	errUploadTooLarge = errors.New("image exceeds the upload limit")
	errUploadFormat   = errors.New("unsupported image format")
	errUploadTooWide  = errors.New("image dimensions exceed the limit")
)

// readUpload parses the multipart "image" field and enforces the size and
// dimension limits.
func (a *App) readUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	limit := a.Config.MaxUploadBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errUploadTooLarge
		}
		return nil, fmt.Errorf("%w: %v", errUploadMissing, err)
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, errUploadMissing
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, errUploadTooLarge
	}
	if len(data) == 0 {
		return nil, errUploadMissing
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errUploadFormat
	}
	if maxDim := a.Config.MaxImageDim; maxDim > 0 && (cfg.Width > maxDim || cfg.Height > maxDim) {
		return nil, errUploadTooWide
	}
	return &upload{Filename: header.Filename, Data: data, Width: cfg.Width, Height: cfg.Height}, nil
}

func (a *App) uploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errUploadTooLarge):
		a.error(w, http.StatusRequestEntityTooLarge, "too_large", err.Error())
	case errors.Is(err, errUploadFormat), errors.Is(err, errUploadTooWide), errors.Is(err, errUploadMissing):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("read upload failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to read upload")
	}
}

func formValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.FormValue(key))
}
