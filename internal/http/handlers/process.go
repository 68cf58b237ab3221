package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"packshot/internal/domain"
	"packshot/internal/pipeline"
)

// Process runs the whole pipeline within the request. A failed run answers
// 422 with the result, which carries the error.
func (a *App) Process(w http.ResponseWriter, r *http.Request) {
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
	result := a.Runner.Run(r.Context(), pipeline.Input{
		UserID:    userID,
		ProductID: productID,
		Filename:  up.Filename,
		Image:     up.Data,
	})
	code := http.StatusOK
	if !result.Success {
		code = http.StatusUnprocessableEntity
	}
	a.json(w, code, result)
}

// Quality scores an uploaded image without storing it.
func (a *App) Quality(w http.ResponseWriter, r *http.Request) {
	up, err := a.readUpload(w, r)
	if err != nil {
		a.uploadError(w, err)
		return
	}
	report, err := a.Validator.ScoreBytes(up.Data)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	a.json(w, http.StatusOK, report)
}

type segmentResponse struct {
	Provider    string `json:"provider"`
	ContentType string `json:"content_type"`
	ImageBase64 string `json:"image_base64"`
}

// Segment removes the background only and returns the subject flattened on
// white, without storing anything.
func (a *App) Segment(w http.ResponseWriter, r *http.Request) {
	up, err := a.readUpload(w, r)
	if err != nil {
		a.uploadError(w, err)
		return
	}
	cutout, provider, err := a.Stages.Segment(r.Context(), up.Data)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("segment request failed")
		switch {
		case errors.Is(err, domain.ErrProviderFailure):
			a.error(w, http.StatusBadGateway, "segmentation_failed", err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			a.error(w, http.StatusGatewayTimeout, "segmentation_timeout", err.Error())
		default:
			a.error(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}
	flat, err := a.Stages.Flatten(r.Context(), cutout)
	if err != nil {
		a.error(w, http.StatusUnprocessableEntity, "invalid_cutout", err.Error())
		return
	}
	a.json(w, http.StatusOK, segmentResponse{
		Provider:    provider,
		ContentType: "image/png",
		ImageBase64: base64.StdEncoding.EncodeToString(flat),
	})
}
