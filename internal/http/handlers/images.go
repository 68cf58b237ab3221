package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type imageView struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Path         string    `json:"path"`
	URL          string    `json:"url"`
	QualityScore *int      `json:"quality_score,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ProductImages lists the registered variants of a product owned by the
// caller. Products the caller has no images for answer with an empty list.
func (a *App) ProductImages(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	productID := chi.URLParam(r, "product_id")
	records, err := a.Images.ListImages(r.Context(), productID)
	if err != nil {
		a.Logger.Error().Err(err).Str("product_id", productID).Msg("list images failed")
		a.error(w, http.StatusInternalServerError, "internal", "could not list images")
		return
	}
	store := a.Stages.Store()
	views := make([]imageView, 0, len(records))
	for _, rec := range records {
		if rec.CreatedBy != userID {
			continue
		}
		views = append(views, imageView{
			ID:           rec.ID,
			Type:         rec.Type,
			Path:         rec.Path,
			URL:          store.PublicURL(rec.Bucket, rec.Path),
			QualityScore: rec.QualityScore,
			CreatedAt:    rec.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"product_id": productID, "images": views})
}
