package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"packshot/internal/domain"
)

// ImageStore keeps image records in insertion order.
type ImageStore struct {
	mu     sync.Mutex
	images []domain.ImageRecord
	// Err, when set, is returned by CreateImage.
	Err error
}

func NewImageStore() *ImageStore {
	return &ImageStore{}
}

func (s *ImageStore) CreateImage(ctx context.Context, rec *domain.ImageRecord) (string, error) {
	if rec == nil || rec.ProductID == "" || rec.Path == "" {
		return "", fmt.Errorf("%w: image record requires product_id and path", domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now()
	s.images = append(s.images, *rec)
	return rec.ID, nil
}

func (s *ImageStore) ListImages(ctx context.Context, productID string) ([]domain.ImageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ImageRecord
	for _, img := range s.images {
		if img.ProductID == productID {
			out = append(out, img)
		}
	}
	return out, nil
}

var _ domain.ImageRepository = (*ImageStore)(nil)
