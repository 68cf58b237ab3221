package repo

import (
	"context"
	"fmt"
	"strings"

	"packshot/internal/domain"
	"packshot/internal/infra"
	"packshot/internal/sqlinline"
)

// ImageRepositoryPG implements domain.ImageRepository using PostgreSQL.
type ImageRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewImageRepository constructs a new image repository instance.
func NewImageRepository(sql infra.SQLExecutor) *ImageRepositoryPG {
	return &ImageRepositoryPG{sql: sql}
}

// CreateImage registers one stored variant and returns its id.
func (r *ImageRepositoryPG) CreateImage(ctx context.Context, rec *domain.ImageRecord) (string, error) {
	if rec == nil || strings.TrimSpace(rec.ProductID) == "" || rec.Path == "" {
		return "", fmt.Errorf("%w: image record requires product_id and path", domain.ErrInvalidInput)
	}
	err := r.sql.QueryRow(ctx, sqlinline.QInsertImage,
		rec.ProductID,
		rec.Type,
		rec.Bucket,
		rec.Path,
		rec.QualityScore,
		rec.CreatedBy,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// ListImages returns every variant registered for the product, oldest first.
func (r *ImageRepositoryPG) ListImages(ctx context.Context, productID string) ([]domain.ImageRecord, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListImagesByProduct, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []domain.ImageRecord
	for rows.Next() {
		var img domain.ImageRecord
		if err := rows.Scan(&img.ID, &img.ProductID, &img.Type, &img.Bucket, &img.Path, &img.QualityScore, &img.CreatedBy, &img.CreatedAt); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return images, nil
}

var _ domain.ImageRepository = (*ImageRepositoryPG)(nil)
