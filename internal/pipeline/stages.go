// Package pipeline holds the image-processing stages shared by the job
// worker and the synchronous runner.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"packshot/internal/composer"
	"packshot/internal/domain"
	"packshot/internal/infra"
	"packshot/internal/metrics"
	"packshot/internal/quality"
	"packshot/internal/storage"
)

// Stage names used for metrics and logs.
const (
	StageDownload = "download"
	StageSegment  = "segment"
	StageCompose  = "compose"
	StageValidate = "validate"
	StageUpload   = "upload"
	StageRegister = "register"
)

// Segmenter returns a cut-out and the name of the provider that produced it.
// *segmentation.Chain satisfies it.
type Segmenter interface {
	Segment(ctx context.Context, image []byte) ([]byte, string, error)
}

// Options configures Stages.
type Options struct {
	// StageTimeout bounds every network-bound stage. Zero disables it.
	StageTimeout time.Duration
	// CanvasSize is the composed output side in pixels.
	CanvasSize int
	Logger     *infra.Logger
}

// Stages wires the collaborators each pipeline step needs.
type Stages struct {
	store     storage.ObjectStore
	images    domain.ImageRepository
	segmenter Segmenter
	composer  *composer.Composer
	validator *quality.Validator
	timeout   time.Duration
	size      int
	logger    zerolog.Logger
}

func NewStages(store storage.ObjectStore, images domain.ImageRepository, segmenter Segmenter, opts Options) *Stages {
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	size := opts.CanvasSize
	if size <= 0 {
		size = composer.DefaultSize
	}
	return &Stages{
		store:     store,
		images:    images,
		segmenter: segmenter,
		composer:  composer.New(),
		validator: quality.New(),
		timeout:   opts.StageTimeout,
		size:      size,
		logger:    logger,
	}
}

// Store exposes the object store for callers that read variants back.
func (s *Stages) Store() storage.ObjectStore {
	return s.store
}

// run applies the stage timeout and records the stage duration.
func (s *Stages) run(ctx context.Context, stage string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	err := fn(ctx)
	metrics.StageDurationSeconds.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s stage timed out after %s: %w", stage, s.timeout, err)
	}
	return err
}

// Download fetches an object.
func (s *Stages) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	var data []byte
	err := s.run(ctx, StageDownload, func(ctx context.Context) error {
		var err error
		data, err = s.store.Download(ctx, bucket, path)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", bucket, path, err)
	}
	return data, nil
}

// Segment removes the background through the provider chain.
func (s *Stages) Segment(ctx context.Context, image []byte) ([]byte, string, error) {
	var (
		out      []byte
		provider string
	)
	err := s.run(ctx, StageSegment, func(ctx context.Context) error {
		var err error
		out, provider, err = s.segmenter.Segment(ctx, image)
		return err
	})
	return out, provider, err
}

// Compose places the cut-out on the canvas and returns PNG bytes.
func (s *Stages) Compose(ctx context.Context, cutout []byte) ([]byte, error) {
	var out []byte
	err := s.run(ctx, StageCompose, func(context.Context) error {
		var err error
		out, err = s.composer.ComposeBytes(cutout, s.size)
		return err
	})
	return out, err
}

// Flatten places the cut-out on white at its own dimensions.
func (s *Stages) Flatten(ctx context.Context, cutout []byte) ([]byte, error) {
	var out []byte
	err := s.run(ctx, StageCompose, func(context.Context) error {
		var err error
		out, err = s.composer.FlattenBytes(cutout)
		return err
	})
	return out, err
}

// Validate scores the composed image. A failing score is not an error.
func (s *Stages) Validate(ctx context.Context, composed []byte) (quality.Report, error) {
	var report quality.Report
	err := s.run(ctx, StageValidate, func(context.Context) error {
		var err error
		report, err = s.validator.ScoreBytes(composed)
		return err
	})
	if err != nil {
		return report, err
	}
	metrics.QualityScore.Observe(float64(report.Score))
	return report, nil
}

// SaveVariant writes data at the variant's deterministic path, replacing
// any previous object, and returns the stored reference.
func (s *Stages) SaveVariant(ctx context.Context, bucket, path string, data []byte) (domain.ImageRef, error) {
	err := s.run(ctx, StageUpload, func(ctx context.Context) error {
		if err := s.store.Remove(ctx, bucket, path); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			s.logger.Debug().Err(err).Str("bucket", bucket).Str("path", path).Msg("remove before upload failed")
		}
		return s.store.Upload(ctx, bucket, path, data, storage.ContentTypeFor(path))
	})
	if err != nil {
		return domain.ImageRef{}, fmt.Errorf("upload %s/%s: %w", bucket, path, err)
	}
	return domain.ImageRef{Bucket: bucket, Path: path, URL: s.store.PublicURL(bucket, path)}, nil
}

// Register records the variant and fills ref.ID. Failures are logged and
// leave the id empty.
func (s *Stages) Register(ctx context.Context, ref *domain.ImageRef, productID, userID, variant string) {
	if s.images == nil {
		return
	}
	rec := &domain.ImageRecord{
		ProductID:    productID,
		Type:         variant,
		Bucket:       ref.Bucket,
		Path:         ref.Path,
		QualityScore: ref.QualityScore,
		CreatedBy:    userID,
	}
	err := s.run(ctx, StageRegister, func(ctx context.Context) error {
		id, err := s.images.CreateImage(ctx, rec)
		if err != nil {
			return err
		}
		ref.ID = id
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("product_id", productID).Str("variant", variant).Msg("image registration failed")
	}
}

// OriginalPath returns where an upload is stored in the raw bucket. The
// extension comes from the filename when recognised, otherwise from the
// content.
func OriginalPath(userID, productID, filename string, data []byte) string {
	return storage.VariantPath(userID, productID, domain.VariantOriginal, originalExt(filename, data))
}

func originalExt(filename string, data []byte) string {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".png", ".jpg", ".jpeg", ".webp":
		return ext
	}
	switch http.DetectContentType(data) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
