package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"packshot/internal/domain"
	"packshot/internal/storage"
)

// Input is one synchronous processing request.
type Input struct {
	UserID    string
	ProductID string
	Filename  string
	Image     []byte
}

type stored struct {
	bucket, path string
}

// Runner processes one image end to end within the caller's request. Each
// run writes timestamped objects, so earlier runs for the same product are
// kept. On failure the objects written by the run are removed again.
type Runner struct {
	stages *Stages
	now    func() time.Time
}

func NewRunner(stages *Stages) *Runner {
	return &Runner{stages: stages, now: time.Now}
}

// Run never returns an error; failures are reported in the result.
func (r *Runner) Run(ctx context.Context, in Input) domain.PipelineResult {
	result := domain.PipelineResult{ProductID: in.ProductID, Images: map[string]domain.ImageRef{}}
	if strings.TrimSpace(in.ProductID) == "" || len(in.Image) == 0 {
		result.Error = fmt.Sprintf("%v: product_id and image are required", domain.ErrInvalidInput)
		return result
	}

	var written []stored
	err := r.run(ctx, in, &result, &written)
	if err != nil {
		r.rollback(ctx, written)
		result.Images = map[string]domain.ImageRef{}
		result.QualityReport = nil
		result.Error = err.Error()
		r.stages.logger.Warn().Err(err).Str("product_id", in.ProductID).Int("rolled_back", len(written)).Msg("pipeline run failed")
		return result
	}
	result.Success = true
	return result
}

func (r *Runner) run(ctx context.Context, in Input, result *domain.PipelineResult, written *[]stored) error {
	s := r.stages
	prefix := r.prefix(in)

	save := func(variant, bucket, ext string, data []byte) (domain.ImageRef, error) {
		path := prefix + variant + ext
		ref, err := s.SaveVariant(ctx, bucket, path, data)
		if err != nil {
			return ref, err
		}
		*written = append(*written, stored{bucket: bucket, path: path})
		return ref, nil
	}

	original, err := save(domain.VariantOriginal, storage.BucketRaw, originalExt(in.Filename, in.Image), in.Image)
	if err != nil {
		return err
	}

	cutout, provider, err := s.Segment(ctx, in.Image)
	if err != nil {
		return err
	}
	result.Provider = provider
	segmented, err := save(domain.VariantSegmented, storage.BucketSegmented, ".png", cutout)
	if err != nil {
		return err
	}

	composed, err := s.Compose(ctx, cutout)
	if err != nil {
		return err
	}
	processed, err := save(domain.VariantProcessed, storage.BucketProcessed, ".png", composed)
	if err != nil {
		return err
	}

	report, err := s.Validate(ctx, composed)
	if err != nil {
		return err
	}
	result.QualityReport = &report
	score := report.Score
	processed.QualityScore = &score

	s.Register(ctx, &original, in.ProductID, in.UserID, domain.VariantOriginal)
	s.Register(ctx, &segmented, in.ProductID, in.UserID, domain.VariantSegmented)
	s.Register(ctx, &processed, in.ProductID, in.UserID, domain.VariantProcessed)

	result.Images[domain.VariantOriginal] = original
	result.Images[domain.VariantSegmented] = segmented
	result.Images[domain.VariantProcessed] = processed
	return nil
}

func (r *Runner) prefix(in Input) string {
	ts := r.now().UTC().Format("20060102_150405")
	user := in.UserID
	if user == "" {
		user = "anonymous"
	}
	return user + "/" + in.ProductID + "/" + ts + "_"
}

// rollback removes objects in reverse order of creation. It runs on a
// detached context so a cancelled request still cleans up.
func (r *Runner) rollback(ctx context.Context, written []stored) {
	ctx = context.WithoutCancel(ctx)
	for i := len(written) - 1; i >= 0; i-- {
		w := written[i]
		if err := r.stages.store.Remove(ctx, w.bucket, w.path); err != nil {
			r.stages.logger.Warn().Err(err).Str("bucket", w.bucket).Str("path", w.path).Msg("rollback remove failed")
		}
	}
}
