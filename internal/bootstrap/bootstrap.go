// Package bootstrap builds the shared collaborators of the api and worker
// binaries from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"packshot/internal/adapter/memory"
	"packshot/internal/adapter/repo"
	"packshot/internal/domain"
	"packshot/internal/infra"
	"packshot/internal/infra/credentials"
	"packshot/internal/infra/geoip"
	"packshot/internal/notify"
	"packshot/internal/pipeline"
	"packshot/internal/segmentation"
	"packshot/internal/storage"
	"packshot/internal/worker"
)

// Services holds everything a process needs to accept or run jobs.
type Services struct {
	Config   *infra.Config
	Logger   infra.Logger
	Pool     *pgxpool.Pool
	Jobs     domain.JobStore
	Images   domain.ImageRepository
	Objects  storage.ObjectStore
	Chain    *segmentation.Chain
	Stages   *pipeline.Stages
	Notifier notify.Notifier
	GeoIP    *geoip.Resolver
}

// New connects every backend named by cfg. On error, whatever was opened is
// closed again.
func New(ctx context.Context, cfg *infra.Config, logger infra.Logger) (s *Services, err error) {
	s = &Services{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			s.Close()
			s = nil
		}
	}()

	var tokens *credentials.Store
	switch cfg.JobStore {
	case infra.JobStorePostgres:
		s.Pool, err = infra.NewDBPool(ctx, cfg)
		if err != nil {
			return s, err
		}
		runner := infra.NewSQLRunner(s.Pool, logger)
		s.Jobs = repo.NewJobRepository(runner)
		s.Images = repo.NewImageRepository(runner)
		tokens = credentials.NewStore(runner)
	default:
		s.Jobs = memory.NewJobStore()
		s.Images = memory.NewImageStore()
	}

	s.Objects, err = NewObjectStore(ctx, cfg)
	if err != nil {
		return s, err
	}

	providers, err := Providers(ctx, cfg, tokens, logger)
	if err != nil {
		return s, err
	}
	s.Chain = segmentation.NewChain(&logger, providers...)
	s.Stages = pipeline.NewStages(s.Objects, s.Images, s.Chain, pipeline.Options{
		StageTimeout: cfg.StageTimeout,
		Logger:       &logger,
	})

	if cfg.RedisURL != "" {
		n, err := notify.NewRedis(ctx, cfg.RedisURL, cfg.RedisChannel, &logger)
		if err != nil {
			return s, err
		}
		s.Notifier = n
	} else {
		s.Notifier = notify.NewLocal()
	}

	s.GeoIP, err = geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		return s, err
	}
	return s, nil
}

// NewObjectStore opens the configured storage driver.
func NewObjectStore(ctx context.Context, cfg *infra.Config) (storage.ObjectStore, error) {
	switch cfg.StorageDriver {
	case infra.StorageMinIO:
		return storage.NewMinIOStore(ctx, storage.MinIOOptions{
			Endpoint:      cfg.MinIOEndpoint,
			AccessKey:     cfg.MinIOAccessKey,
			SecretKey:     cfg.MinIOSecretKey,
			UseSSL:        cfg.MinIOUseSSL,
			PublicBaseURL: cfg.StorageBaseURL,
		})
	case infra.StorageFilesystem, "":
		return storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// Providers builds the segmentation chain in the configured order. A
// provider that cannot be constructed is left out with a warning.
func Providers(ctx context.Context, cfg *infra.Config, tokens *credentials.Store, logger infra.Logger) ([]segmentation.Provider, error) {
	registry := map[string]segmentation.Provider{
		segmentation.ProviderRembg:     nil,
		segmentation.ProviderRemoveBG:  nil,
		segmentation.ProviderChromaKey: segmentation.NewChromaKey(cfg.ChromaKeyTolerance),
	}
	if cfg.RembgURL != "" {
		p, err := segmentation.NewRembg(segmentation.HTTPOptions{BaseURL: cfg.RembgURL, RequestTimeout: cfg.StageTimeout})
		if err != nil {
			return nil, err
		}
		registry[segmentation.ProviderRembg] = p
	}

	key, err := credentials.ResolveRemoveBGKey(ctx, cfg.RemoveBGAPIKey, tokens)
	if err != nil {
		logger.Warn().Err(err).Msg("remove.bg key lookup failed")
	}
	if p, err := segmentation.NewRemoveBG(segmentation.HTTPOptions{
		BaseURL:        cfg.RemoveBGURL,
		APIKey:         key,
		RequestTimeout: cfg.StageTimeout,
	}); err == nil {
		registry[segmentation.ProviderRemoveBG] = p
	} else if !errors.Is(err, segmentation.ErrMissingAPIKey) {
		return nil, err
	}

	providers, skipped, err := segmentation.Build(cfg.SegmentationProviders, registry)
	if err != nil {
		return nil, err
	}
	if len(skipped) > 0 {
		logger.Warn().Strs("skipped", skipped).Msg("segmentation providers unavailable")
	}
	return providers, nil
}

// Worker returns a job worker over the shared stages.
func (s *Services) Worker() *worker.Worker {
	return worker.New(s.Jobs, s.Stages, worker.Options{
		Backoff: worker.NewBackoff(s.Config.RetryBackoff...),
		Logger:  &s.Logger,
	})
}

// Scheduler returns a scheduler that wakes on enqueue notifications.
func (s *Services) Scheduler(w *worker.Worker) *worker.Scheduler {
	return worker.NewScheduler(s.Jobs, w, worker.SchedulerOptions{
		PollInterval: s.Config.WorkerPollInterval,
		Wake:         s.Notifier.Wake,
		Logger:       &s.Logger,
	})
}

// Close releases every backend. It is safe on a partially built value.
func (s *Services) Close() {
	if s == nil {
		return
	}
	if s.Notifier != nil {
		if err := s.Notifier.Close(); err != nil {
			s.Logger.Warn().Err(err).Msg("close notifier")
		}
	}
	if s.GeoIP != nil {
		_ = s.GeoIP.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}
