package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"packshot/internal/bootstrap"
	"packshot/internal/http/handlers"
	httpapi "packshot/internal/http/httpapi"
	"packshot/internal/infra"
	"packshot/internal/pipeline"
	"packshot/internal/quality"
	"packshot/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise services")
	}
	defer svc.Close()

	app := &handlers.App{
		Config:    cfg,
		Logger:    logger,
		Jobs:      svc.Jobs,
		Images:    svc.Images,
		Stages:    svc.Stages,
		Runner:    pipeline.NewRunner(svc.Stages),
		Validator: quality.New(),
		Notifier:  svc.Notifier,
	}
	if lookup := svc.GeoIP.Lookup(); lookup != nil {
		app.CountryLookup = lookup
	}

	var scheduler *worker.Scheduler
	if cfg.WorkerEmbedded || cfg.JobStore == infra.JobStoreMemory {
		scheduler = svc.Scheduler(svc.Worker())
		scheduler.Start(ctx)
		app.Scheduler = scheduler
	}

	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app))
	go func() {
		logger.Info().Str("addr", server.Addr()).Strs("providers", svc.Chain.Names()).Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if scheduler != nil {
		scheduler.Stop(cfg.WorkerStopTimeout)
	}
	logger.Info().Msg("server stopped")
}
