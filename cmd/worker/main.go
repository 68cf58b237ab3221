package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"packshot/internal/bootstrap"
	"packshot/internal/infra"
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
		logger.Fatal().Err(err).Msg("worker: failed to initialise services")
	}
	defer svc.Close()

	var metricsServer *infra.HTTPServer
	if cfg.WorkerMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		metricsServer = infra.NewHTTPServerAt(cfg.WorkerMetricsAddr, cfg, mux)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error().Err(err).Msg("worker: metrics listener failed")
			}
		}()
	}

	scheduler := svc.Scheduler(svc.Worker())
	scheduler.Start(ctx)
	logger.Info().
		Strs("providers", svc.Chain.Names()).
		Dur("poll_interval", cfg.WorkerPollInterval).
		Str("metrics_addr", cfg.WorkerMetricsAddr).
		Msg("worker started")

	<-ctx.Done()

	if !scheduler.Stop(cfg.WorkerStopTimeout) {
		logger.Warn().Msg("worker: exiting with a job still in flight")
	}
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	logger.Info().Msg("worker stopped")
}
