package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"packshot/internal/http/handlers"
	"packshot/internal/infra"
	"packshot/internal/middleware"
)

func NewRouter(app *handlers.App) http.Handler {
	cfg := app.Config
	r := chi.NewRouter()

	r.Use(
		chimw.RealIP,
		chimw.Recoverer,
		middleware.RequestID,
		middleware.Logger(app.Logger),
		middleware.CORS(cfg.CORSOrigins),
		middleware.I18N(cfg.DefaultLocale, app.CountryLookup),
	)

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if cfg.StorageDriver == infra.StorageFilesystem && cfg.StoragePath != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StoragePath))))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", app.Health)
		r.Get("/openapi.json", app.OpenAPIJSON)
		r.Get("/docs", app.OpenAPIDocs)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))
			r.Use(middleware.AuthJWT(cfg.JWTSecret))

			r.Route("/jobs", func(r chi.Router) {
				r.Post("/", app.CreateJob)
				r.Get("/", app.ListJobs)
				r.Get("/{job_id}", app.GetJob)
				r.Get("/{job_id}/archive", app.JobArchive)
			})
			r.Get("/products/{product_id}/images", app.ProductImages)
			r.Post("/process", app.Process)
			r.Post("/segment", app.Segment)
			r.Post("/quality", app.Quality)
			r.Get("/worker/stats", app.WorkerStats)
		})
	})

	return r
}
