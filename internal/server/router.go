package server

import (
	"net/http"

	"github.com/cloo-solutions/recall/internal/api"
	"github.com/cloo-solutions/recall/internal/api/handlers"
	"github.com/cloo-solutions/recall/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	defaultMaxBodyBytes   int64 = 5 * 1024 * 1024
	defaultMaxUploadBytes int64 = 50 * 1024 * 1024
)

type RouterConfig struct {
	AuthValidator    middleware.AuthValidator
	RetrievalHandler *handlers.RetrievalHandler
	JobHandler       *handlers.JobHandler
	Logger           *zap.Logger
	MaxBodyBytes     int64
	MaxUploadBytes   int64
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog(cfg.Logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.AuthValidator))

		r.Group(func(r chi.Router) {
			r.Use(middleware.MaxBodyBytes(maxBody))

			r.Post("/ingest", cfg.RetrievalHandler.Ingest)
			r.Post("/retrieve", cfg.RetrievalHandler.Retrieve)
			r.Delete("/sources/{type}/{id}", cfg.RetrievalHandler.RemoveSource)

			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", cfg.JobHandler.List)
				r.Get("/{id}", cfg.JobHandler.Get)
			})
		})

		r.With(middleware.MaxBodyBytes(maxUpload)).Post("/files", cfg.JobHandler.UploadFile)
	})

	return r
}
