package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new HTTP router with configured routes, middleware, and handlers.
// It sets up transfer routes, health check, and Prometheus metrics endpoint.
// Download and upload routes are only mounted when worker is not nil.
func NewRouter(service TransferServiceI, worker TransferWorkerI, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	handler := NewTransferHandler(service, worker, logger)

	r.Route("/transfers", func(r chi.Router) {
		r.Get("/", handler.ListTransfers)
		r.Get("/counts", handler.Counts)
		r.Get("/events", handler.Events)
		r.Get("/active/{type}", handler.ActiveTransfer)

		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", handler.GetTransfer)
			r.Put("/", handler.BeginTransfer)
			r.Delete("/", handler.RemoveTransfer)
			r.Post("/progress", handler.ReportProgress)
			r.Post("/start", handler.StartTransfer)
			r.Post("/finish", handler.FinishTransfer)
			r.Post("/fail", handler.FailTransfer)
		})
	})

	if worker != nil {
		r.Post("/downloads", handler.StartDownload)
		r.Post("/uploads", handler.StartUpload)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
