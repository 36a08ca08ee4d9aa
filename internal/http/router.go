package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"coral-lat/internal/handlers"
	"coral-lat/internal/maskfilter"
	"coral-lat/internal/service"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	ProjectService    service.ProjectService
	DefaultThresholds maskfilter.Thresholds
	DB                handlers.Pinger
	VectorStore       handlers.VectorPinger // nil when the image index is disabled
	ProjectDir        string                // checked for writability by /api/health
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(LoggerMiddleware)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(CORS)

	projectHandler := handlers.NewProjectHandler(deps.ProjectService, deps.DefaultThresholds)
	datasetHandler := handlers.NewDatasetHandler(deps.ProjectService)
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.VectorStore, deps.ProjectDir)
	overviewHandler := handlers.NewOverviewHandler(deps.ProjectService)

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/health", healthHandler)

		r.Route("/projects", func(r chi.Router) {
			r.Post("/", projectHandler.Start)
			r.Post("/cancel", projectHandler.Cancel)
			r.Get("/status", projectHandler.Status)
			r.Post("/load", projectHandler.Load)
			r.Post("/save", projectHandler.Save)
		})
		r.Get("/runs", projectHandler.Runs)

		r.Route("/data", func(r chi.Router) {
			r.Get("/", datasetHandler.Gallery)
			r.Get("/current", datasetHandler.Current)
			r.Post("/next", datasetHandler.Next)
			r.Post("/previous", datasetHandler.Previous)
			r.Get("/{id}", datasetHandler.Get)
			r.Put("/{id}", datasetHandler.Save)
			r.Get("/{id}/similar", datasetHandler.Similar)
		})
		r.Get("/categories/{id}/images", datasetHandler.ByCategory)
	})

	r.Method(http.MethodGet, "/", overviewHandler)

	return r
}
