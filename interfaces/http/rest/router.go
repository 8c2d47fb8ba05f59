package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"graphsync/application/services"
	"graphsync/infrastructure/config"
	"graphsync/infrastructure/viewport"
	"graphsync/interfaces/http/rest/handlers"
	"graphsync/interfaces/http/rest/middleware"
)

// Router creates and configures the HTTP router
type Router struct {
	cfg         *config.Config
	persistence *services.PersistenceService
	synthesizer *services.Synthesizer
	viewport    *viewport.Registry
	registry    *prometheus.Registry
	logger      *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(
	cfg *config.Config,
	persistence *services.PersistenceService,
	synthesizer *services.Synthesizer,
	vp *viewport.Registry,
	promRegistry *prometheus.Registry,
	logger *zap.Logger,
) *Router {
	return &Router{
		cfg:         cfg,
		persistence: persistence,
		synthesizer: synthesizer,
		viewport:    vp,
		registry:    promRegistry,
		logger:      logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))

	if rt.cfg.EnableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"http://localhost:*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	router.Get("/health", rt.healthCheck)
	if rt.cfg.EnableMetrics && rt.registry != nil {
		router.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
	}

	router.Route("/api/v1", func(r chi.Router) {
		noteHandler := handlers.NewNoteHandler(rt.synthesizer, rt.logger)
		r.Route("/notes", func(r chi.Router) {
			r.Put("/{noteID}", noteHandler.UpdateNote)
			r.Delete("/{noteID}", noteHandler.DeleteNote)
			r.Post("/{noteID}/flush", noteHandler.FlushNote)
		})

		graphHandler := handlers.NewGraphHandler(rt.persistence, rt.logger)
		r.Route("/graph", func(r chi.Router) {
			r.Get("/", graphHandler.GetGraph)
			r.Post("/save", graphHandler.SaveGraph)
			r.Post("/load", graphHandler.LoadGraph)
		})

		layoutHandler := handlers.NewLayoutHandler(rt.persistence, rt.viewport, rt.logger)
		r.Route("/layouts", func(r chi.Router) {
			r.Post("/", layoutHandler.SaveLayout)
			r.Get("/", layoutHandler.ListLayouts)
			r.Get("/default", layoutHandler.GetDefaultLayout)
			r.Get("/{layoutID}", layoutHandler.GetLayout)
		})

		r.Put("/viewport", layoutHandler.UpdateViewport)
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}
