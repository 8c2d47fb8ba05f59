package di

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"graphsync/application/ports"
	"graphsync/application/services"
	"graphsync/domain/core/aggregates"
	"graphsync/domain/schema"
	"graphsync/infrastructure/config"
	"graphsync/infrastructure/observability"
	"graphsync/infrastructure/viewport"
	"graphsync/interfaces/http/rest"
)

// Container holds every constructed component of the engine
type Container struct {
	Config        *config.Config
	Logger        *zap.Logger
	Registry      *schema.Registry
	PromRegistry  *prometheus.Registry
	Metrics       *observability.Metrics
	Store         ports.EventStore
	Graph         *aggregates.Graph
	Viewport      *viewport.Registry
	LimitsWatcher *config.LimitsWatcher
	Persistence   *services.PersistenceService
	Synthesizer   *services.Synthesizer
	Handler       http.Handler
}

// NewContainer builds and initializes the full dependency graph
func NewContainer(cfg *config.Config) (*Container, error) {
	logger, err := ProvideLogger(cfg)
	if err != nil {
		return nil, err
	}

	registry, err := ProvideSchemaRegistry()
	if err != nil {
		return nil, err
	}

	var promRegistry *prometheus.Registry
	var metrics *observability.Metrics
	if cfg.EnableMetrics {
		promRegistry = ProvidePromRegistry()
		metrics = ProvideMetrics(promRegistry)
	}

	store, err := ProvideEventStore(cfg, metrics, logger)
	if err != nil {
		return nil, err
	}

	limitsWatcher, err := ProvideLimitsWatcher(cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	graph := ProvideGraph()
	vp := ProvideViewport()
	persistence := ProvidePersistenceService(registry, metrics, logger, cfg)
	synthesizer := ProvideSynthesizer(registry, limitsWatcher, metrics, logger, cfg)

	if err := persistence.Initialize(store, graph); err != nil {
		limitsWatcher.Close()
		store.Close()
		return nil, err
	}
	if err := synthesizer.Initialize(store, graph); err != nil {
		persistence.Destroy()
		limitsWatcher.Close()
		store.Close()
		return nil, err
	}

	router := rest.NewRouter(cfg, persistence, synthesizer, vp, promRegistry, logger)

	return &Container{
		Config:        cfg,
		Logger:        logger,
		Registry:      registry,
		PromRegistry:  promRegistry,
		Metrics:       metrics,
		Store:         store,
		Graph:         graph,
		Viewport:      vp,
		LimitsWatcher: limitsWatcher,
		Persistence:   persistence,
		Synthesizer:   synthesizer,
		Handler:       router.Setup(),
	}, nil
}

// Shutdown tears the engine down in dependency order: pending synthesis
// passes are flushed before the services detach and the store closes.
func (c *Container) Shutdown(ctx context.Context) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := c.Synthesizer.FlushAll(); err != nil {
		c.Logger.Warn("failed to flush pending synthesis passes", zap.Error(err))
		record(err)
	}
	record(c.Synthesizer.Destroy())
	record(c.Persistence.Destroy())
	record(c.Store.Close())
	record(c.LimitsWatcher.Close())

	// Sync flushes buffered log entries; stderr sync errors are expected
	// on some platforms and not worth reporting
	_ = c.Logger.Sync()

	return firstErr
}
