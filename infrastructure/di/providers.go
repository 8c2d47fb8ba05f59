// Package di wires the engine together. Construction is explicit provider
// functions composed by the container; no code generation involved.
package di

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"graphsync/application/ports"
	"graphsync/application/services"
	"graphsync/domain/core/aggregates"
	"graphsync/domain/schema"
	domainservices "graphsync/domain/services"
	"graphsync/infrastructure/config"
	"graphsync/infrastructure/observability"
	"graphsync/infrastructure/persistence/badgerstore"
	"graphsync/infrastructure/persistence/memory"
	"graphsync/infrastructure/persistence/resilience"
	"graphsync/infrastructure/viewport"
)

// ProvideLogger builds the root logger for the configured environment
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// ProvideSchemaRegistry builds the registry with every engine schema
func ProvideSchemaRegistry() (*schema.Registry, error) {
	return schema.NewEngineRegistry()
}

// ProvidePromRegistry builds a Prometheus registry with the standard
// process and Go collectors
func ProvidePromRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// ProvideMetrics registers the engine collectors
func ProvideMetrics(registry *prometheus.Registry) *observability.Metrics {
	return observability.NewMetrics(registry)
}

// ProvideEventStore opens the configured store: Badger when a path is set,
// in-memory otherwise. The store is wrapped with a circuit breaker and,
// when metrics are enabled, append counters.
func ProvideEventStore(cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) (ports.EventStore, error) {
	var store ports.EventStore
	if cfg.StorePath != "" {
		badgerStore, err := badgerstore.Open(cfg.StorePath, logger)
		if err != nil {
			return nil, err
		}
		store = badgerStore
	} else {
		store = memory.NewEventStore(logger)
	}

	store = resilience.NewBreakerStore(store, logger)
	if cfg.EnableMetrics && metrics != nil {
		store = observability.NewInstrumentedStore(store, metrics)
	}
	return store, nil
}

// ProvideLimitsWatcher serves synthesis limits, live-reloaded from the
// configured file
func ProvideLimitsWatcher(cfg *config.Config, logger *zap.Logger) (*config.LimitsWatcher, error) {
	return config.NewLimitsWatcher(cfg.LimitsPath, logger)
}

// ProvidePersistenceService builds the persistence service
func ProvidePersistenceService(
	registry *schema.Registry,
	metrics *observability.Metrics,
	logger *zap.Logger,
	cfg *config.Config,
) *services.PersistenceService {
	persistence := services.NewPersistenceService(registry, logger.Named("persistence"), cfg.StoreID)
	if metrics != nil {
		persistence.OnEventSkipped(metrics.EventSkipped)
	}
	return persistence
}

// ProvideSynthesizer builds the structure synthesizer
func ProvideSynthesizer(
	registry *schema.Registry,
	limitsWatcher *config.LimitsWatcher,
	metrics *observability.Metrics,
	logger *zap.Logger,
	cfg *config.Config,
) *services.Synthesizer {
	var observer services.PassObserver
	if metrics != nil {
		observer = metrics
	}
	return services.NewSynthesizer(
		registry,
		domainservices.NewDefaultMentionExtractor(),
		limitsWatcher.Limits,
		observer,
		logger.Named("synthesizer"),
		cfg.StoreID,
	)
}

// ProvideGraph builds the empty graph aggregate
func ProvideGraph() *aggregates.Graph {
	return aggregates.NewGraph()
}

// ProvideViewport builds the viewport position registry
func ProvideViewport() *viewport.Registry {
	return viewport.NewRegistry()
}
