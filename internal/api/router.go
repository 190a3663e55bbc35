// Package api wires the HTTP surface: routing, middleware, and handlers over
// the memory service.
package api

import (
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/api/handlers"
	mw "github.com/Von-Base-Enterprises/core-nexus-sub001/internal/api/middleware"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/config"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/domain"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/embedding"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/extraction"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/graph"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/metrics"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/provider"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/service"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/vectorstore"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// App holds the router and the unified store for lifecycle management.
type App struct {
	Router *chi.Mux
	Store  *vectorstore.UnifiedStore
}

func NewApp(store *vectorstore.UnifiedStore, graphProvider *graph.Provider, logger *zap.Logger) *App {
	svc := service.NewMemoryService(store, graphProvider, logger,
		config.WriteTimeout(), config.ReadTimeout())

	memoryHandler := handlers.NewMemoryHandler(svc, config.MaxContentBytes())
	graphHandler := handlers.NewGraphHandler(svc)
	providerHandler := handlers.NewProviderHandler(svc, store.PrimaryName())

	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	r.Get("/health", providerHandler.Health)
	r.Get("/providers", providerHandler.Providers)
	r.Method("GET", "/metrics", metrics.Handler())

	r.Route("/memories", func(r chi.Router) {
		r.Post("/", memoryHandler.Create)
		r.Post("/batch", memoryHandler.CreateBatch)
		r.Post("/query", memoryHandler.Query)
		r.Get("/{id}", memoryHandler.GetByID)
		r.Delete("/{id}", memoryHandler.Delete)
	})

	r.Route("/graph", func(r chi.Router) {
		r.Get("/stats", graphHandler.Stats)
		r.Post("/query", graphHandler.Query)
		r.Get("/explore/{name}", graphHandler.Explore)
		r.Get("/insights/{memory_id}", graphHandler.Insights)
		r.Post("/sync/{memory_id}", graphHandler.Sync)
	})

	return &App{Router: r, Store: store}
}

// Ensure providers and clients satisfy interfaces at compile time.
var (
	_ domain.VectorProvider     = (*provider.PgVectorProvider)(nil)
	_ domain.VectorProvider     = (*provider.ChromaProvider)(nil)
	_ domain.VectorProvider     = (*provider.PineconeProvider)(nil)
	_ domain.VectorProvider     = (*provider.BreakerProvider)(nil)
	_ domain.Embedder           = (*embedding.OpenAIClient)(nil)
	_ domain.Embedder           = (*embedding.MockClient)(nil)
	_ domain.EntityExtractor    = (*extraction.OpenAIExtractor)(nil)
	_ domain.EntityExtractor    = (*extraction.MockExtractor)(nil)
	_ vectorstore.GraphSink     = (*graph.Provider)(nil)
	_ vectorstore.AccessToucher = (*provider.PgVectorProvider)(nil)
)
