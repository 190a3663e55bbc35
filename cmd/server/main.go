package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/adm"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/api"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/config"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/domain"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/embedding"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/extraction"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/graph"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/provider"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/vectorstore"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	if err := config.Load(); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	dbURL := config.DatabaseURL()
	if dbURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}

	ctx := context.Background()

	poolCfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		logger.Fatal("invalid DATABASE_URL", zap.Error(err))
	}
	poolCfg.MaxConns = int32(config.PoolMaxConns())

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("failed to ping database", zap.Error(err))
	}
	logger.Info("connected to database")

	dim := config.EmbeddingDim()

	primary := provider.NewPgVectorProvider(pool, dim, config.IndexLists(), config.MaintenanceWorkMem(), logger)
	if err := primary.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to ensure schema", zap.Error(err))
	}

	mirrors := buildMirrors(logger)

	embedder, err := embedding.NewClient(config.EmbeddingProvider(), config.OpenAIAPIKey(), dim)
	if err != nil {
		logger.Fatal("embedding client initialization failed", zap.Error(err))
	}
	logger.Info("embedding client initialized", zap.String("provider", config.EmbeddingProvider()))

	wq, wr, wi := config.ADMWeights()
	scorer := adm.NewScorer(adm.Weights{Quality: wq, Relevance: wr, Intelligence: wi}, config.MinQuality())

	var batchExtractor domain.EntityExtractor
	if key := config.OpenAIAPIKey(); key != "" {
		batchExtractor = extraction.NewOpenAIExtractor(key)
	}
	graphProvider := graph.NewProvider(graph.Config{
		Enabled:     config.GraphEnabled(),
		DatabaseURL: dbURL,
		MaxConns:    int32(config.GraphPoolMaxConns()),
		Window:      config.RelationWindow(),
		MinStrength: config.MinStrength(),
	}, scorer, batchExtractor, logger)
	defer graphProvider.Close()
	logger.Info("graph provider configured", zap.Bool("enabled", graphProvider.Enabled()))

	store := vectorstore.NewUnifiedStore(primary, mirrors, embedder, scorer, graphProvider, logger, vectorstore.Options{
		Dim:                   dim,
		QueryMultiplier:       config.QueryMultiplier(),
		MirrorOnWrite:         config.MirrorOnWrite(),
		ReadStrategy:          config.ReadStrategy(),
		PendingWriteHighWater: int64(config.PendingWriteHighWater()),
		BackgroundTimeout:     config.BackgroundTimeout(),
		ProbeInterval:         config.HealthProbeInterval(),
	})
	store.Start()

	app := api.NewApp(store, graphProvider, logger)

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:    addr,
		Handler: app.Router,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	// Drain detached mirror and graph writes before exit.
	if err := store.Stop(shutdownCtx); err != nil {
		logger.Warn("background writes not fully drained", zap.Error(err))
	}

	logger.Info("server stopped")
}

// buildMirrors assembles the configured secondary providers in failover
// order, each behind a circuit breaker.
func buildMirrors(logger *zap.Logger) []domain.VectorProvider {
	var mirrors []domain.VectorProvider
	for _, name := range config.MirrorProviders() {
		switch name {
		case "chroma":
			if config.ChromaURL() == "" {
				logger.Warn("chroma mirror configured without CHROMA_URL, skipping")
				continue
			}
			chroma := provider.NewChromaProvider(config.ChromaURL(), config.ChromaCollection())
			mirrors = append(mirrors, provider.WithBreaker(chroma, logger))
		case "pinecone":
			if config.PineconeHost() == "" || config.PineconeAPIKey() == "" {
				logger.Warn("pinecone mirror configured without host or key, skipping")
				continue
			}
			pinecone := provider.NewPineconeProvider(config.PineconeHost(), config.PineconeAPIKey())
			mirrors = append(mirrors, provider.WithBreaker(pinecone, logger))
		default:
			logger.Warn("unknown mirror provider, skipping", zap.String("provider", name))
		}
	}
	return mirrors
}
