// Package service exposes the memory API the HTTP layer calls: the unified
// vector store and the graph provider behind request-scoped deadlines.
package service

import (
	"context"
	"time"

	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/domain"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/graph"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/vectorstore"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type MemoryService struct {
	store        *vectorstore.UnifiedStore
	graph        *graph.Provider
	logger       *zap.Logger
	writeTimeout time.Duration
	readTimeout  time.Duration
}

func NewMemoryService(store *vectorstore.UnifiedStore, graphProvider *graph.Provider, logger *zap.Logger, writeTimeout, readTimeout time.Duration) *MemoryService {
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	return &MemoryService{
		store:        store,
		graph:        graphProvider,
		logger:       logger,
		writeTimeout: writeTimeout,
		readTimeout:  readTimeout,
	}
}

func (s *MemoryService) CreateMemory(ctx context.Context, req vectorstore.AddRequest) (*domain.Memory, error) {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return s.store.Add(ctx, req)
}

// BatchItemResult is one outcome of a batch create; items fail independently.
type BatchItemResult struct {
	Memory *domain.Memory
	Err    error
}

func (s *MemoryService) CreateMemories(ctx context.Context, reqs []vectorstore.AddRequest) []BatchItemResult {
	out := make([]BatchItemResult, len(reqs))
	for i, req := range reqs {
		m, err := s.CreateMemory(ctx, req)
		out[i] = BatchItemResult{Memory: m, Err: err}
	}
	return out
}

func (s *MemoryService) QueryMemories(ctx context.Context, req vectorstore.QueryRequest) (*vectorstore.QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()
	return s.store.Query(ctx, req)
}

func (s *MemoryService) GetMemory(ctx context.Context, id uuid.UUID) (*domain.Memory, error) {
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()
	return s.store.Get(ctx, id)
}

func (s *MemoryService) DeleteMemory(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return s.store.Delete(ctx, id)
}

func (s *MemoryService) Health(ctx context.Context) map[string]*domain.HealthStatus {
	return s.store.Health(ctx)
}

// ProviderInfo describes one configured backend for the providers endpoint.
type ProviderInfo struct {
	Name           string               `json:"name"`
	Primary        bool                 `json:"primary"`
	SupportsRecent bool                 `json:"supports_recent"`
	Stats          domain.ProviderStats `json:"stats,omitempty"`
}

func (s *MemoryService) Providers(ctx context.Context) []ProviderInfo {
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	stats := s.store.Stats(ctx)
	providers := s.store.Providers()
	out := make([]ProviderInfo, 0, len(providers))
	for _, p := range providers {
		out = append(out, ProviderInfo{
			Name:           p.Name(),
			Primary:        p.Name() == s.store.PrimaryName(),
			SupportsRecent: p.SupportsRecent(),
			Stats:          stats[p.Name()],
		})
	}
	return out
}

// GraphEnabled reports whether graph operations are live.
func (s *MemoryService) GraphEnabled() bool {
	return s.graph != nil && s.graph.Enabled()
}

func (s *MemoryService) GraphStats(ctx context.Context) (*domain.GraphStats, error) {
	if s.graph == nil {
		return nil, domain.ErrGraphDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()
	return s.graph.Stats(ctx)
}

func (s *MemoryService) GraphExplore(ctx context.Context, entityName string, maxDepth, maxNodes int) (*domain.Subgraph, error) {
	if s.graph == nil {
		return nil, domain.ErrGraphDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()
	return s.graph.Explore(ctx, entityName, maxDepth, maxNodes)
}

func (s *MemoryService) GraphPath(ctx context.Context, from, to string, maxDepth int) (*domain.GraphPath, error) {
	if s.graph == nil {
		return nil, domain.ErrGraphDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()
	return s.graph.Path(ctx, from, to, maxDepth)
}

func (s *MemoryService) GraphInsights(ctx context.Context, memoryID uuid.UUID) (*domain.MemoryInsights, error) {
	if s.graph == nil {
		return nil, domain.ErrGraphDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()
	return s.graph.Insights(ctx, memoryID)
}

// SyncMemoryGraph re-runs entity extraction for one stored memory.
func (s *MemoryService) SyncMemoryGraph(ctx context.Context, memoryID uuid.UUID) error {
	if !s.GraphEnabled() {
		return domain.ErrGraphDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	m, err := s.store.Get(ctx, memoryID)
	if err != nil {
		return err
	}
	return s.graph.SyncMemory(ctx, m)
}
