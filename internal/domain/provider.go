package domain

import (
	"context"

	"github.com/google/uuid"
)

// Provider health states as tracked by the unified store.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthDown     = "down"
)

// HealthStatus is the result of a provider health probe.
type HealthStatus struct {
	Status    string         `json:"status"`
	LatencyMS float64        `json:"latency_ms"`
	ItemCount int64          `json:"item_count"`
	Details   map[string]any `json:"details,omitempty"`
}

// ProviderStats carries provider-specific counters.
type ProviderStats map[string]any

// VectorProvider is the flat capability contract every backend implements.
// Similarity returned by Query is cosine, expressed as 1 - cos_distance and
// clamped to [0,1].
type VectorProvider interface {
	Name() string
	Store(ctx context.Context, m *Memory) error
	Query(ctx context.Context, embedding []float32, k int, filters QueryFilters) ([]MemoryWithScore, error)
	Get(ctx context.Context, id uuid.UUID) (*Memory, error)
	Delete(ctx context.Context, id uuid.UUID) error
	HealthCheck(ctx context.Context) (*HealthStatus, error)
	Stats(ctx context.Context) (ProviderStats, error)

	// SupportsRecent reports whether Recent is served natively. When false,
	// callers fall back to Query with a synthetic vector.
	SupportsRecent() bool
	// Recent returns the latest memories by created_at descending.
	Recent(ctx context.Context, k int, filters QueryFilters) ([]MemoryWithScore, error)
}

// Embedder produces the dense vector for a piece of text. External capability;
// the core treats it as opaque.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// EntityExtractor is the external batch extractor (the LLM) used by the graph
// bulk-ingest path.
type EntityExtractor interface {
	ExtractBatch(ctx context.Context, memories []Memory) ([]BatchExtraction, error)
}
