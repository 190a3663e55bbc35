package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/domain"
	"github.com/google/uuid"
)

// ChromaProvider mirrors memories into a Chroma collection over its REST API.
// It is a secondary backend: writes are best-effort and reads only happen on
// primary failover.
type ChromaProvider struct {
	baseURL    string
	collection string
	httpClient *http.Client

	mu           sync.Mutex
	collectionID string
}

func NewChromaProvider(baseURL, collection string) *ChromaProvider {
	return &ChromaProvider{
		baseURL:    baseURL,
		collection: collection,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *ChromaProvider) Name() string { return "chroma" }

func (c *ChromaProvider) SupportsRecent() bool { return false }

func (c *ChromaProvider) Recent(ctx context.Context, k int, filters domain.QueryFilters) ([]domain.MemoryWithScore, error) {
	return nil, fmt.Errorf("%w: chroma has no recency ordering", domain.ErrBackendUnavailable)
}

// ensureCollection resolves (or creates) the collection ID once per process.
func (c *ChromaProvider) ensureCollection(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.collectionID != "" {
		return c.collectionID, nil
	}

	var resp struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/collections", map[string]any{
		"name":          c.collection,
		"get_or_create": true,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("ensure collection: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: chroma returned empty collection id", domain.ErrBackendUnavailable)
	}
	c.collectionID = resp.ID
	return c.collectionID, nil
}

func (c *ChromaProvider) Store(ctx context.Context, m *domain.Memory) error {
	coll, err := c.ensureCollection(ctx)
	if err != nil {
		return err
	}

	meta := flattenMetadata(m)
	err = c.do(ctx, http.MethodPost, "/api/v1/collections/"+coll+"/upsert", map[string]any{
		"ids":        []string{m.ID.String()},
		"embeddings": [][]float32{m.Embedding},
		"documents":  []string{m.Content},
		"metadatas":  []map[string]any{meta},
	}, nil)
	if err != nil {
		return fmt.Errorf("chroma store: %w", err)
	}
	return nil
}

func (c *ChromaProvider) Query(ctx context.Context, embedding []float32, k int, filters domain.QueryFilters) ([]domain.MemoryWithScore, error) {
	coll, err := c.ensureCollection(ctx)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 10
	}

	body := map[string]any{
		"query_embeddings": [][]float32{embedding},
		"n_results":        k,
		"include":          []string{"documents", "metadatas", "distances"},
	}
	if where := chromaWhere(filters); where != nil {
		body["where"] = where
	}

	var resp struct {
		IDs       [][]string         `json:"ids"`
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Distances [][]float32        `json:"distances"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/collections/"+coll+"/query", body, &resp); err != nil {
		return nil, fmt.Errorf("chroma query: %w", err)
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}

	results := make([]domain.MemoryWithScore, 0, len(resp.IDs[0]))
	for i, rawID := range resp.IDs[0] {
		id, err := uuid.Parse(rawID)
		if err != nil {
			continue
		}
		ms := domain.MemoryWithScore{}
		ms.ID = id
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) {
			ms.Content = resp.Documents[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			unflattenMetadata(resp.Metadatas[0][i], &ms.Memory)
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			ms.Similarity = clampSimilarity(1 - resp.Distances[0][i])
		}
		results = append(results, ms)
	}
	return results, nil
}

func (c *ChromaProvider) Get(ctx context.Context, id uuid.UUID) (*domain.Memory, error) {
	coll, err := c.ensureCollection(ctx)
	if err != nil {
		return nil, err
	}

	var resp struct {
		IDs       []string         `json:"ids"`
		Documents []string         `json:"documents"`
		Metadatas []map[string]any `json:"metadatas"`
	}
	err = c.do(ctx, http.MethodPost, "/api/v1/collections/"+coll+"/get", map[string]any{
		"ids":     []string{id.String()},
		"include": []string{"documents", "metadatas"},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("chroma get: %w", err)
	}
	if len(resp.IDs) == 0 {
		return nil, domain.ErrNotFound
	}

	m := &domain.Memory{ID: id}
	if len(resp.Documents) > 0 {
		m.Content = resp.Documents[0]
	}
	if len(resp.Metadatas) > 0 {
		unflattenMetadata(resp.Metadatas[0], m)
	}
	return m, nil
}

func (c *ChromaProvider) Delete(ctx context.Context, id uuid.UUID) error {
	coll, err := c.ensureCollection(ctx)
	if err != nil {
		return err
	}
	err = c.do(ctx, http.MethodPost, "/api/v1/collections/"+coll+"/delete", map[string]any{
		"ids": []string{id.String()},
	}, nil)
	if err != nil {
		return fmt.Errorf("chroma delete: %w", err)
	}
	return nil
}

func (c *ChromaProvider) HealthCheck(ctx context.Context) (*domain.HealthStatus, error) {
	start := time.Now()
	if err := c.do(ctx, http.MethodGet, "/api/v1/heartbeat", nil, nil); err != nil {
		return &domain.HealthStatus{
			Status:    domain.HealthDown,
			LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
			Details:   map[string]any{"error": err.Error()},
		}, nil
	}

	status := &domain.HealthStatus{
		Status:    domain.HealthHealthy,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if coll, err := c.ensureCollection(ctx); err == nil {
		var count int64
		if err := c.do(ctx, http.MethodGet, "/api/v1/collections/"+coll+"/count", nil, &count); err == nil {
			status.ItemCount = count
		}
	}
	return status, nil
}

func (c *ChromaProvider) Stats(ctx context.Context) (domain.ProviderStats, error) {
	health, err := c.HealthCheck(ctx)
	if err != nil {
		return nil, err
	}
	return domain.ProviderStats{
		"memory_count": health.ItemCount,
		"collection":   c.collection,
		"status":       string(health.Status),
	}, nil
}

func (c *ChromaProvider) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal chroma request: %w", err)
		}
		reader = bytes.NewReader(blob)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create chroma request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: chroma request failed: %v", domain.ErrBackendUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read chroma response: %v", domain.ErrBackendUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: chroma returned status %d: %s", domain.ErrBackendUnavailable, resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal chroma response: %w", err)
		}
	}
	return nil
}

// chromaWhere translates the scoping filters to a Chroma where clause.
// Metadata equality only; richer predicates are post-filtered upstream.
func chromaWhere(filters domain.QueryFilters) map[string]any {
	clauses := make([]map[string]any, 0, 2+len(filters.Metadata))
	if filters.UserID != "" {
		clauses = append(clauses, map[string]any{"user_id": filters.UserID})
	}
	if filters.ConversationID != "" {
		clauses = append(clauses, map[string]any{"conversation_id": filters.ConversationID})
	}
	for k, v := range filters.Metadata {
		switch v.(type) {
		case string, float64, int, bool:
			clauses = append(clauses, map[string]any{k: v})
		}
	}
	switch len(clauses) {
	case 0:
		return nil
	case 1:
		return clauses[0]
	default:
		return map[string]any{"$and": clauses}
	}
}

// flattenMetadata encodes memory fields into the scalar-only metadata shape
// secondary stores accept. Non-scalar user metadata rides along as JSON.
func flattenMetadata(m *domain.Memory) map[string]any {
	meta := map[string]any{
		"importance_score": m.ImportanceScore,
		"created_at":       m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if m.UserID != "" {
		meta["user_id"] = m.UserID
	}
	if m.ConversationID != "" {
		meta["conversation_id"] = m.ConversationID
	}
	for k, v := range m.Metadata {
		switch v.(type) {
		case string, float64, int, int64, bool:
			meta[k] = v
		default:
			if blob, err := json.Marshal(v); err == nil {
				meta[k+"__json"] = string(blob)
			}
		}
	}
	return meta
}

// unflattenMetadata is the inverse of flattenMetadata.
func unflattenMetadata(meta map[string]any, m *domain.Memory) {
	m.Metadata = make(map[string]any)
	for k, v := range meta {
		switch k {
		case "importance_score":
			if f, ok := v.(float64); ok {
				m.ImportanceScore = f
			}
		case "created_at":
			if s, ok := v.(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
					m.CreatedAt = t
				}
			}
		case "user_id":
			if s, ok := v.(string); ok {
				m.UserID = s
			}
		case "conversation_id":
			if s, ok := v.(string); ok {
				m.ConversationID = s
			}
		default:
			if s, ok := v.(string); ok && len(k) > 6 && k[len(k)-6:] == "__json" {
				var decoded any
				if err := json.Unmarshal([]byte(s), &decoded); err == nil {
					m.Metadata[k[:len(k)-6]] = decoded
					continue
				}
			}
			m.Metadata[k] = v
		}
	}
}
