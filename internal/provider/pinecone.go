package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/domain"
	"github.com/google/uuid"
)

// PineconeProvider mirrors memories into a Pinecone index over its data-plane
// API. Like Chroma it is a secondary: writes fail soft and reads serve only
// as a failover path.
type PineconeProvider struct {
	host       string
	apiKey     string
	httpClient *http.Client
}

func NewPineconeProvider(host, apiKey string) *PineconeProvider {
	return &PineconeProvider{
		host:       host,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *PineconeProvider) Name() string { return "pinecone" }

func (p *PineconeProvider) SupportsRecent() bool { return false }

func (p *PineconeProvider) Recent(ctx context.Context, k int, filters domain.QueryFilters) ([]domain.MemoryWithScore, error) {
	return nil, fmt.Errorf("%w: pinecone has no recency ordering", domain.ErrBackendUnavailable)
}

func (p *PineconeProvider) Store(ctx context.Context, m *domain.Memory) error {
	meta := flattenMetadata(m)
	meta["content"] = m.Content

	err := p.do(ctx, http.MethodPost, "/vectors/upsert", map[string]any{
		"vectors": []map[string]any{{
			"id":       m.ID.String(),
			"values":   m.Embedding,
			"metadata": meta,
		}},
	}, nil)
	if err != nil {
		return fmt.Errorf("pinecone store: %w", err)
	}
	return nil
}

func (p *PineconeProvider) Query(ctx context.Context, embedding []float32, k int, filters domain.QueryFilters) ([]domain.MemoryWithScore, error) {
	if k <= 0 {
		k = 10
	}

	body := map[string]any{
		"vector":          embedding,
		"topK":            k,
		"includeMetadata": true,
	}
	if filter := pineconeFilter(filters); filter != nil {
		body["filter"] = filter
	}

	var resp struct {
		Matches []struct {
			ID       string         `json:"id"`
			Score    float32        `json:"score"`
			Metadata map[string]any `json:"metadata"`
		} `json:"matches"`
	}
	if err := p.do(ctx, http.MethodPost, "/query", body, &resp); err != nil {
		return nil, fmt.Errorf("pinecone query: %w", err)
	}

	results := make([]domain.MemoryWithScore, 0, len(resp.Matches))
	for _, match := range resp.Matches {
		id, err := uuid.Parse(match.ID)
		if err != nil {
			continue
		}
		ms := domain.MemoryWithScore{Similarity: clampSimilarity(match.Score)}
		ms.ID = id
		if c, ok := match.Metadata["content"].(string); ok {
			ms.Content = c
			delete(match.Metadata, "content")
		}
		unflattenMetadata(match.Metadata, &ms.Memory)
		results = append(results, ms)
	}
	return results, nil
}

func (p *PineconeProvider) Get(ctx context.Context, id uuid.UUID) (*domain.Memory, error) {
	var resp struct {
		Vectors map[string]struct {
			ID       string         `json:"id"`
			Metadata map[string]any `json:"metadata"`
		} `json:"vectors"`
	}
	path := "/vectors/fetch?ids=" + url.QueryEscape(id.String())
	if err := p.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("pinecone get: %w", err)
	}

	vec, ok := resp.Vectors[id.String()]
	if !ok {
		return nil, domain.ErrNotFound
	}

	m := &domain.Memory{ID: id}
	if c, ok := vec.Metadata["content"].(string); ok {
		m.Content = c
		delete(vec.Metadata, "content")
	}
	unflattenMetadata(vec.Metadata, m)
	return m, nil
}

func (p *PineconeProvider) Delete(ctx context.Context, id uuid.UUID) error {
	err := p.do(ctx, http.MethodPost, "/vectors/delete", map[string]any{
		"ids": []string{id.String()},
	}, nil)
	if err != nil {
		return fmt.Errorf("pinecone delete: %w", err)
	}
	return nil
}

func (p *PineconeProvider) HealthCheck(ctx context.Context) (*domain.HealthStatus, error) {
	start := time.Now()
	var resp struct {
		TotalVectorCount int64 `json:"totalVectorCount"`
	}
	if err := p.do(ctx, http.MethodPost, "/describe_index_stats", map[string]any{}, &resp); err != nil {
		return &domain.HealthStatus{
			Status:    domain.HealthDown,
			LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
			Details:   map[string]any{"error": err.Error()},
		}, nil
	}
	return &domain.HealthStatus{
		Status:    domain.HealthHealthy,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
		ItemCount: resp.TotalVectorCount,
	}, nil
}

func (p *PineconeProvider) Stats(ctx context.Context) (domain.ProviderStats, error) {
	health, err := p.HealthCheck(ctx)
	if err != nil {
		return nil, err
	}
	return domain.ProviderStats{
		"memory_count": health.ItemCount,
		"host":         p.host,
		"status":       string(health.Status),
	}, nil
}

func (p *PineconeProvider) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal pinecone request: %w", err)
		}
		reader = bytes.NewReader(blob)
	}

	req, err := http.NewRequestWithContext(ctx, method, "https://"+p.host+path, reader)
	if err != nil {
		return fmt.Errorf("create pinecone request: %w", err)
	}
	req.Header.Set("Api-Key", p.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: pinecone request failed: %v", domain.ErrBackendUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read pinecone response: %v", domain.ErrBackendUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: pinecone returned status %d: %s", domain.ErrBackendUnavailable, resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal pinecone response: %w", err)
		}
	}
	return nil
}

// pineconeFilter translates scoping filters to Pinecone's metadata filter
// syntax. Equality only; the unified store post-filters the rest.
func pineconeFilter(filters domain.QueryFilters) map[string]any {
	out := make(map[string]any)
	if filters.UserID != "" {
		out["user_id"] = map[string]any{"$eq": filters.UserID}
	}
	if filters.ConversationID != "" {
		out["conversation_id"] = map[string]any{"$eq": filters.ConversationID}
	}
	for k, v := range filters.Metadata {
		switch v.(type) {
		case string, float64, int, bool:
			out[k] = map[string]any{"$eq": v}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
