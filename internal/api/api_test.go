package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/adm"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/domain"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/embedding"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/graph"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/vectorstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testDim = 8

// stubProvider is a minimal in-memory backend for router tests.
type stubProvider struct {
	mu       sync.Mutex
	memories map[uuid.UUID]*domain.Memory
}

func newStubProvider() *stubProvider {
	return &stubProvider{memories: make(map[uuid.UUID]*domain.Memory)}
}

func (s *stubProvider) Name() string         { return "pgvector" }
func (s *stubProvider) SupportsRecent() bool { return true }

func (s *stubProvider) Store(ctx context.Context, m *domain.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	cp := *m
	s.memories[m.ID] = &cp
	return nil
}

func (s *stubProvider) Query(ctx context.Context, embedding []float32, k int, filters domain.QueryFilters) ([]domain.MemoryWithScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MemoryWithScore
	for _, m := range s.memories {
		if !filters.Empty() && !filters.Matches(m) {
			continue
		}
		out = append(out, domain.MemoryWithScore{
			Memory:     *m,
			Similarity: float32(adm.CosineSimilarity(embedding, m.Embedding)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *stubProvider) Recent(ctx context.Context, k int, filters domain.QueryFilters) ([]domain.MemoryWithScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MemoryWithScore
	for _, m := range s.memories {
		out = append(out, domain.MemoryWithScore{Memory: *m, Similarity: 1})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *stubProvider) Get(ctx context.Context, id uuid.UUID) (*domain.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *stubProvider) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.memories, id)
	return nil
}

func (s *stubProvider) HealthCheck(ctx context.Context) (*domain.HealthStatus, error) {
	return &domain.HealthStatus{Status: domain.HealthHealthy}, nil
}

func (s *stubProvider) Stats(ctx context.Context) (domain.ProviderStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.ProviderStats{"memory_count": len(s.memories)}, nil
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	return newTestAppWith(t, newStubProvider())
}

func newTestAppWith(t *testing.T, primary domain.VectorProvider) *App {
	t.Helper()
	scorer := adm.NewScorer(adm.DefaultWeights(), 0.2)
	store := vectorstore.NewUnifiedStore(
		primary, nil,
		embedding.NewMockClient(testDim),
		scorer,
		nil,
		zap.NewNop(),
		vectorstore.Options{Dim: testDim},
	)
	graphProvider := graph.NewProvider(graph.Config{Enabled: false}, scorer, nil, zap.NewNop())
	return NewApp(store, graphProvider, zap.NewNop())
}

func doJSON(t *testing.T, app *App, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(blob)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndGetMemory(t *testing.T) {
	app := newTestApp(t)

	rec := doJSON(t, app, http.MethodPost, "/memories", map[string]any{
		"content": "Alice works at Acme.",
		"user_id": "u1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created domain.Memory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEqual(t, uuid.Nil, created.ID)
	require.Equal(t, "u1", created.UserID)

	rec = doJSON(t, app, http.MethodGet, "/memories/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateMemoryEmptyContent(t *testing.T) {
	app := newTestApp(t)

	rec := doJSON(t, app, http.MethodPost, "/memories", map[string]any{"content": "  "})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "invalid_input", resp["code"])
}

func TestCreateMemoryTooLarge(t *testing.T) {
	app := newTestApp(t)

	rec := doJSON(t, app, http.MethodPost, "/memories", map[string]any{
		"content": strings.Repeat("x", 64*1024),
	})
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCreateMemoryInvalidBody(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/memories", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryMemories(t *testing.T) {
	app := newTestApp(t)

	rec := doJSON(t, app, http.MethodPost, "/memories", map[string]any{
		"content": "postgres tuning checklist",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, app, http.MethodPost, "/memories/query", map[string]any{
		"query": "postgres tuning checklist",
		"k":     5,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Memories []domain.MemoryWithScore `json:"memories"`
		ServedBy string                   `json:"served_by"`
		Count    int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	require.Equal(t, "pgvector", resp.ServedBy)
}

func TestQueryEmptyTextServesRecent(t *testing.T) {
	app := newTestApp(t)

	for i := 0; i < 3; i++ {
		rec := doJSON(t, app, http.MethodPost, "/memories", map[string]any{
			"content": fmt.Sprintf("note number %d", i),
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, app, http.MethodPost, "/memories/query", map[string]any{"query": "", "k": 2})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Memories []domain.MemoryWithScore `json:"memories"`
		Count    int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
}

func TestQueryClampsMinSimilarity(t *testing.T) {
	app := newTestApp(t)

	rec := doJSON(t, app, http.MethodPost, "/memories", map[string]any{"content": "clamp me"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Out-of-range floor clamps to 0, so the memory still comes back.
	rec = doJSON(t, app, http.MethodPost, "/memories/query", map[string]any{
		"query":          "clamp me",
		"min_similarity": -2.5,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
}

func TestGetMemoryNotFound(t *testing.T) {
	app := newTestApp(t)

	rec := doJSON(t, app, http.MethodGet, "/memories/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "not_found", resp["code"])
}

func TestDeleteMemory(t *testing.T) {
	app := newTestApp(t)

	rec := doJSON(t, app, http.MethodPost, "/memories", map[string]any{"content": "ephemeral"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.Memory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, app, http.MethodDelete, "/memories/"+created.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, app, http.MethodDelete, "/memories/"+created.ID.String(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatchCreate(t *testing.T) {
	app := newTestApp(t)

	rec := doJSON(t, app, http.MethodPost, "/memories/batch", map[string]any{
		"memories": []map[string]any{
			{"content": "first note"},
			{"content": "   "},
			{"content": "second note"},
		},
	})
	require.Equal(t, http.StatusMultiStatus, rec.Code)

	var resp struct {
		Results   []json.RawMessage `json:"results"`
		Succeeded int               `json:"succeeded"`
		Failed    int               `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Succeeded)
	require.Equal(t, 1, resp.Failed)
}

// Graph routes must refuse cleanly while memories keep working when the
// graph provider is disabled.
func TestGraphDisabled(t *testing.T) {
	app := newTestApp(t)

	rec := doJSON(t, app, http.MethodPost, "/memories", map[string]any{
		"content": "Alice works at Acme.",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.Memory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	for _, tc := range []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/graph/stats", nil},
		{http.MethodGet, "/graph/explore/acme", nil},
		{http.MethodPost, "/graph/query", map[string]any{"from": "alice", "to": "acme"}},
		{http.MethodPost, "/graph/sync/" + created.ID.String(), nil},
	} {
		rec := doJSON(t, app, tc.method, tc.path, tc.body)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code, "%s %s", tc.method, tc.path)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "graph_disabled", resp["code"], "%s %s", tc.method, tc.path)
	}
}

func TestHealthEndpoint(t *testing.T) {
	app := newTestApp(t)

	rec := doJSON(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status    string                          `json:"status"`
		Providers map[string]*domain.HealthStatus `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, domain.HealthHealthy, resp.Status)
	require.Contains(t, resp.Providers, "pgvector")
}

// failingHealthProvider is a stub whose health check always reports an
// outage.
type failingHealthProvider struct {
	*stubProvider
}

func (f *failingHealthProvider) HealthCheck(ctx context.Context) (*domain.HealthStatus, error) {
	return nil, errors.New("connection refused")
}

func TestHealthEndpointStays200WhenPrimaryDown(t *testing.T) {
	app := newTestAppWith(t, &failingHealthProvider{newStubProvider()})

	var resp struct {
		Status    string                          `json:"status"`
		Providers map[string]*domain.HealthStatus `json:"providers"`
	}
	// Repeated failed checks mark the primary down; the endpoint keeps
	// answering 200 and carries the outage in the body.
	for i := 0; i < 3; i++ {
		rec := doJSON(t, app, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	require.Equal(t, domain.HealthDown, resp.Status)
	require.Equal(t, domain.HealthDown, resp.Providers["pgvector"].Status)
}

func TestProvidersEndpoint(t *testing.T) {
	app := newTestApp(t)

	rec := doJSON(t, app, http.MethodGet, "/providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Providers []struct {
			Name           string `json:"name"`
			Primary        bool   `json:"primary"`
			SupportsRecent bool   `json:"supports_recent"`
		} `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Providers, 1)
	require.True(t, resp.Providers[0].Primary)
	require.True(t, resp.Providers[0].SupportsRecent)
}
