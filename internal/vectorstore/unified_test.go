package vectorstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/adm"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/domain"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/embedding"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testDim = 8

// fakeProvider is an in-memory backend with injectable failures.
type fakeProvider struct {
	name           string
	canServeRecent bool

	mu       sync.Mutex
	memories map[uuid.UUID]*domain.Memory

	storeErr error
	queryErr error
	getErr   error

	queryCalls int
}

func newFakeProvider(name string, canServeRecent bool) *fakeProvider {
	return &fakeProvider{
		name:           name,
		canServeRecent: canServeRecent,
		memories:       make(map[uuid.UUID]*domain.Memory),
	}
}

func (f *fakeProvider) Name() string         { return f.name }
func (f *fakeProvider) SupportsRecent() bool { return f.canServeRecent }

func (f *fakeProvider) Store(ctx context.Context, m *domain.Memory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return f.storeErr
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	cp := *m
	f.memories[m.ID] = &cp
	return nil
}

func (f *fakeProvider) Query(ctx context.Context, embedding []float32, k int, filters domain.QueryFilters) ([]domain.MemoryWithScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var out []domain.MemoryWithScore
	for _, m := range f.memories {
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

func (f *fakeProvider) Recent(ctx context.Context, k int, filters domain.QueryFilters) ([]domain.MemoryWithScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var out []domain.MemoryWithScore
	for _, m := range f.memories {
		if !filters.Empty() && !filters.Matches(m) {
			continue
		}
		out = append(out, domain.MemoryWithScore{Memory: *m, Similarity: 1})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (f *fakeProvider) Get(ctx context.Context, id uuid.UUID) (*domain.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	m, ok := f.memories[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeProvider) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.memories[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.memories, id)
	return nil
}

func (f *fakeProvider) HealthCheck(ctx context.Context) (*domain.HealthStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &domain.HealthStatus{Status: domain.HealthHealthy, ItemCount: int64(len(f.memories))}, nil
}

func (f *fakeProvider) Stats(ctx context.Context) (domain.ProviderStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.ProviderStats{"memory_count": len(f.memories)}, nil
}

func (f *fakeProvider) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.memories)
}

func (f *fakeProvider) seed(m domain.Memory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := m
	f.memories[m.ID] = &cp
}

func newTestStore(t *testing.T, primary *fakeProvider, mirrors ...*fakeProvider) *UnifiedStore {
	t.Helper()
	var ms []domain.VectorProvider
	for _, m := range mirrors {
		ms = append(ms, m)
	}
	store := NewUnifiedStore(
		primary, ms,
		embedding.NewMockClient(testDim),
		adm.NewScorer(adm.DefaultWeights(), 0.2),
		nil,
		zap.NewNop(),
		Options{
			Dim:               testDim,
			MirrorOnWrite:     true,
			BackgroundTimeout: 2 * time.Second,
		},
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = store.Stop(ctx)
	})
	return store
}

func TestAddWritesPrimaryAndMirrors(t *testing.T) {
	primary := newFakeProvider("pgvector", true)
	mirror := newFakeProvider("chroma", false)
	store := newTestStore(t, primary, mirror)

	m, err := store.Add(t.Context(), AddRequest{Content: "Alice joined the infrastructure team in Berlin."})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, m.ID)
	require.Len(t, m.Embedding, testDim)
	require.GreaterOrEqual(t, m.ImportanceScore, 0.0)
	require.LessOrEqual(t, m.ImportanceScore, 1.0)

	require.Equal(t, 1, primary.count())
	require.Eventually(t, func() bool { return mirror.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestAddMirrorFailureDoesNotSurface(t *testing.T) {
	primary := newFakeProvider("pgvector", true)
	mirror := newFakeProvider("chroma", false)
	mirror.storeErr = errors.New("connection refused")
	store := newTestStore(t, primary, mirror)

	_, err := store.Add(t.Context(), AddRequest{Content: "mirror outage should stay invisible"})
	require.NoError(t, err)
	require.Equal(t, 1, primary.count())
}

// panickingProvider blows up on Store; everything else is the fake.
type panickingProvider struct {
	*fakeProvider
}

func (p *panickingProvider) Store(ctx context.Context, m *domain.Memory) error {
	panic("mirror store exploded")
}

func TestAddSurvivesPanickingMirror(t *testing.T) {
	primary := newFakeProvider("pgvector", true)
	mirror := &panickingProvider{newFakeProvider("chroma", false)}
	store := NewUnifiedStore(
		primary, []domain.VectorProvider{mirror},
		embedding.NewMockClient(testDim),
		adm.NewScorer(adm.DefaultWeights(), 0.2),
		nil,
		zap.NewNop(),
		Options{
			Dim:               testDim,
			MirrorOnWrite:     true,
			BackgroundTimeout: 2 * time.Second,
		},
	)

	m, err := store.Add(t.Context(), AddRequest{Content: "a misbehaving mirror must stay invisible"})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, m.ID)
	require.Equal(t, 1, primary.count())

	// Shutdown drains the mirror goroutine; the panic must have been
	// contained there instead of crashing the process.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, store.Stop(ctx))
}

func TestAddRejectsEmptyContent(t *testing.T) {
	store := newTestStore(t, newFakeProvider("pgvector", true))
	_, err := store.Add(t.Context(), AddRequest{Content: "   "})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAddOverloadedAtHighWater(t *testing.T) {
	store := newTestStore(t, newFakeProvider("pgvector", true))

	// Occupy every write slot.
	require.True(t, store.writeSlots.TryAcquire(store.opts.PendingWriteHighWater))
	defer store.writeSlots.Release(store.opts.PendingWriteHighWater)

	_, err := store.Add(t.Context(), AddRequest{Content: "no slots left"})
	require.ErrorIs(t, err, domain.ErrOverloaded)
}

func TestAddFlagsLowQuality(t *testing.T) {
	// Floor of 1.0 makes every memory low-quality; the flag must be set and
	// the write must still succeed.
	primary := newFakeProvider("pgvector", true)
	store := NewUnifiedStore(
		primary, nil,
		embedding.NewMockClient(testDim),
		adm.NewScorer(adm.DefaultWeights(), 1.0),
		nil,
		zap.NewNop(),
		Options{Dim: testDim},
	)

	m, err := store.Add(t.Context(), AddRequest{Content: "perfectly ordinary content"})
	require.NoError(t, err)
	require.Equal(t, true, m.Metadata["low_quality"])
	require.Equal(t, 1, primary.count())
}

func TestQueryEmptyTextReturnsRecent(t *testing.T) {
	primary := newFakeProvider("pgvector", true)
	store := newTestStore(t, primary)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		primary.seed(domain.Memory{
			ID:        uuid.New(),
			Content:   "memory",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	result, err := store.Query(t.Context(), QueryRequest{Text: "", K: 2})
	require.NoError(t, err)
	require.Equal(t, "pgvector", result.ServedBy)
	require.Len(t, result.Memories, 2)
	require.True(t, result.Memories[0].CreatedAt.After(result.Memories[1].CreatedAt))
}

func TestQueryReturnsStoredMemoryFirst(t *testing.T) {
	primary := newFakeProvider("pgvector", true)
	store := newTestStore(t, primary)

	target, err := store.Add(t.Context(), AddRequest{Content: "the payment service depends on redis"})
	require.NoError(t, err)
	_, err = store.Add(t.Context(), AddRequest{Content: "lunch menu for the offsite"})
	require.NoError(t, err)

	result, err := store.Query(t.Context(), QueryRequest{Text: "the payment service depends on redis", K: 2})
	require.NoError(t, err)
	require.Equal(t, target.ID, result.Memories[0].ID)
	require.InDelta(t, 1.0, float64(result.Memories[0].Similarity), 1e-4)
}

func TestQueryFailsOverToMirror(t *testing.T) {
	primary := newFakeProvider("pgvector", true)
	primary.queryErr = errors.New("primary down")
	mirror := newFakeProvider("chroma", false)
	mirror.seed(domain.Memory{ID: uuid.New(), Content: "survivor"})
	store := newTestStore(t, primary, mirror)

	result, err := store.Query(t.Context(), QueryRequest{Text: "anything", K: 5})
	require.NoError(t, err)
	require.Equal(t, "chroma", result.ServedBy)
	require.Len(t, result.Memories, 1)
}

func TestQuerySkipsProviderMarkedDown(t *testing.T) {
	primary := newFakeProvider("pgvector", true)
	primary.queryErr = errors.New("primary down")
	mirror := newFakeProvider("chroma", false)
	mirror.seed(domain.Memory{ID: uuid.New(), Content: "survivor"})
	store := newTestStore(t, primary, mirror)

	for i := 0; i < downAfterFailures; i++ {
		_, err := store.Query(t.Context(), QueryRequest{Text: "anything", K: 5})
		require.NoError(t, err)
	}
	require.True(t, store.health.isDown("pgvector"))

	before := primary.queryCalls
	_, err := store.Query(t.Context(), QueryRequest{Text: "anything", K: 5})
	require.NoError(t, err)
	require.Equal(t, before, primary.queryCalls)
}

func TestQueryAllProvidersDown(t *testing.T) {
	primary := newFakeProvider("pgvector", true)
	primary.queryErr = errors.New("primary down")
	store := newTestStore(t, primary)

	_, err := store.Query(t.Context(), QueryRequest{Text: "anything", K: 5})
	require.ErrorIs(t, err, domain.ErrBackendUnavailable)
}

func TestQueryMinSimilarity(t *testing.T) {
	primary := newFakeProvider("pgvector", true)
	store := newTestStore(t, primary)

	_, err := store.Add(t.Context(), AddRequest{Content: "completely unrelated gardening notes"})
	require.NoError(t, err)

	result, err := store.Query(t.Context(), QueryRequest{
		Text:          "kubernetes cluster autoscaling policy",
		K:             5,
		MinSimilarity: 0.99,
	})
	require.NoError(t, err)
	require.Empty(t, result.Memories)
}

func TestQueryScopedByUser(t *testing.T) {
	primary := newFakeProvider("pgvector", true)
	store := newTestStore(t, primary)

	_, err := store.Add(t.Context(), AddRequest{Content: "alpha memo", UserID: "u1"})
	require.NoError(t, err)
	_, err = store.Add(t.Context(), AddRequest{Content: "beta memo", UserID: "u2"})
	require.NoError(t, err)

	result, err := store.Query(t.Context(), QueryRequest{
		Text:    "memo",
		K:       5,
		Filters: domain.QueryFilters{UserID: "u1"},
	})
	require.NoError(t, err)
	require.Len(t, result.Memories, 1)
	require.Equal(t, "u1", result.Memories[0].UserID)
}

func TestQueryFanOutMergeDeduplicates(t *testing.T) {
	primary := newFakeProvider("pgvector", true)
	mirror := newFakeProvider("chroma", false)

	shared := domain.Memory{ID: uuid.New(), Content: "shared"}
	primary.seed(shared)
	mirror.seed(shared)
	mirror.seed(domain.Memory{ID: uuid.New(), Content: "mirror only"})

	var ms []domain.VectorProvider
	ms = append(ms, mirror)
	store := NewUnifiedStore(
		primary, ms,
		embedding.NewMockClient(testDim),
		adm.NewScorer(adm.DefaultWeights(), 0.2),
		nil,
		zap.NewNop(),
		Options{Dim: testDim, ReadStrategy: ReadFanOutMerge},
	)

	result, err := store.Query(t.Context(), QueryRequest{Text: "shared", K: 10})
	require.NoError(t, err)
	require.Equal(t, "chroma+pgvector", result.ServedBy)
	require.Len(t, result.Memories, 2)
}

func TestGetFailsOverToMirror(t *testing.T) {
	primary := newFakeProvider("pgvector", true)
	primary.getErr = errors.New("primary down")
	mirror := newFakeProvider("chroma", false)
	id := uuid.New()
	mirror.seed(domain.Memory{ID: id, Content: "mirrored"})
	store := newTestStore(t, primary, mirror)

	m, err := store.Get(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, "mirrored", m.Content)
}

func TestGetPrimaryMissIsAuthoritative(t *testing.T) {
	primary := newFakeProvider("pgvector", true)
	mirror := newFakeProvider("chroma", false)
	id := uuid.New()
	mirror.seed(domain.Memory{ID: id, Content: "stale mirror copy"})
	store := newTestStore(t, primary, mirror)

	_, err := store.Get(t.Context(), id)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteFansOut(t *testing.T) {
	primary := newFakeProvider("pgvector", true)
	mirror := newFakeProvider("chroma", false)
	store := newTestStore(t, primary, mirror)

	m, err := store.Add(t.Context(), AddRequest{Content: "short lived"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return mirror.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, store.Delete(t.Context(), m.ID))
	require.Equal(t, 0, primary.count())
	require.Eventually(t, func() bool { return mirror.count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestDeleteMissingMemory(t *testing.T) {
	store := newTestStore(t, newFakeProvider("pgvector", true))
	err := store.Delete(t.Context(), uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHealthReportsAllProviders(t *testing.T) {
	primary := newFakeProvider("pgvector", true)
	mirror := newFakeProvider("chroma", false)
	store := newTestStore(t, primary, mirror)

	health := store.Health(t.Context())
	require.Len(t, health, 2)
	require.Equal(t, domain.HealthHealthy, health["pgvector"].Status)
	require.Equal(t, domain.HealthHealthy, health["chroma"].Status)
}
