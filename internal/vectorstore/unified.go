// Package vectorstore implements the unified store: one write path and one
// query path over a primary provider and an ordered list of mirrors, with
// health tracking, failover reads, and background fan-out writes.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/adm"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/domain"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Read strategies.
const (
	ReadPrimaryOnly         = "primary_only"
	ReadPrimaryThenFallback = "primary_then_fallback"
	ReadFanOutMerge         = "fan_out_merge"
)

const (
	defaultQueryLimit = 10
	maxQueryLimit     = 200
)

// GraphSink receives memory lifecycle events when the knowledge graph is
// enabled. Ingest and delete run detached from the request path.
type GraphSink interface {
	Enabled() bool
	Ingest(ctx context.Context, m *domain.Memory) error
	DeleteMemory(ctx context.Context, id uuid.UUID) error
}

// AccessToucher is implemented by providers that track access recency.
type AccessToucher interface {
	TouchAccess(ctx context.Context, ids []uuid.UUID) error
}

// Options tune the unified store. Zero values fall back to safe defaults.
type Options struct {
	Dim                   int
	QueryMultiplier       int
	MirrorOnWrite         bool
	ReadStrategy          string
	PendingWriteHighWater int64
	BackgroundTimeout     time.Duration
	ProbeInterval         time.Duration
}

func (o *Options) withDefaults() {
	if o.QueryMultiplier < 1 {
		o.QueryMultiplier = 2
	}
	if o.ReadStrategy == "" {
		o.ReadStrategy = ReadPrimaryThenFallback
	}
	if o.PendingWriteHighWater <= 0 {
		o.PendingWriteHighWater = 64
	}
	if o.BackgroundTimeout <= 0 {
		o.BackgroundTimeout = 60 * time.Second
	}
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = 30 * time.Second
	}
}

// AddRequest is a write into the unified store.
type AddRequest struct {
	Content        string
	Metadata       map[string]any
	UserID         string
	ConversationID string
}

// QueryRequest is a similarity read. Empty text selects the recency path.
type QueryRequest struct {
	Text          string
	K             int
	MinSimilarity float64
	Filters       domain.QueryFilters
}

// QueryResult carries the ranked memories and which provider served them.
type QueryResult struct {
	Memories    []domain.MemoryWithScore `json:"memories"`
	ServedBy    string                   `json:"served_by"`
	QueryTimeMS float64                  `json:"query_time_ms"`
}

// UnifiedStore is the single entry point for memory reads and writes.
type UnifiedStore struct {
	primary  domain.VectorProvider
	mirrors  []domain.VectorProvider
	embedder domain.Embedder
	scorer   *adm.Scorer
	graph    GraphSink
	logger   *zap.Logger
	opts     Options

	writeSlots *semaphore.Weighted
	health     *healthBoard
	touch      *touchWorker

	stopCh   chan struct{}
	stopOnce sync.Once
	loopWG   sync.WaitGroup
	// bg tracks detached mirror/graph work so shutdown can drain it.
	bg sync.WaitGroup
}

func NewUnifiedStore(
	primary domain.VectorProvider,
	mirrors []domain.VectorProvider,
	embedder domain.Embedder,
	scorer *adm.Scorer,
	graph GraphSink,
	logger *zap.Logger,
	opts Options,
) *UnifiedStore {
	opts.withDefaults()

	s := &UnifiedStore{
		primary:    primary,
		mirrors:    mirrors,
		embedder:   embedder,
		scorer:     scorer,
		graph:      graph,
		logger:     logger,
		opts:       opts,
		writeSlots: semaphore.NewWeighted(opts.PendingWriteHighWater),
		health:     newHealthBoard(append([]domain.VectorProvider{primary}, mirrors...)),
		stopCh:     make(chan struct{}),
	}
	if toucher, ok := primary.(AccessToucher); ok {
		s.touch = newTouchWorker(toucher, logger)
	}
	return s
}

// Start launches the background health prober and access-touch worker.
func (s *UnifiedStore) Start() {
	s.loopWG.Add(1)
	go func() {
		defer s.loopWG.Done()
		defer s.logPanic("health probe loop")
		s.probeLoop()
	}()
	if s.touch != nil {
		s.loopWG.Add(1)
		go func() {
			defer s.loopWG.Done()
			defer s.logPanic("access touch worker")
			s.touch.run(s.stopCh)
		}()
	}
}

// goDetached runs fn on its own goroutine, tracked for shutdown draining and
// guarded so a panicking provider or graph ingest cannot take the process
// down with it.
func (s *UnifiedStore) goDetached(task string, fn func()) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer s.logPanic(task)
		fn()
	}()
}

func (s *UnifiedStore) logPanic(task string) {
	if r := recover(); r != nil {
		s.logger.Error("background task panicked",
			zap.String("task", task),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()))
	}
}

// Stop halts background loops and drains detached writes, bounded by ctx.
func (s *UnifiedStore) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.loopWG.Wait()

	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain background writes: %w", ctx.Err())
	}
}

// Add embeds, scores, and persists a memory. The primary write is
// synchronous; mirror writes and graph ingest detach after it succeeds.
func (s *UnifiedStore) Add(ctx context.Context, req AddRequest) (*domain.Memory, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", domain.ErrInvalidInput)
	}

	if !s.writeSlots.TryAcquire(1) {
		return nil, fmt.Errorf("%w: pending writes at high-water mark", domain.ErrOverloaded)
	}
	defer s.writeSlots.Release(1)

	embedding, err := s.embedder.Embed(ctx, req.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbedderFailed, err)
	}
	if len(embedding) != s.opts.Dim {
		return nil, fmt.Errorf("%w: embedder returned dimension %d, want %d",
			domain.ErrInvalidInput, len(embedding), s.opts.Dim)
	}

	score := s.scorer.ScoreMemory(req.Content, embedding)
	meta := req.Metadata
	if s.scorer.LowQuality(score) {
		if meta == nil {
			meta = make(map[string]any)
		}
		meta["low_quality"] = true
	}

	m := &domain.Memory{
		ID:              uuid.New(),
		Content:         req.Content,
		Embedding:       embedding,
		Metadata:        meta,
		ImportanceScore: score,
		UserID:          req.UserID,
		ConversationID:  req.ConversationID,
	}

	if err := s.primary.Store(ctx, m); err != nil {
		s.health.markFailure(s.primary.Name(), err)
		if errors.Is(err, domain.ErrInvalidInput) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreFailed, err)
	}
	s.health.markSuccess(s.primary.Name())
	metrics.MemoriesCreated.Inc()
	s.scorer.Observe(m.ID, embedding)

	if s.opts.MirrorOnWrite && len(s.mirrors) > 0 {
		s.fanOutStore(m)
	}
	s.notifyGraphStored(m)

	return m, nil
}

// fanOutStore replicates a stored memory to every mirror, fail-soft.
func (s *UnifiedStore) fanOutStore(m *domain.Memory) {
	s.goDetached("mirror store", func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.BackgroundTimeout)
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		for _, mirror := range s.mirrors {
			g.Go(func() error {
				if err := mirror.Store(gctx, m); err != nil {
					s.health.markFailure(mirror.Name(), err)
					metrics.MirrorFailures.WithLabelValues(mirror.Name(), "store").Inc()
					s.logger.Warn("mirror write failed",
						zap.String("provider", mirror.Name()),
						zap.String("memory_id", m.ID.String()),
						zap.Error(err))
					return nil
				}
				s.health.markSuccess(mirror.Name())
				return nil
			})
		}
		_ = g.Wait()
	})
}

func (s *UnifiedStore) notifyGraphStored(m *domain.Memory) {
	if s.graph == nil || !s.graph.Enabled() {
		return
	}
	s.goDetached("graph ingest", func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.BackgroundTimeout)
		defer cancel()
		if err := s.graph.Ingest(ctx, m); err != nil {
			metrics.GraphIngestFailures.Inc()
			s.logger.Warn("graph ingest failed",
				zap.String("memory_id", m.ID.String()), zap.Error(err))
		}
	})
}

// Query runs a similarity read with the configured strategy. Empty query
// text serves recent memories instead.
func (s *UnifiedStore) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	start := time.Now()

	k := req.K
	if k <= 0 {
		k = defaultQueryLimit
	}
	if k > maxQueryLimit {
		k = maxQueryLimit
	}

	var result *QueryResult
	var err error
	if strings.TrimSpace(req.Text) == "" {
		result, err = s.queryRecent(ctx, k, req)
	} else {
		result, err = s.querySimilar(ctx, k, req)
	}
	if err != nil {
		return nil, err
	}

	result.QueryTimeMS = float64(time.Since(start).Microseconds()) / 1000
	metrics.QueriesServed.WithLabelValues(result.ServedBy).Inc()
	s.enqueueTouch(result.Memories)
	return result, nil
}

// queryRecent serves the empty-query path: newest first from the first
// provider able to answer. Providers without native recency ordering are
// queried with a synthetic near-zero vector as a last resort.
func (s *UnifiedStore) queryRecent(ctx context.Context, k int, req QueryRequest) (*QueryResult, error) {
	var lastErr error
	for _, p := range s.readOrder() {
		var memories []domain.MemoryWithScore
		var err error
		if p.SupportsRecent() {
			memories, err = p.Recent(ctx, k*s.opts.QueryMultiplier, req.Filters)
		} else {
			memories, err = p.Query(ctx, syntheticRecencyVector(s.opts.Dim), k*s.opts.QueryMultiplier, req.Filters)
		}
		if err != nil {
			s.health.markFailure(p.Name(), err)
			lastErr = err
			continue
		}
		s.health.markSuccess(p.Name())

		memories = postFilter(memories, req.Filters, 0)
		sort.SliceStable(memories, func(i, j int) bool {
			return memories[i].CreatedAt.After(memories[j].CreatedAt)
		})
		if len(memories) > k {
			memories = memories[:k]
		}
		return &QueryResult{Memories: memories, ServedBy: p.Name()}, nil
	}
	return nil, fmt.Errorf("%w: all providers failed: %v", domain.ErrBackendUnavailable, lastErr)
}

func (s *UnifiedStore) querySimilar(ctx context.Context, k int, req QueryRequest) (*QueryResult, error) {
	embedding, err := s.embedder.Embed(ctx, req.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbedderFailed, err)
	}
	if len(embedding) != s.opts.Dim {
		return nil, fmt.Errorf("%w: embedder returned dimension %d, want %d",
			domain.ErrInvalidInput, len(embedding), s.opts.Dim)
	}

	if s.opts.ReadStrategy == ReadFanOutMerge {
		return s.queryFanOut(ctx, embedding, k, req)
	}
	return s.queryFailover(ctx, embedding, k, req)
}

// queryFailover walks providers in order until one answers. Providers the
// health board has marked down are skipped unless nothing else remains.
func (s *UnifiedStore) queryFailover(ctx context.Context, embedding []float32, k int, req QueryRequest) (*QueryResult, error) {
	order := s.readOrder()
	if s.opts.ReadStrategy == ReadPrimaryOnly {
		order = order[:1]
	}

	var skipped []domain.VectorProvider
	var lastErr error
	attempt := func(p domain.VectorProvider) (*QueryResult, bool) {
		memories, err := p.Query(ctx, embedding, k*s.opts.QueryMultiplier, req.Filters)
		if err != nil {
			s.health.markFailure(p.Name(), err)
			lastErr = err
			return nil, false
		}
		s.health.markSuccess(p.Name())
		memories = rank(memories, req.Filters, req.MinSimilarity, k)
		return &QueryResult{Memories: memories, ServedBy: p.Name()}, true
	}

	for _, p := range order {
		if s.health.isDown(p.Name()) {
			skipped = append(skipped, p)
			continue
		}
		if result, ok := attempt(p); ok {
			return result, nil
		}
	}
	// Everything healthy failed; give the marked-down providers one shot.
	for _, p := range skipped {
		if result, ok := attempt(p); ok {
			return result, nil
		}
	}
	return nil, fmt.Errorf("%w: all providers failed: %v", domain.ErrBackendUnavailable, lastErr)
}

// queryFanOut queries all responsive providers concurrently and merges by
// memory ID, keeping the best similarity per memory.
func (s *UnifiedStore) queryFanOut(ctx context.Context, embedding []float32, k int, req QueryRequest) (*QueryResult, error) {
	order := s.readOrder()

	var mu sync.Mutex
	merged := make(map[uuid.UUID]domain.MemoryWithScore)
	served := make([]string, 0, len(order))

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range order {
		if s.health.isDown(p.Name()) {
			continue
		}
		g.Go(func() error {
			memories, err := p.Query(gctx, embedding, k*s.opts.QueryMultiplier, req.Filters)
			if err != nil {
				s.health.markFailure(p.Name(), err)
				return nil
			}
			s.health.markSuccess(p.Name())
			mu.Lock()
			defer mu.Unlock()
			served = append(served, p.Name())
			for _, m := range memories {
				if prev, ok := merged[m.ID]; !ok || m.Similarity > prev.Similarity {
					merged[m.ID] = m
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(served) == 0 {
		return nil, fmt.Errorf("%w: all providers failed", domain.ErrBackendUnavailable)
	}

	memories := make([]domain.MemoryWithScore, 0, len(merged))
	for _, m := range merged {
		memories = append(memories, m)
	}
	memories = rank(memories, req.Filters, req.MinSimilarity, k)
	sort.Strings(served)
	return &QueryResult{Memories: memories, ServedBy: strings.Join(served, "+")}, nil
}

// Get reads a memory by ID, failing over to mirrors when the primary is
// unreachable. A primary miss is authoritative.
func (s *UnifiedStore) Get(ctx context.Context, id uuid.UUID) (*domain.Memory, error) {
	m, err := s.primary.Get(ctx, id)
	if err == nil {
		s.health.markSuccess(s.primary.Name())
		return m, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	s.health.markFailure(s.primary.Name(), err)

	for _, mirror := range s.mirrors {
		m, merr := mirror.Get(ctx, id)
		if merr == nil {
			s.health.markSuccess(mirror.Name())
			return m, nil
		}
		if !errors.Is(merr, domain.ErrNotFound) {
			s.health.markFailure(mirror.Name(), merr)
		}
	}
	return nil, fmt.Errorf("%w: get %s: %v", domain.ErrBackendUnavailable, id, err)
}

// Delete removes a memory from the primary and fans the delete out to
// mirrors and the graph best-effort.
func (s *UnifiedStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.primary.Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		s.health.markFailure(s.primary.Name(), err)
		return fmt.Errorf("%w: %v", domain.ErrStoreFailed, err)
	}
	s.health.markSuccess(s.primary.Name())
	s.scorer.Forget(id)

	if len(s.mirrors) > 0 {
		s.goDetached("mirror delete", func() {
			bctx, cancel := context.WithTimeout(context.Background(), s.opts.BackgroundTimeout)
			defer cancel()
			for _, mirror := range s.mirrors {
				if err := mirror.Delete(bctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
					metrics.MirrorFailures.WithLabelValues(mirror.Name(), "delete").Inc()
					s.logger.Warn("mirror delete failed",
						zap.String("provider", mirror.Name()),
						zap.String("memory_id", id.String()),
						zap.Error(err))
				}
			}
		})
	}

	if s.graph != nil && s.graph.Enabled() {
		s.goDetached("graph delete", func() {
			bctx, cancel := context.WithTimeout(context.Background(), s.opts.BackgroundTimeout)
			defer cancel()
			if err := s.graph.DeleteMemory(bctx, id); err != nil {
				s.logger.Warn("graph delete failed", zap.String("memory_id", id.String()), zap.Error(err))
			}
		})
	}
	return nil
}

// Providers returns every provider, primary first.
func (s *UnifiedStore) Providers() []domain.VectorProvider {
	return s.readOrder()
}

// PrimaryName identifies the primary provider.
func (s *UnifiedStore) PrimaryName() string {
	return s.primary.Name()
}

func (s *UnifiedStore) readOrder() []domain.VectorProvider {
	order := make([]domain.VectorProvider, 0, 1+len(s.mirrors))
	order = append(order, s.primary)
	order = append(order, s.mirrors...)
	return order
}

func (s *UnifiedStore) enqueueTouch(memories []domain.MemoryWithScore) {
	if s.touch == nil {
		return
	}
	for _, m := range memories {
		s.touch.enqueue(m.ID)
	}
}

// rank applies in-process filters and the similarity floor, sorts by
// similarity descending, and truncates to k.
func rank(memories []domain.MemoryWithScore, filters domain.QueryFilters, minSimilarity float64, k int) []domain.MemoryWithScore {
	memories = postFilter(memories, filters, minSimilarity)
	sort.SliceStable(memories, func(i, j int) bool {
		return memories[i].Similarity > memories[j].Similarity
	})
	if len(memories) > k {
		memories = memories[:k]
	}
	return memories
}

// postFilter re-applies scoping filters in-process. Backends that push
// filters down return already-conforming rows; the pass is a no-op there.
func postFilter(memories []domain.MemoryWithScore, filters domain.QueryFilters, minSimilarity float64) []domain.MemoryWithScore {
	out := memories[:0]
	for _, m := range memories {
		if minSimilarity > 0 && float64(m.Similarity) < minSimilarity {
			continue
		}
		if !filters.Empty() && !filters.Matches(&m.Memory) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// syntheticRecencyVector is the degenerate query used against providers that
// cannot order by creation time; near-zero components keep ANN indexes from
// rejecting it while implying no semantic preference.
func syntheticRecencyVector(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = 1e-3
	}
	return v
}
