// Package graph maintains the property graph derived from memories: entity
// nodes, typed relationships, and the memory-to-entity map, all living in the
// same Postgres as the primary vector store but behind a separate pool so
// graph load cannot starve memory writes.
package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/adm"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/domain"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/extraction"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// bulkBatchSize is how many memories go to the batch extractor per call.
const bulkBatchSize = 20

type Config struct {
	Enabled     bool
	DatabaseURL string
	MaxConns    int32
	Window      int
	MinStrength float64
}

// Provider owns the knowledge graph. When disabled every operation returns
// ErrGraphDisabled and no pool is ever opened.
type Provider struct {
	cfg       Config
	scorer    *adm.Scorer
	extractor *extraction.Extractor
	batch     domain.EntityExtractor
	logger    *zap.Logger

	// Pool opens lazily on first use so a disabled or unused graph costs
	// nothing.
	once    sync.Once
	pool    *pgxpool.Pool
	initErr error
}

func NewProvider(cfg Config, scorer *adm.Scorer, batch domain.EntityExtractor, logger *zap.Logger) *Provider {
	return &Provider{
		cfg:       cfg,
		scorer:    scorer,
		extractor: extraction.NewExtractor(),
		batch:     batch,
		logger:    logger,
	}
}

func (p *Provider) Enabled() bool { return p.cfg.Enabled }

func (p *Provider) getPool(ctx context.Context) (*pgxpool.Pool, error) {
	if !p.cfg.Enabled {
		return nil, domain.ErrGraphDisabled
	}
	p.once.Do(func() {
		poolCfg, err := pgxpool.ParseConfig(p.cfg.DatabaseURL)
		if err != nil {
			p.initErr = fmt.Errorf("parse graph database url: %w", err)
			return
		}
		if p.cfg.MaxConns > 0 {
			poolCfg.MaxConns = p.cfg.MaxConns
		}
		pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
		if err != nil {
			p.initErr = fmt.Errorf("open graph pool: %w", err)
			return
		}
		p.pool = pool
		if err := p.ensureSchema(ctx); err != nil {
			p.initErr = err
		}
	})
	if p.initErr != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, p.initErr)
	}
	return p.pool, nil
}

// Close releases the pool if one was opened.
func (p *Provider) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Ingest extracts entities from one memory and applies them to the graph.
// Re-ingesting the same memory is a no-op for mention and occurrence counts.
func (p *Provider) Ingest(ctx context.Context, m *domain.Memory) error {
	pool, err := p.getPool(ctx)
	if err != nil {
		return err
	}

	mentions := p.extractor.Extract(m.Content)
	if len(mentions) == 0 {
		return nil
	}
	return p.applyExtraction(ctx, pool, m, mentions, nil)
}

// SyncMemory re-runs extraction for a memory already in the store.
func (p *Provider) SyncMemory(ctx context.Context, m *domain.Memory) error {
	return p.Ingest(ctx, m)
}

// BulkIngest runs the batch extractor over many memories, falling back to
// the streaming extractor when no batch extractor is configured. Returns the
// number of memories that produced graph updates.
func (p *Provider) BulkIngest(ctx context.Context, memories []domain.Memory) (int, error) {
	pool, err := p.getPool(ctx)
	if err != nil {
		return 0, err
	}

	if p.batch == nil {
		var applied int
		for i := range memories {
			if err := p.Ingest(ctx, &memories[i]); err != nil {
				p.logger.Warn("bulk ingest memory failed",
					zap.String("memory_id", memories[i].ID.String()), zap.Error(err))
				continue
			}
			applied++
		}
		return applied, nil
	}

	byID := make(map[uuid.UUID]*domain.Memory, len(memories))
	for i := range memories {
		byID[memories[i].ID] = &memories[i]
	}

	var mu sync.Mutex
	var applied int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for start := 0; start < len(memories); start += bulkBatchSize {
		end := start + bulkBatchSize
		if end > len(memories) {
			end = len(memories)
		}
		chunk := memories[start:end]
		g.Go(func() error {
			extractions, err := p.batch.ExtractBatch(gctx, chunk)
			if err != nil {
				return fmt.Errorf("batch extract: %w", err)
			}
			for _, ext := range extractions {
				m, ok := byID[ext.MemoryID]
				if !ok || len(ext.Mentions) == 0 {
					continue
				}
				if err := p.applyExtraction(gctx, pool, m, ext.Mentions, ext.Relationships); err != nil {
					p.logger.Warn("bulk ingest memory failed",
						zap.String("memory_id", ext.MemoryID.String()), zap.Error(err))
					continue
				}
				mu.Lock()
				applied++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return applied, err
	}
	return applied, nil
}

// DeleteMemory removes a memory's mentions and decays orphaned nodes.
func (p *Provider) DeleteMemory(ctx context.Context, id uuid.UUID) error {
	pool, err := p.getPool(ctx)
	if err != nil {
		return err
	}
	return p.deleteMemoryRows(ctx, pool, id)
}

// nodeKey is the node identity: one node per (entity_type, normalized_name).
type nodeKey struct {
	etype domain.EntityType
	name  string
}

// nodeIndex maps resolved nodes within one extraction. Typed lookups use the
// full key; edge candidates that carry only a surface fall back to the first
// node registered under that name.
type nodeIndex struct {
	byKey  map[nodeKey]uuid.UUID
	byName map[string]uuid.UUID
}

func newNodeIndex() *nodeIndex {
	return &nodeIndex{
		byKey:  make(map[nodeKey]uuid.UUID),
		byName: make(map[string]uuid.UUID),
	}
}

func (ix *nodeIndex) lookup(key nodeKey) (uuid.UUID, bool) {
	id, ok := ix.byKey[key]
	return id, ok
}

func (ix *nodeIndex) add(key nodeKey, id uuid.UUID) {
	ix.byKey[key] = id
	if _, ok := ix.byName[key.name]; !ok {
		ix.byName[key.name] = id
	}
}

func (ix *nodeIndex) resolve(name string, etype domain.EntityType) (uuid.UUID, bool) {
	if etype != "" {
		if id, ok := ix.byKey[nodeKey{etype, name}]; ok {
			return id, true
		}
	}
	id, ok := ix.byName[name]
	return id, ok
}

// applyExtraction writes mentions, nodes, and inferred relationships in one
// transaction. Only mentions inserted for the first time bump counts or
// produce edges, which is what makes re-ingest idempotent.
func (p *Provider) applyExtraction(
	ctx context.Context,
	pool *pgxpool.Pool,
	m *domain.Memory,
	mentions []domain.Mention,
	extracted []domain.ExtractedRelationship,
) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin graph tx: %v", domain.ErrBackendUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	importance := p.entityImportance(m)
	index := newNodeIndex()
	var newMentions []domain.Mention

	for _, mention := range mentions {
		key := nodeKey{mention.EntityType, Normalize(mention.Surface)}
		if key.name == "" {
			continue
		}

		nodeID, ok := index.lookup(key)
		if !ok {
			nodeID, err = p.upsertNode(ctx, tx, mention, key.name, importance)
			if err != nil {
				return err
			}
			index.add(key, nodeID)
		}

		inserted, err := p.insertMention(ctx, tx, m.ID, nodeID, mention)
		if err != nil {
			return err
		}
		if inserted {
			if err := p.bumpMentionCount(ctx, tx, nodeID); err != nil {
				return err
			}
			newMentions = append(newMentions, mention)
		}
	}

	for _, e := range p.edgeCandidates(m.Content, newMentions, extracted) {
		fromID, okFrom := index.resolve(e.fromKey, e.fromType)
		toID, okTo := index.resolve(e.toKey, e.toType)
		if !okFrom || !okTo || fromID == toID {
			continue
		}
		if err := p.upsertEdge(ctx, tx, fromID, toID, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit graph tx: %v", domain.ErrBackendUnavailable, err)
	}
	return nil
}

// edgeCandidates gathers relationship candidates for one extraction pass.
// When no mention was newly inserted the memory has been seen before, so no
// candidates are produced and occurrence counts stay put.
func (p *Provider) edgeCandidates(content string, newMentions []domain.Mention, extracted []domain.ExtractedRelationship) []inferredEdge {
	if len(newMentions) == 0 {
		return nil
	}
	edges := inferEdges(content, newMentions, p.cfg.Window, p.scorer.ScoreRelationship, p.cfg.MinStrength)
	return append(edges, p.resolveExtracted(extracted)...)
}

// entityImportance scores how much the memory containing a mention should
// weigh on the node. Nodes keep the highest importance seen across memories.
func (p *Provider) entityImportance(m *domain.Memory) float64 {
	return p.scorer.ScoreMemory(m.Content, m.Embedding)
}

// resolveExtracted converts extractor-provided relationships to edge
// candidates keyed by normalized surface.
func (p *Provider) resolveExtracted(extracted []domain.ExtractedRelationship) []inferredEdge {
	out := make([]inferredEdge, 0, len(extracted))
	for _, r := range extracted {
		fromKey := Normalize(r.FromSurface)
		toKey := Normalize(r.ToSurface)
		if fromKey == "" || toKey == "" || fromKey == toKey {
			continue
		}
		conf := r.Confidence
		if conf <= 0 || conf > 1 {
			conf = 0.7
		}
		strength := p.scorer.ScoreRelationship(conf, r.FromSurface, r.ToSurface, "")
		if strength < p.cfg.MinStrength {
			continue
		}
		relType := r.Type
		if relType == "" {
			relType = domain.RelRelatesTo
		}
		out = append(out, inferredEdge{
			fromKey:    fromKey,
			toKey:      toKey,
			relType:    relType,
			strength:   strength,
			confidence: conf,
		})
	}
	return out
}
