// Package provider contains the vector storage backends. Each backend
// implements the flat capability contract in domain.VectorProvider; the
// unified store orchestrates them.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

const (
	// minIndexLists is the floor for the IVFFlat lists fallback schedule.
	// Below it the table runs without an ANN index; sequential scans still
	// return correct results.
	minIndexLists = 10

	retryAttempts  = 2
	retryBaseDelay = 50 * time.Millisecond
)

// PgVectorProvider is the primary backend: relational storage with a vector
// column under cosine ops and JSONB metadata pushdown.
type PgVectorProvider struct {
	pool    *pgxpool.Pool
	dim     int
	lists   int
	memHint string
	logger  *zap.Logger
}

func NewPgVectorProvider(pool *pgxpool.Pool, dim, lists int, memHint string, logger *zap.Logger) *PgVectorProvider {
	return &PgVectorProvider{
		pool:    pool,
		dim:     dim,
		lists:   lists,
		memHint: memHint,
		logger:  logger,
	}
}

func (p *PgVectorProvider) Name() string { return "pgvector" }

// EnsureSchema creates the memories table and its indexes. The vector index
// build honors the maintenance_work_mem hint and halves the lists parameter
// on rejection, down to minIndexLists.
func (p *PgVectorProvider) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memories (
			id UUID PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			importance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			user_id TEXT NOT NULL DEFAULT '',
			conversation_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_accessed TIMESTAMPTZ,
			access_count INT NOT NULL DEFAULT 0
		)`, p.dim),
		`CREATE INDEX IF NOT EXISTS memories_metadata_idx ON memories USING gin (metadata)`,
		`CREATE INDEX IF NOT EXISTS memories_created_at_idx ON memories (created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return p.ensureVectorIndex(ctx)
}

func (p *PgVectorProvider) ensureVectorIndex(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, fmt.Sprintf(`SET maintenance_work_mem = '%s'`, p.memHint)); err != nil {
		p.logger.Warn("maintenance_work_mem hint rejected", zap.String("hint", p.memHint), zap.Error(err))
	}

	lists := p.lists
	for lists >= minIndexLists {
		_, err := p.pool.Exec(ctx, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS memories_embedding_idx
			 ON memories USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d)`, lists))
		if err == nil {
			p.logger.Info("vector index ready", zap.Int("lists", lists))
			return nil
		}
		p.logger.Warn("vector index build rejected, lowering lists",
			zap.Int("lists", lists), zap.Error(err))
		lists /= 2
	}

	p.logger.Warn("vector index skipped, falling back to sequential scan")
	return nil
}

func (p *PgVectorProvider) Store(ctx context.Context, m *domain.Memory) error {
	if len(m.Embedding) != p.dim {
		return fmt.Errorf("%w: embedding dimension %d, want %d", domain.ErrInvalidInput, len(m.Embedding), p.dim)
	}

	vec := pgvector.NewVector(m.Embedding)
	return p.withRetry(ctx, func() error {
		// Content is immutable; conflicts only refresh metadata and score.
		return p.pool.QueryRow(ctx,
			`INSERT INTO memories (id, content, embedding, metadata, importance_score, user_id, conversation_id, created_at, access_count)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()), 0)
			 ON CONFLICT (id) DO UPDATE
			 SET metadata = EXCLUDED.metadata,
			     importance_score = EXCLUDED.importance_score
			 RETURNING created_at`,
			m.ID, m.Content, vec, m.Metadata, m.ImportanceScore, m.UserID, m.ConversationID, nullableTime(m.CreatedAt),
		).Scan(&m.CreatedAt)
	})
}

func (p *PgVectorProvider) Query(ctx context.Context, embedding []float32, k int, filters domain.QueryFilters) ([]domain.MemoryWithScore, error) {
	if k <= 0 {
		k = 10
	}

	vec := pgvector.NewVector(embedding)

	var conditions []string
	var args []any

	args = append(args, vec)
	embeddingParam := 1

	conditions, args, err := appendFilterConditions(conditions, args, filters)
	if err != nil {
		return nil, err
	}

	limitParam := len(args) + 1
	args = append(args, k)

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(
		`SELECT id, content, metadata, importance_score, user_id, conversation_id, created_at, last_accessed, access_count,
		        1 - (embedding <=> $%d) AS similarity
		 FROM memories
		 %s
		 ORDER BY embedding <=> $%d
		 LIMIT $%d`,
		embeddingParam, where, embeddingParam, limitParam,
	)

	var results []domain.MemoryWithScore
	err = p.withRetry(ctx, func() error {
		rows, err := p.pool.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()

		results = results[:0]
		for rows.Next() {
			var ms domain.MemoryWithScore
			if err := rows.Scan(
				&ms.ID, &ms.Content, &ms.Metadata, &ms.ImportanceScore,
				&ms.UserID, &ms.ConversationID, &ms.CreatedAt, &ms.LastAccessed, &ms.AccessCount,
				&ms.Similarity,
			); err != nil {
				return fmt.Errorf("scan query row: %w", err)
			}
			ms.Similarity = clampSimilarity(ms.Similarity)
			results = append(results, ms)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PgVectorProvider) Recent(ctx context.Context, k int, filters domain.QueryFilters) ([]domain.MemoryWithScore, error) {
	if k <= 0 {
		k = 10
	}

	var conditions []string
	var args []any

	conditions, args, err := appendFilterConditions(conditions, args, filters)
	if err != nil {
		return nil, err
	}

	limitParam := len(args) + 1
	args = append(args, k)

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(
		`SELECT id, content, metadata, importance_score, user_id, conversation_id, created_at, last_accessed, access_count
		 FROM memories
		 %s
		 ORDER BY created_at DESC
		 LIMIT $%d`,
		where, limitParam,
	)

	var results []domain.MemoryWithScore
	err = p.withRetry(ctx, func() error {
		rows, err := p.pool.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("recent query: %w", err)
		}
		defer rows.Close()

		results = results[:0]
		for rows.Next() {
			var ms domain.MemoryWithScore
			if err := rows.Scan(
				&ms.ID, &ms.Content, &ms.Metadata, &ms.ImportanceScore,
				&ms.UserID, &ms.ConversationID, &ms.CreatedAt, &ms.LastAccessed, &ms.AccessCount,
			); err != nil {
				return fmt.Errorf("scan recent row: %w", err)
			}
			ms.Similarity = 1
			results = append(results, ms)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PgVectorProvider) SupportsRecent() bool { return true }

func (p *PgVectorProvider) Get(ctx context.Context, id uuid.UUID) (*domain.Memory, error) {
	m := &domain.Memory{}
	var vec pgvector.Vector
	err := p.pool.QueryRow(ctx,
		`SELECT id, content, embedding, metadata, importance_score, user_id, conversation_id, created_at, last_accessed, access_count
		 FROM memories WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.Content, &vec, &m.Metadata, &m.ImportanceScore, &m.UserID, &m.ConversationID, &m.CreatedAt, &m.LastAccessed, &m.AccessCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get: %v", domain.ErrBackendUnavailable, err)
	}
	m.Embedding = vec.Slice()
	return m, nil
}

func (p *PgVectorProvider) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: delete: %v", domain.ErrBackendUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (p *PgVectorProvider) HealthCheck(ctx context.Context) (*domain.HealthStatus, error) {
	start := time.Now()
	var count int64
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memories`).Scan(&count); err != nil {
		return &domain.HealthStatus{
			Status:    domain.HealthDown,
			LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
			Details:   map[string]any{"error": err.Error()},
		}, nil
	}
	return &domain.HealthStatus{
		Status:    domain.HealthHealthy,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
		ItemCount: count,
	}, nil
}

func (p *PgVectorProvider) Stats(ctx context.Context) (domain.ProviderStats, error) {
	var count int64
	var tableBytes int64
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*), pg_total_relation_size('memories') FROM memories`,
	).Scan(&count, &tableBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: stats: %v", domain.ErrBackendUnavailable, err)
	}
	pstat := p.pool.Stat()
	return domain.ProviderStats{
		"memory_count":  count,
		"table_bytes":   tableBytes,
		"pool_total":    pstat.TotalConns(),
		"pool_idle":     pstat.IdleConns(),
		"pool_max":      pstat.MaxConns(),
		"embedding_dim": p.dim,
	}, nil
}

// TouchAccess bumps last_accessed and access_count for the given memories.
// Called from the background touch worker, never on the request path.
func (p *PgVectorProvider) TouchAccess(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx,
		`UPDATE memories
		 SET access_count = access_count + 1, last_accessed = NOW()
		 WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("touch access: %w", err)
	}
	return nil
}

// appendFilterConditions pushes the supported filters down as SQL predicates.
// Metadata filters use JSONB containment against the GIN index.
func appendFilterConditions(conditions []string, args []any, filters domain.QueryFilters) ([]string, []any, error) {
	if filters.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)+1))
		args = append(args, filters.UserID)
	}
	if filters.ConversationID != "" {
		conditions = append(conditions, fmt.Sprintf("conversation_id = $%d", len(args)+1))
		args = append(args, filters.ConversationID)
	}
	if len(filters.Metadata) > 0 {
		blob, err := json.Marshal(filters.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: marshal metadata filter: %v", domain.ErrInvalidInput, err)
		}
		conditions = append(conditions, fmt.Sprintf("metadata @> $%d::jsonb", len(args)+1))
		args = append(args, string(blob))
	}
	return conditions, args, nil
}

// withRetry runs op up to retryAttempts+1 times with jittered backoff.
// Context cancellation aborts immediately; exhaustion surfaces as
// BackendUnavailable.
func (p *PgVectorProvider) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt <= retryAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrInvalidInput) || ctx.Err() != nil {
			return err
		}
		if attempt < retryAttempts {
			delay := retryBaseDelay*time.Duration(attempt+1) + time.Duration(rand.Int63n(int64(retryBaseDelay)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, ctx.Err())
			}
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
}

func clampSimilarity(s float32) float32 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
