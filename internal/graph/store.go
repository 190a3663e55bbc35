package graph

import (
	"context"
	"fmt"

	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func (p *Provider) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS graph_nodes (
			id UUID PRIMARY KEY,
			entity_type TEXT NOT NULL,
			entity_name TEXT NOT NULL,
			normalized_name TEXT NOT NULL,
			importance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			mention_count INT NOT NULL DEFAULT 0,
			first_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (entity_type, normalized_name)
		)`,
		`CREATE INDEX IF NOT EXISTS graph_nodes_normalized_idx ON graph_nodes (normalized_name)`,
		`CREATE TABLE IF NOT EXISTS graph_relationships (
			id UUID PRIMARY KEY,
			from_id UUID NOT NULL REFERENCES graph_nodes(id) ON DELETE CASCADE,
			to_id UUID NOT NULL REFERENCES graph_nodes(id) ON DELETE CASCADE,
			relationship_type TEXT NOT NULL,
			strength DOUBLE PRECISION NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			occurrence_count INT NOT NULL DEFAULT 1,
			first_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (from_id, to_id, relationship_type)
		)`,
		`CREATE INDEX IF NOT EXISTS graph_relationships_from_idx ON graph_relationships (from_id)`,
		`CREATE INDEX IF NOT EXISTS graph_relationships_to_idx ON graph_relationships (to_id)`,
		`CREATE TABLE IF NOT EXISTS memory_entity_map (
			memory_id UUID NOT NULL,
			entity_id UUID NOT NULL REFERENCES graph_nodes(id) ON DELETE CASCADE,
			char_start INT NOT NULL,
			char_end INT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			UNIQUE (memory_id, entity_id, char_start)
		)`,
		`CREATE INDEX IF NOT EXISTS memory_entity_map_memory_idx ON memory_entity_map (memory_id)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure graph schema: %w", err)
		}
	}
	return nil
}

// upsertNode creates or refreshes the node for a normalized entity. The
// original entity_name is kept from the first sighting; last_seen refreshes
// on every sighting and importance keeps the high-water mark of the scores
// of the memories mentioning it.
func (p *Provider) upsertNode(ctx context.Context, tx pgx.Tx, mention domain.Mention, normalized string, importance float64) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRow(ctx,
		`INSERT INTO graph_nodes (id, entity_type, entity_name, normalized_name, importance_score, mention_count)
		 VALUES ($1, $2, $3, $4, $5, 0)
		 ON CONFLICT (entity_type, normalized_name) DO UPDATE
		 SET last_seen = NOW(),
		     importance_score = GREATEST(graph_nodes.importance_score, EXCLUDED.importance_score)
		 RETURNING id`,
		uuid.New(), mention.EntityType, mention.Surface, normalized, importance,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: upsert node %q: %v", domain.ErrBackendUnavailable, normalized, err)
	}
	return id, nil
}

// insertMention records one occurrence. The (memory_id, entity_id,
// char_start) uniqueness makes re-ingest a no-op; the caller bumps counts
// only when the row is new.
func (p *Provider) insertMention(ctx context.Context, tx pgx.Tx, memoryID, nodeID uuid.UUID, mention domain.Mention) (bool, error) {
	tag, err := tx.Exec(ctx,
		`INSERT INTO memory_entity_map (memory_id, entity_id, char_start, char_end, confidence)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (memory_id, entity_id, char_start) DO NOTHING`,
		memoryID, nodeID, mention.CharStart, mention.CharEnd, mention.Confidence,
	)
	if err != nil {
		return false, fmt.Errorf("%w: insert mention: %v", domain.ErrBackendUnavailable, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Provider) bumpMentionCount(ctx context.Context, tx pgx.Tx, nodeID uuid.UUID) error {
	_, err := tx.Exec(ctx,
		`UPDATE graph_nodes SET mention_count = mention_count + 1 WHERE id = $1`, nodeID)
	if err != nil {
		return fmt.Errorf("%w: bump mention count: %v", domain.ErrBackendUnavailable, err)
	}
	return nil
}

// upsertEdge creates or reinforces a directed relationship. Repeat
// observations bump occurrence_count and keep the strongest strength seen.
func (p *Provider) upsertEdge(ctx context.Context, tx pgx.Tx, fromID, toID uuid.UUID, e inferredEdge) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO graph_relationships (id, from_id, to_id, relationship_type, strength, confidence)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (from_id, to_id, relationship_type) DO UPDATE
		 SET occurrence_count = graph_relationships.occurrence_count + 1,
		     strength = GREATEST(graph_relationships.strength, EXCLUDED.strength),
		     confidence = GREATEST(graph_relationships.confidence, EXCLUDED.confidence),
		     last_seen = NOW()`,
		uuid.New(), fromID, toID, e.relType, e.strength, e.confidence,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert edge: %v", domain.ErrBackendUnavailable, err)
	}
	return nil
}

// deleteMemoryRows removes a memory's mentions, then prunes nodes that lost
// their last mention. Edge rows follow through the FK cascade.
func (p *Provider) deleteMemoryRows(ctx context.Context, pool *pgxpool.Pool, memoryID uuid.UUID) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin graph delete: %v", domain.ErrBackendUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`DELETE FROM memory_entity_map WHERE memory_id = $1 RETURNING entity_id`, memoryID)
	if err != nil {
		return fmt.Errorf("%w: delete mentions: %v", domain.ErrBackendUnavailable, err)
	}
	var deleted []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("%w: scan deleted mention: %v", domain.ErrBackendUnavailable, err)
		}
		deleted = append(deleted, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: delete mentions: %v", domain.ErrBackendUnavailable, err)
	}

	// An entity mentioned at several spans loses that many rows; the counter
	// has to drop by the same amount.
	removed := tallyMentions(deleted)
	if len(removed) > 0 {
		touched := make([]uuid.UUID, 0, len(removed))
		for id, n := range removed {
			touched = append(touched, id)
			_, err = tx.Exec(ctx,
				`UPDATE graph_nodes SET mention_count = GREATEST(mention_count - $2, 0) WHERE id = $1`,
				id, n)
			if err != nil {
				return fmt.Errorf("%w: decay mention counts: %v", domain.ErrBackendUnavailable, err)
			}
		}
		_, err = tx.Exec(ctx,
			`DELETE FROM graph_nodes
			 WHERE id = ANY($1)
			   AND mention_count = 0
			   AND NOT EXISTS (SELECT 1 FROM memory_entity_map WHERE entity_id = graph_nodes.id)`,
			touched)
		if err != nil {
			return fmt.Errorf("%w: prune orphan nodes: %v", domain.ErrBackendUnavailable, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit graph delete: %v", domain.ErrBackendUnavailable, err)
	}
	return nil
}

// tallyMentions counts deleted mention rows per entity.
func tallyMentions(ids []uuid.UUID) map[uuid.UUID]int {
	out := make(map[uuid.UUID]int, len(ids))
	for _, id := range ids {
		out[id]++
	}
	return out
}
