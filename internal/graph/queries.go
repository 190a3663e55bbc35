package graph

import (
	"container/heap"
	"context"
	"errors"
	"fmt"

	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	defaultExploreNodes = 100
	maxExploreNodes     = 200
)

// Explore returns the subgraph reachable from the named entity via
// breadth-first expansion, strongest edges first, bounded by depth and node
// count.
func (p *Provider) Explore(ctx context.Context, entityName string, maxDepth, maxNodes int) (*domain.Subgraph, error) {
	pool, err := p.getPool(ctx)
	if err != nil {
		return nil, err
	}

	if !domain.ValidEntityName(entityName) {
		return nil, fmt.Errorf("%w: invalid entity name", domain.ErrInvalidInput)
	}
	if maxDepth <= 0 {
		maxDepth = 1
	}
	if maxDepth > domain.MaxTraversalDepth {
		return nil, fmt.Errorf("%w: max_depth exceeds %d", domain.ErrInvalidInput, domain.MaxTraversalDepth)
	}
	if maxNodes <= 0 {
		maxNodes = defaultExploreNodes
	}
	if maxNodes > maxExploreNodes {
		maxNodes = maxExploreNodes
	}

	root, err := p.resolveNode(ctx, entityName)
	if err != nil {
		return nil, err
	}

	sub := &domain.Subgraph{Root: root, Nodes: []domain.GraphNode{*root}}
	seen := map[uuid.UUID]bool{root.ID: true}
	seenEdges := make(map[uuid.UUID]bool)
	frontier := []uuid.UUID{root.ID}

	for depth := 0; depth < maxDepth && len(frontier) > 0 && len(sub.Nodes) < maxNodes; depth++ {
		edges, err := p.edgesTouching(ctx, pool.Query, frontier, maxNodes*2)
		if err != nil {
			return nil, err
		}

		var next []uuid.UUID
		// Edges touching both an old and a new frontier come back twice
		// across rounds; keep each once.
		for _, e := range dedupEdges(seenEdges, edges) {
			sub.Relationships = append(sub.Relationships, e)
			for _, id := range []uuid.UUID{e.FromID, e.ToID} {
				if seen[id] || len(sub.Nodes) >= maxNodes {
					continue
				}
				seen[id] = true
				next = append(next, id)
			}
		}

		if len(next) > 0 {
			nodes, err := p.nodesByID(ctx, next)
			if err != nil {
				return nil, err
			}
			sub.Nodes = append(sub.Nodes, nodes...)
		}
		frontier = next
	}
	return sub, nil
}

// dedupEdges filters edges already in seen, marking the rest as seen.
func dedupEdges(seen map[uuid.UUID]bool, edges []domain.GraphRelationship) []domain.GraphRelationship {
	out := edges[:0]
	for _, e := range edges {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		out = append(out, e)
	}
	return out
}

// pathItem is a priority-queue entry for Path.
type pathItem struct {
	nodeID uuid.UUID
	cost   float64
	depth  int
	index  int
}

type pathQueue []*pathItem

func (q pathQueue) Len() int { return len(q) }

func (q pathQueue) Less(i, j int) bool { return q[i].cost < q[j].cost }

func (q pathQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *pathQueue) Push(x any) {
	item := x.(*pathItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *pathQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// Path finds the cheapest walk between two entities, treating strong edges
// as cheap. Expansion is capped at maxDepth hops.
func (p *Provider) Path(ctx context.Context, fromName, toName string, maxDepth int) (*domain.GraphPath, error) {
	pool, err := p.getPool(ctx)
	if err != nil {
		return nil, err
	}

	if !domain.ValidEntityName(fromName) || !domain.ValidEntityName(toName) {
		return nil, fmt.Errorf("%w: invalid entity name", domain.ErrInvalidInput)
	}
	if maxDepth <= 0 {
		maxDepth = domain.MaxTraversalDepth
	}
	if maxDepth > domain.MaxTraversalDepth {
		return nil, fmt.Errorf("%w: max_depth exceeds %d", domain.ErrInvalidInput, domain.MaxTraversalDepth)
	}

	from, err := p.resolveNode(ctx, fromName)
	if err != nil {
		return nil, err
	}
	to, err := p.resolveNode(ctx, toName)
	if err != nil {
		return nil, err
	}
	if from.ID == to.ID {
		return &domain.GraphPath{Nodes: []domain.GraphNode{*from}}, nil
	}

	dist := map[uuid.UUID]float64{from.ID: 0}
	trail := make(map[uuid.UUID]cameFrom)

	q := &pathQueue{}
	heap.Init(q)
	heap.Push(q, &pathItem{nodeID: from.ID, cost: 0, depth: 0})

	for q.Len() > 0 {
		cur := heap.Pop(q).(*pathItem)
		if cur.nodeID == to.ID {
			return p.assemblePath(ctx, from.ID, to.ID, cur.cost, trail)
		}
		if cur.depth >= maxDepth || cur.cost > dist[cur.nodeID] {
			continue
		}

		edges, err := p.edgesTouching(ctx, pool.Query, []uuid.UUID{cur.nodeID}, 100)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			next := e.ToID
			if next == cur.nodeID {
				next = e.FromID
			}
			// Strong edges cost little; a floor keeps the cost positive.
			cost := cur.cost + (1.01 - e.Strength)
			if prev, seen := dist[next]; seen && cost >= prev {
				continue
			}
			dist[next] = cost
			trail[next] = cameFrom{prev: cur.nodeID, edge: e}
			heap.Push(q, &pathItem{nodeID: next, cost: cost, depth: cur.depth + 1})
		}
	}
	return nil, fmt.Errorf("%w: no path between %q and %q within %d hops",
		domain.ErrNotFound, fromName, toName, maxDepth)
}

// cameFrom records the predecessor step for path reconstruction.
type cameFrom struct {
	prev uuid.UUID
	edge domain.GraphRelationship
}

func (p *Provider) assemblePath(ctx context.Context, fromID, toID uuid.UUID, cost float64, trail map[uuid.UUID]cameFrom) (*domain.GraphPath, error) {
	var ids []uuid.UUID
	var edges []domain.GraphRelationship
	for cur := toID; ; {
		ids = append([]uuid.UUID{cur}, ids...)
		if cur == fromID {
			break
		}
		step, ok := trail[cur]
		if !ok {
			return nil, fmt.Errorf("%w: broken path trail", domain.ErrNotFound)
		}
		edges = append([]domain.GraphRelationship{step.edge}, edges...)
		cur = step.prev
	}

	nodes, err := p.nodesByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	// nodesByID returns arbitrary order; restore walk order.
	byID := make(map[uuid.UUID]domain.GraphNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	ordered := make([]domain.GraphNode, 0, len(ids))
	for _, id := range ids {
		if n, ok := byID[id]; ok {
			ordered = append(ordered, n)
		}
	}
	return &domain.GraphPath{Nodes: ordered, Edges: edges, Cost: cost}, nil
}

// Insights lists the entities a memory mentions and the strongest edges
// among them.
func (p *Provider) Insights(ctx context.Context, memoryID uuid.UUID) (*domain.MemoryInsights, error) {
	pool, err := p.getPool(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx,
		`SELECT n.id, n.entity_type, n.entity_name, n.importance_score, n.mention_count, n.first_seen, n.last_seen
		 FROM graph_nodes n
		 JOIN memory_entity_map m ON m.entity_id = n.id
		 WHERE m.memory_id = $1
		 GROUP BY n.id
		 ORDER BY n.mention_count DESC`,
		memoryID)
	if err != nil {
		return nil, fmt.Errorf("%w: memory insights: %v", domain.ErrBackendUnavailable, err)
	}
	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, err
	}

	insights := &domain.MemoryInsights{MemoryID: memoryID, Entities: nodes}
	if len(nodes) < 2 {
		return insights, nil
	}

	ids := make([]uuid.UUID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	erows, err := pool.Query(ctx,
		`SELECT id, from_id, to_id, relationship_type, strength, confidence, occurrence_count, first_seen, last_seen
		 FROM graph_relationships
		 WHERE from_id = ANY($1) AND to_id = ANY($1)
		 ORDER BY strength DESC
		 LIMIT 50`,
		ids)
	if err != nil {
		return nil, fmt.Errorf("%w: memory insights edges: %v", domain.ErrBackendUnavailable, err)
	}
	insights.Relationships, err = scanEdges(erows)
	if err != nil {
		return nil, err
	}
	return insights, nil
}

// Stats summarizes the graph shape.
func (p *Provider) Stats(ctx context.Context) (*domain.GraphStats, error) {
	pool, err := p.getPool(ctx)
	if err != nil {
		return nil, err
	}

	stats := &domain.GraphStats{
		NodeTypes: make(map[domain.EntityType]int64),
		EdgeTypes: make(map[domain.RelationshipType]int64),
	}

	rows, err := pool.Query(ctx,
		`SELECT entity_type, COUNT(*) FROM graph_nodes GROUP BY entity_type`)
	if err != nil {
		return nil, fmt.Errorf("%w: graph stats: %v", domain.ErrBackendUnavailable, err)
	}
	for rows.Next() {
		var t domain.EntityType
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: graph stats: %v", domain.ErrBackendUnavailable, err)
		}
		stats.NodeTypes[t] = n
		stats.NodeCount += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: graph stats: %v", domain.ErrBackendUnavailable, err)
	}

	rows, err = pool.Query(ctx,
		`SELECT relationship_type, COUNT(*) FROM graph_relationships GROUP BY relationship_type`)
	if err != nil {
		return nil, fmt.Errorf("%w: graph stats: %v", domain.ErrBackendUnavailable, err)
	}
	for rows.Next() {
		var t domain.RelationshipType
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: graph stats: %v", domain.ErrBackendUnavailable, err)
		}
		stats.EdgeTypes[t] = n
		stats.EdgeCount += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: graph stats: %v", domain.ErrBackendUnavailable, err)
	}

	if stats.NodeCount > 0 {
		stats.MeanDegree = 2 * float64(stats.EdgeCount) / float64(stats.NodeCount)
	}
	stats.Healthy = true
	return stats, nil
}

// resolveNode finds the best node for a user-supplied name: exact normalized
// match, most-mentioned first.
func (p *Provider) resolveNode(ctx context.Context, name string) (*domain.GraphNode, error) {
	n := &domain.GraphNode{}
	err := p.pool.QueryRow(ctx,
		`SELECT id, entity_type, entity_name, importance_score, mention_count, first_seen, last_seen
		 FROM graph_nodes
		 WHERE normalized_name = $1
		 ORDER BY mention_count DESC
		 LIMIT 1`,
		Normalize(name),
	).Scan(&n.ID, &n.EntityType, &n.EntityName, &n.ImportanceScore, &n.MentionCount, &n.FirstSeen, &n.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: entity %q", domain.ErrNotFound, name)
		}
		return nil, fmt.Errorf("%w: resolve node: %v", domain.ErrBackendUnavailable, err)
	}
	return n, nil
}

func (p *Provider) nodesByID(ctx context.Context, ids []uuid.UUID) ([]domain.GraphNode, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, entity_type, entity_name, importance_score, mention_count, first_seen, last_seen
		 FROM graph_nodes WHERE id = ANY($1)`,
		ids)
	if err != nil {
		return nil, fmt.Errorf("%w: load nodes: %v", domain.ErrBackendUnavailable, err)
	}
	return scanNodes(rows)
}

type queryFn func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)

// edgesTouching returns edges with either endpoint in ids, strongest first.
func (p *Provider) edgesTouching(ctx context.Context, query queryFn, ids []uuid.UUID, limit int) ([]domain.GraphRelationship, error) {
	rows, err := query(ctx,
		`SELECT id, from_id, to_id, relationship_type, strength, confidence, occurrence_count, first_seen, last_seen
		 FROM graph_relationships
		 WHERE from_id = ANY($1) OR to_id = ANY($1)
		 ORDER BY strength DESC
		 LIMIT $2`,
		ids, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: load edges: %v", domain.ErrBackendUnavailable, err)
	}
	return scanEdges(rows)
}

func scanNodes(rows pgx.Rows) ([]domain.GraphNode, error) {
	defer rows.Close()
	var nodes []domain.GraphNode
	for rows.Next() {
		var n domain.GraphNode
		if err := rows.Scan(&n.ID, &n.EntityType, &n.EntityName, &n.ImportanceScore, &n.MentionCount, &n.FirstSeen, &n.LastSeen); err != nil {
			return nil, fmt.Errorf("%w: scan node: %v", domain.ErrBackendUnavailable, err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan nodes: %v", domain.ErrBackendUnavailable, err)
	}
	return nodes, nil
}

func scanEdges(rows pgx.Rows) ([]domain.GraphRelationship, error) {
	defer rows.Close()
	var edges []domain.GraphRelationship
	for rows.Next() {
		var e domain.GraphRelationship
		if err := rows.Scan(&e.ID, &e.FromID, &e.ToID, &e.Type, &e.Strength, &e.Confidence, &e.OccurrenceCount, &e.FirstSeen, &e.LastSeen); err != nil {
			return nil, fmt.Errorf("%w: scan edge: %v", domain.ErrBackendUnavailable, err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan edges: %v", domain.ErrBackendUnavailable, err)
	}
	return edges, nil
}
