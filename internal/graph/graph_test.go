package graph

import (
	"testing"

	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/adm"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/domain"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/extraction"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Acme", "acme"},
		{"ACME", "acme"},
		{"Acme Inc", "acme"},
		{"Acme Inc.", "acme"},
		{"Acme  Corp", "acme"},
		{"Globex Corporation", "globex"},
		{"New York", "new york"},
		{"state-of-the-art", "state-of-the-art"},
		{"O'Brien", "o brien"},
		// A bare suffix word is a name, not a suffix.
		{"Inc", "inc"},
		{"", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Normalize(tc.in), "input %q", tc.in)
	}
}

func TestNormalizeCacheStable(t *testing.T) {
	first := Normalize("Widget Systems LLC")
	second := Normalize("Widget Systems LLC")
	require.Equal(t, first, second)
}

func findEdge(edges []inferredEdge, from, to string, relType domain.RelationshipType) *inferredEdge {
	for i := range edges {
		e := &edges[i]
		if e.fromKey == from && e.toKey == to && e.relType == relType {
			return e
		}
	}
	return nil
}

func testScorer() *adm.Scorer {
	return adm.NewScorer(adm.DefaultWeights(), 0.2)
}

func TestInferEdgesFromCoOccurrence(t *testing.T) {
	content := "Alice works at Acme. Acme uses Python."
	mentions := extraction.NewExtractor().Extract(content)
	require.NotEmpty(t, mentions)

	edges := inferEdges(content, mentions, 240, testScorer().ScoreRelationship, 0.3)

	worksFor := findEdge(edges, "alice", "acme", domain.RelWorksFor)
	require.NotNil(t, worksFor, "expected alice -WORKS_FOR-> acme")
	require.Greater(t, worksFor.strength, 0.3)
	require.LessOrEqual(t, worksFor.strength, 1.0)

	uses := findEdge(edges, "acme", "python", domain.RelUses)
	require.NotNil(t, uses, "expected acme -USES-> python")
}

func TestInferEdgesNoSelfEdges(t *testing.T) {
	content := "Acme praised Acme."
	mentions := extraction.NewExtractor().Extract(content)

	edges := inferEdges(content, mentions, 240, testScorer().ScoreRelationship, 0)
	for _, e := range edges {
		require.NotEqual(t, e.fromKey, e.toKey)
	}
}

func TestInferEdgesRespectsWindow(t *testing.T) {
	content := "Alice works at Acme. Acme uses Python."
	mentions := extraction.NewExtractor().Extract(content)

	// A window of 1 character excludes every pair in this sentence.
	edges := inferEdges(content, mentions, 1, testScorer().ScoreRelationship, 0)
	require.Empty(t, edges)
}

func TestInferEdgesMinStrengthFloor(t *testing.T) {
	content := "Alice works at Acme."
	mentions := extraction.NewExtractor().Extract(content)

	edges := inferEdges(content, mentions, 240, testScorer().ScoreRelationship, 1.0)
	require.Empty(t, edges)
}

func TestInferEdgesDeduplicates(t *testing.T) {
	content := "Alice met Bob. Alice met Bob."
	mentions := extraction.NewExtractor().Extract(content)

	edges := inferEdges(content, mentions, 240, testScorer().ScoreRelationship, 0)
	seen := make(map[[3]string]int)
	for _, e := range edges {
		seen[[3]string{e.fromKey, e.toKey, string(e.relType)}]++
	}
	for key, n := range seen {
		require.Equal(t, 1, n, "duplicate edge %v", key)
	}
}

func TestInferEdgesDecaysWithDistance(t *testing.T) {
	near := "Alice joined Acme."
	nearMentions := extraction.NewExtractor().Extract(near)
	nearEdges := inferEdges(near, nearMentions, 240, testScorer().ScoreRelationship, 0)
	require.NotEmpty(t, nearEdges)

	far := "Alice spent the whole quarter heads down on migration work, pairing sessions, and incident reviews before finally joining Acme."
	farMentions := extraction.NewExtractor().Extract(far)
	farEdges := inferEdges(far, farMentions, 240, testScorer().ScoreRelationship, 0)
	require.NotEmpty(t, farEdges)

	nearEdge := findEdge(nearEdges, "alice", "acme", domain.RelRelatesTo)
	if nearEdge == nil {
		// The connective "joined" may classify differently; fall back to any
		// alice->acme edge.
		for i := range nearEdges {
			if nearEdges[i].fromKey == "alice" && nearEdges[i].toKey == "acme" {
				nearEdge = &nearEdges[i]
				break
			}
		}
	}
	var farEdge *inferredEdge
	for i := range farEdges {
		if farEdges[i].fromKey == "alice" && farEdges[i].toKey == "acme" {
			farEdge = &farEdges[i]
			break
		}
	}
	require.NotNil(t, nearEdge)
	require.NotNil(t, farEdge)
	require.Greater(t, nearEdge.strength, farEdge.strength)
}

func TestInferEdgesCarriesEndpointTypes(t *testing.T) {
	content := "Alice works at Acme."
	mentions := extraction.NewExtractor().Extract(content)

	edges := inferEdges(content, mentions, 240, testScorer().ScoreRelationship, 0)
	e := findEdge(edges, "alice", "acme", domain.RelWorksFor)
	require.NotNil(t, e)
	require.Equal(t, domain.EntityPerson, e.fromType)
	require.Equal(t, domain.EntityOrganization, e.toType)
}

func TestEdgeCandidatesRequireNewMentions(t *testing.T) {
	p := NewProvider(Config{Window: 240, MinStrength: 0.3}, testScorer(), nil, nil)
	content := "Alice works at Acme."
	extracted := []domain.ExtractedRelationship{
		{FromSurface: "Alice", ToSurface: "Acme", Type: domain.RelWorksFor, Confidence: 0.9},
	}

	// Every mention already known: the memory was ingested before, so
	// reprocessing must not reinforce any edge.
	require.Empty(t, p.edgeCandidates(content, nil, extracted))

	mentions := extraction.NewExtractor().Extract(content)
	edges := p.edgeCandidates(content, mentions, extracted)
	require.NotNil(t, findEdge(edges, "alice", "acme", domain.RelWorksFor))
}

func TestNodeIndexSeparatesTypes(t *testing.T) {
	ix := newNodeIndex()
	orgID := uuid.New()
	productID := uuid.New()
	ix.add(nodeKey{domain.EntityOrganization, "apple"}, orgID)
	ix.add(nodeKey{domain.EntityProduct, "apple"}, productID)

	id, ok := ix.lookup(nodeKey{domain.EntityOrganization, "apple"})
	require.True(t, ok)
	require.Equal(t, orgID, id)

	id, ok = ix.lookup(nodeKey{domain.EntityProduct, "apple"})
	require.True(t, ok)
	require.Equal(t, productID, id)

	// Typed resolution picks the matching node, not whichever came first.
	id, ok = ix.resolve("apple", domain.EntityProduct)
	require.True(t, ok)
	require.Equal(t, productID, id)

	// Surface-only candidates fall back to the first node under that name.
	id, ok = ix.resolve("apple", "")
	require.True(t, ok)
	require.Equal(t, orgID, id)

	_, ok = ix.resolve("banana", domain.EntityProduct)
	require.False(t, ok)
}

func TestEntityImportanceFollowsScorer(t *testing.T) {
	p := NewProvider(Config{Window: 240, MinStrength: 0.3}, testScorer(), nil, nil)
	m := &domain.Memory{
		Content:   "Acme decided to migrate the billing system to Postgres because the old store kept losing writes.",
		Embedding: []float32{0.1, 0.4, 0.2, 0.8, 0.3, 0.5, 0.7, 0.6},
	}

	got := p.entityImportance(m)
	require.GreaterOrEqual(t, got, 0.0)
	require.LessOrEqual(t, got, 1.0)
	require.Equal(t, testScorer().ScoreMemory(m.Content, m.Embedding), got)
}

func TestTallyMentionsCountsDuplicates(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	counts := tallyMentions([]uuid.UUID{a, b, a, a})
	require.Equal(t, 3, counts[a])
	require.Equal(t, 1, counts[b])
	require.Empty(t, tallyMentions(nil))
}

func TestDedupEdgesKeepsFirstSighting(t *testing.T) {
	e1 := domain.GraphRelationship{ID: uuid.New()}
	e2 := domain.GraphRelationship{ID: uuid.New()}
	seen := make(map[uuid.UUID]bool)

	out := dedupEdges(seen, []domain.GraphRelationship{e1, e2, e1})
	require.Len(t, out, 2)

	// A later round returning the same edges contributes nothing new.
	out = dedupEdges(seen, []domain.GraphRelationship{e2, e1})
	require.Empty(t, out)
}

func TestProviderDisabled(t *testing.T) {
	p := NewProvider(Config{Enabled: false}, testScorer(), nil, nil)
	require.False(t, p.Enabled())

	err := p.Ingest(t.Context(), &domain.Memory{Content: "Alice works at Acme."})
	require.ErrorIs(t, err, domain.ErrGraphDisabled)

	_, err = p.Explore(t.Context(), "acme", 2, 10)
	require.ErrorIs(t, err, domain.ErrGraphDisabled)

	_, err = p.Stats(t.Context())
	require.ErrorIs(t, err, domain.ErrGraphDisabled)
}
