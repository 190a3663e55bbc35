package adm

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestScoreDeterministic(t *testing.T) {
	s := NewScorer(DefaultWeights(), 0.2)
	content := "Alice works at Acme. Acme uses Python and ships 3 releases a year."
	emb := []float32{0.1, 0.2, 0.3}
	ctx := [][]float32{{0.1, 0.2, 0.3}, {0.9, -0.1, 0.0}}

	first := s.Score(content, emb, ctx)
	for i := 0; i < 10; i++ {
		require.InDelta(t, first, s.Score(content, emb, ctx), 1e-6)
	}
}

func TestScoreRange(t *testing.T) {
	s := NewScorer(DefaultWeights(), 0.2)
	contents := []string{
		"",
		"x",
		"A perfectly ordinary sentence about nothing in particular.",
		"Kubernetes orchestrates containers across 500 nodes at CERN.",
	}
	for _, c := range contents {
		score := s.Score(c, nil, nil)
		require.GreaterOrEqual(t, score, 0.0, "content %q", c)
		require.LessOrEqual(t, score, 1.0, "content %q", c)
	}
}

func TestRelevanceNeutralWithoutContext(t *testing.T) {
	require.Equal(t, 0.5, Relevance([]float32{1, 0}, nil))
	require.Equal(t, 0.5, Relevance(nil, [][]float32{{1, 0}}))
}

func TestRelevanceMaxSimilarity(t *testing.T) {
	emb := []float32{1, 0, 0}
	ctx := [][]float32{
		{0, 1, 0},       // orthogonal
		{1, 0, 0},       // identical
		{0.5, 0.5, 0},   // partial
	}
	require.InDelta(t, 1.0, Relevance(emb, ctx), 1e-9)
}

func TestQualityPenalizesExtremes(t *testing.T) {
	short := Quality("hi")
	normal := Quality("The deployment pipeline promotes builds from staging to production after the smoke tests pass.")
	require.Greater(t, normal, short)

	noisy := Quality("aaaaaaaaaaaaaaaaaaaa")
	require.Greater(t, normal, noisy)
}

func TestQualityPureAndStable(t *testing.T) {
	c := "Postgres 16 with pgvector handles our similarity workload."
	require.Equal(t, Quality(c), Quality(c))
}

func TestIntelligenceRewardsDensity(t *testing.T) {
	sparse := Intelligence("okay sure fine whatever")
	dense := Intelligence("Dr. Chen presented the Q3 results: Acme grew 42% after adopting Kubernetes in Berlin.")
	require.Greater(t, dense, sparse)
}

func TestCosineSimilarityClamped(t *testing.T) {
	require.InDelta(t, 1.0, CosineSimilarity([]float32{1, 1}, []float32{2, 2}), 1e-9)
	// Opposite vectors clamp to 0 rather than going negative.
	require.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}))
	require.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	require.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 0}))
}

func TestWeightsNormalized(t *testing.T) {
	// Double-scale weights should produce the same score as the default
	// profile once normalized.
	a := NewScorer(Weights{Quality: 0.6, Relevance: 0.8, Intelligence: 0.6}, 0.2)
	b := NewScorer(DefaultWeights(), 0.2)
	c := "Acme migrated its billing service to Go last quarter."
	require.InDelta(t, b.Score(c, nil, nil), a.Score(c, nil, nil), 1e-9)
}

func TestRollingSampleObserveForget(t *testing.T) {
	s := NewScorer(DefaultWeights(), 0.2)
	id := uuid.New()
	s.Observe(id, []float32{1, 0})
	require.Len(t, s.ContextSample(), 1)

	s.Forget(id)
	require.Empty(t, s.ContextSample())
}

func TestScoreRelationshipBounded(t *testing.T) {
	s := NewScorer(DefaultWeights(), 0.2)
	got := s.ScoreRelationship(0.64, "Alice", "Acme", " works at ")
	require.Greater(t, got, 0.3)
	require.LessOrEqual(t, got, 0.64)

	// The modifier never raises a zero base.
	require.Equal(t, 0.0, s.ScoreRelationship(0, "Alice", "Acme", " works at "))
}

func TestLowQualityThreshold(t *testing.T) {
	s := NewScorer(DefaultWeights(), 0.2)
	require.True(t, s.LowQuality(0.1))
	require.False(t, s.LowQuality(0.2))
}
