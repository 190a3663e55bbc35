// Package adm implements the Automated-Decision-Making scorer: a composite
// importance score built from data quality, data relevance, and data
// intelligence sub-scores. Scoring is deterministic for a fixed
// (content, context, weights) triple.
package adm

import (
	"math"
	"strings"
	"unicode"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Weights is the (quality, relevance, intelligence) profile. The scorer
// normalizes weights to sum to 1.
type Weights struct {
	Quality      float64
	Relevance    float64
	Intelligence float64
}

func DefaultWeights() Weights {
	return Weights{Quality: 0.3, Relevance: 0.4, Intelligence: 0.3}
}

func (w Weights) normalized() Weights {
	sum := w.Quality + w.Relevance + w.Intelligence
	if sum <= 0 {
		return DefaultWeights()
	}
	return Weights{w.Quality / sum, w.Relevance / sum, w.Intelligence / sum}
}

// contextSampleSize bounds the rolling sample of recent memory embeddings
// used for the relevance sub-score.
const contextSampleSize = 64

type Scorer struct {
	weights    Weights
	minQuality float64
	sample     *lru.Cache[uuid.UUID, []float32]
}

func NewScorer(w Weights, minQuality float64) *Scorer {
	sample, _ := lru.New[uuid.UUID, []float32](contextSampleSize)
	return &Scorer{
		weights:    w.normalized(),
		minQuality: minQuality,
		sample:     sample,
	}
}

// Observe records a memory embedding into the rolling context sample.
func (s *Scorer) Observe(id uuid.UUID, embedding []float32) {
	if len(embedding) == 0 {
		return
	}
	s.sample.Add(id, embedding)
}

// Forget drops a deleted memory from the rolling sample.
func (s *Scorer) Forget(id uuid.UUID) {
	s.sample.Remove(id)
}

// ContextSample returns a snapshot of the rolling sample embeddings.
func (s *Scorer) ContextSample() [][]float32 {
	keys := s.sample.Keys()
	out := make([][]float32, 0, len(keys))
	for _, k := range keys {
		if v, ok := s.sample.Peek(k); ok {
			out = append(out, v)
		}
	}
	return out
}

// ScoreMemory scores content against the current rolling sample.
func (s *Scorer) ScoreMemory(content string, embedding []float32) float64 {
	return s.Score(content, embedding, s.ContextSample())
}

// Score composes the three sub-scores under the configured weights.
func (s *Scorer) Score(content string, embedding []float32, context [][]float32) float64 {
	dq := Quality(content)
	dr := Relevance(embedding, context)
	di := Intelligence(content)
	return clamp(s.weights.Quality*dq + s.weights.Relevance*dr + s.weights.Intelligence*di)
}

// LowQuality reports whether a score falls under the configured floor.
// Low-quality memories are still stored, only flagged.
func (s *Scorer) LowQuality(score float64) bool {
	return score < s.minQuality
}

// ScoreRelationship adjusts a raw co-occurrence strength by the composite of
// the endpoint surfaces and the connective text between them. The result
// never exceeds the raw strength; the modifier floor is 0.5 so reasonable
// edges survive the min-strength threshold.
func (s *Scorer) ScoreRelationship(raw float64, fromSurface, toSurface, between string) float64 {
	dq := Quality(fromSurface + " " + toSurface)
	di := Intelligence(between)
	composite := s.weights.Quality*dq + s.weights.Relevance*0.5 + s.weights.Intelligence*di
	return clamp(raw * (0.5 + 0.5*composite))
}

// Quality is the DQ sub-score: a pure function of content shape.
func Quality(content string) float64 {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return 0
	}

	runes := []rune(trimmed)
	n := len(runes)

	// Length within sane bounds: too short and too long are penalized.
	var length float64
	switch {
	case n <= 2000:
		length = math.Min(float64(n)/40, 1)
	default:
		length = math.Max(0, 1-float64(n-2000)/8000)
	}

	// Token diversity: unique-token ratio over casefolded tokens.
	tokens := strings.Fields(strings.ToLower(trimmed))
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		seen[t] = struct{}{}
	}
	diversity := float64(len(seen)) / float64(len(tokens))

	// Structure: share of letters and digits among all runes.
	var printable int
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			printable++
		}
	}
	structure := float64(printable) / float64(n)

	score := 0.4*length + 0.35*diversity + 0.25*structure
	if hasNoiseMarkers(trimmed) {
		score *= 0.5
	}
	return clamp(score)
}

// hasNoiseMarkers flags replacement characters and long single-character runs.
func hasNoiseMarkers(s string) bool {
	if strings.ContainsRune(s, '�') {
		return true
	}
	run := 1
	var prev rune
	for i, r := range s {
		if i > 0 && r == prev && !unicode.IsSpace(r) {
			run++
			if run >= 5 {
				return true
			}
		} else {
			run = 1
		}
		prev = r
	}
	return false
}

// Relevance is the DR sub-score: maximum cosine similarity against the
// context sample. Empty context is neutral (0.5).
func Relevance(embedding []float32, context [][]float32) float64 {
	if len(context) == 0 || len(embedding) == 0 {
		return 0.5
	}
	best := 0.0
	for _, c := range context {
		if sim := CosineSimilarity(embedding, c); sim > best {
			best = sim
		}
	}
	return clamp(best)
}

// Intelligence is the DI sub-score: a heuristic estimate of information
// density from entity-like tokens, numerals, proper-noun ratio, and mean
// sentence length through a sigmoid.
func Intelligence(content string) float64 {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return 0
	}

	tokens := strings.Fields(trimmed)
	var capitalized, numeric int
	for _, t := range tokens {
		r := []rune(t)
		if unicode.IsUpper(r[0]) && len(r) > 1 {
			capitalized++
		}
		if strings.ContainsFunc(t, unicode.IsDigit) {
			numeric++
		}
	}

	entities := math.Min(float64(capitalized)/5, 1)
	numerals := math.Min(float64(numeric)/3, 1)
	properRatio := float64(capitalized) / float64(len(tokens))

	sentences := strings.FieldsFunc(trimmed, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	var words int
	var count int
	for _, s := range sentences {
		if f := strings.Fields(s); len(f) > 0 {
			words += len(f)
			count++
		}
	}
	var meanLen float64
	if count > 0 {
		meanLen = float64(words) / float64(count)
	}
	sentenceScore := 1 / (1 + math.Exp(-(meanLen-12)/6))

	return clamp(0.35*entities + 0.25*numerals + 0.2*properRatio + 0.2*sentenceScore)
}

// CosineSimilarity returns 1 - cosine distance, clamped to [0,1]. Zero-norm
// inputs yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return clamp(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
