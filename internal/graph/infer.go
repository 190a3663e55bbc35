package graph

import (
	"math"

	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/domain"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/extraction"
)

// inferredEdge is a relationship candidate between two normalized entities,
// before node resolution.
type inferredEdge struct {
	fromKey    string
	toKey      string
	fromType   domain.EntityType
	toType     domain.EntityType
	relType    domain.RelationshipType
	strength   float64
	confidence float64
}

// strengthFn adjusts a raw co-occurrence strength given the endpoint
// surfaces and the connective text between them.
type strengthFn func(raw float64, fromSurface, toSurface, between string) float64

// inferEdges derives relationship candidates from mention pairs inside a
// sliding character window. Raw strength decays exponentially with the gap
// between the mentions and is damped by both mention confidences; candidates
// below minStrength are discarded. Duplicate (from, to, type) triples within
// one pass keep the strongest candidate.
func inferEdges(content string, mentions []domain.Mention, window int, adjust strengthFn, minStrength float64) []inferredEdge {
	if window <= 0 || len(mentions) < 2 {
		return nil
	}

	best := make(map[[3]string]inferredEdge)
	for i := 0; i < len(mentions); i++ {
		for j := i + 1; j < len(mentions); j++ {
			from, to := mentions[i], mentions[j]

			gap := to.CharStart - from.CharEnd
			if gap < 0 {
				gap = 0
			}
			if gap > window {
				break
			}

			fromKey := Normalize(from.Surface)
			toKey := Normalize(to.Surface)
			if fromKey == "" || toKey == "" || fromKey == toKey {
				continue
			}

			between := ""
			if from.CharEnd < to.CharStart && to.CharStart <= len(content) {
				between = content[from.CharEnd:to.CharStart]
			}

			raw := math.Exp(-float64(gap)/float64(window)) * from.Confidence * to.Confidence
			strength := adjust(raw, from.Surface, to.Surface, between)
			if strength < minStrength {
				continue
			}

			relType := extraction.RelationTypeFor(from.EntityType, to.EntityType, between)
			key := [3]string{fromKey, toKey, string(relType)}
			if prev, ok := best[key]; !ok || strength > prev.strength {
				best[key] = inferredEdge{
					fromKey:    fromKey,
					toKey:      toKey,
					fromType:   from.EntityType,
					toType:     to.EntityType,
					relType:    relType,
					strength:   strength,
					confidence: math.Min(from.Confidence, to.Confidence),
				}
			}
		}
	}

	out := make([]inferredEdge, 0, len(best))
	for _, e := range best {
		out = append(out, e)
	}
	return out
}
