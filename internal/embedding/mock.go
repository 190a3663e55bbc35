package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// MockClient produces deterministic pseudo-embeddings derived from the input
// text. Same text always yields the same vector, so similarity comparisons in
// tests and local runs are stable.
type MockClient struct {
	dim int

	// Call tracking for assertions
	EmbedCalls []string
	EmbedError error
}

func NewMockClient(dim int) *MockClient {
	return &MockClient{dim: dim}
}

func (c *MockClient) Dimension() int {
	return c.dim
}

func (c *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	c.EmbedCalls = append(c.EmbedCalls, text)
	if c.EmbedError != nil {
		return nil, c.EmbedError
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	// xorshift over the text hash; values land in [-1, 1)
	vec := make([]float32, c.dim)
	state := seed | 1
	for i := range vec {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		vec[i] = float32(state%2000)/1000 - 1
	}

	// Normalize to unit length so cosine scores behave like real embeddings
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}
