package domain

import (
	"time"

	"github.com/google/uuid"
)

// Memory is the atomic unit of long-term storage. Content is immutable after
// creation; metadata and importance_score may be rewritten.
type Memory struct {
	ID              uuid.UUID      `json:"id"`
	Content         string         `json:"content"`
	Embedding       []float32      `json:"-"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ImportanceScore float64        `json:"importance_score"`
	UserID          string         `json:"user_id,omitempty"`
	ConversationID  string         `json:"conversation_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	LastAccessed    *time.Time     `json:"last_accessed,omitempty"`
	AccessCount     int            `json:"access_count"`
}

// MemoryWithScore pairs a memory with its cosine similarity to a query,
// clamped to [0,1].
type MemoryWithScore struct {
	Memory
	Similarity float32 `json:"similarity"`
}

// QueryFilters are pushed down to providers where the backend supports them
// and applied as post-filters otherwise.
type QueryFilters struct {
	Metadata       map[string]any
	UserID         string
	ConversationID string
}

// Empty reports whether no filter is set.
func (f QueryFilters) Empty() bool {
	return len(f.Metadata) == 0 && f.UserID == "" && f.ConversationID == ""
}

// Matches applies the filters in-process. Metadata values are compared by
// their JSON-decoded representations.
func (f QueryFilters) Matches(m *Memory) bool {
	if f.UserID != "" && m.UserID != f.UserID {
		return false
	}
	if f.ConversationID != "" && m.ConversationID != f.ConversationID {
		return false
	}
	for k, want := range f.Metadata {
		got, ok := m.Metadata[k]
		if !ok || !looseEqual(got, want) {
			return false
		}
	}
	return true
}

// looseEqual compares metadata values across the numeric widenings JSON
// decoding introduces (all numbers decode as float64).
func looseEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
