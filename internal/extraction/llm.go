package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/domain"
	"github.com/google/uuid"
)

const (
	openAIChatURL = "https://api.openai.com/v1/chat/completions"
	chatModel     = "gpt-4o-mini"
)

const batchExtractPrompt = `You are an entity extraction system. Analyze the numbered memories below and extract named entities and the relationships between them.

For each memory, report:
- entities: list of {"name", "type", "confidence"} where type is one of PERSON, ORGANIZATION, TECHNOLOGY, LOCATION, CONCEPT, EVENT, PRODUCT, OTHER
- relationships: list of {"from", "to", "type", "confidence"} where from/to are entity names from the same memory and type is one of WORKS_FOR, USES, PART_OF, MENTIONS, RELATES_TO, CAUSED_BY, LOCATED_IN

Respond ONLY with a JSON array, one object per memory, in input order:
[{"index":0,"entities":[...],"relationships":[...]}]

No markdown, no explanation.

Memories:
%s`

// OpenAIExtractor is the batch EntityExtractor backed by a chat model. The
// streaming regex extractor remains the fallback when no API key is
// configured.
type OpenAIExtractor struct {
	apiKey     string
	httpClient *http.Client
}

func NewOpenAIExtractor(apiKey string) *OpenAIExtractor {
	return &OpenAIExtractor{
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type batchEntity struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type batchRelationship struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type batchResult struct {
	Index         int                 `json:"index"`
	Entities      []batchEntity       `json:"entities"`
	Relationships []batchRelationship `json:"relationships"`
}

func (c *OpenAIExtractor) ExtractBatch(ctx context.Context, memories []domain.Memory) ([]domain.BatchExtraction, error) {
	if len(memories) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	for i, m := range memories {
		fmt.Fprintf(&sb, "%d. %s\n", i, m.Content)
	}

	raw, err := c.complete(ctx, []chatMessage{
		{Role: "user", Content: fmt.Sprintf(batchExtractPrompt, sb.String())},
	}, 0.1)
	if err != nil {
		return nil, fmt.Errorf("batch extract: %w", err)
	}

	// Strip markdown fences if present
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var results []batchResult
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		return nil, fmt.Errorf("parse batch extraction result: %w (raw: %s)", err, raw)
	}

	out := make([]domain.BatchExtraction, 0, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(memories) {
			continue
		}
		out = append(out, toBatchExtraction(memories[r.Index], r))
	}
	return out, nil
}

// toBatchExtraction converts model output into domain mentions, locating
// each entity's span in the original content where possible.
func toBatchExtraction(m domain.Memory, r batchResult) domain.BatchExtraction {
	ext := domain.BatchExtraction{MemoryID: m.ID}
	lower := strings.ToLower(m.Content)

	for _, e := range r.Entities {
		if e.Name == "" {
			continue
		}
		etype := domain.EntityType(strings.ToUpper(e.Type))
		if !domain.ValidEntityType(string(etype)) {
			etype = domain.EntityOther
		}
		conf := e.Confidence
		if conf <= 0 || conf > 1 {
			conf = 0.7
		}
		start := strings.Index(lower, strings.ToLower(e.Name))
		end := start + len(e.Name)
		if start < 0 {
			start, end = 0, 0
		}
		ext.Mentions = append(ext.Mentions, domain.Mention{
			EntityType: etype,
			Surface:    e.Name,
			CharStart:  start,
			CharEnd:    end,
			Confidence: conf,
		})
	}

	for _, rel := range r.Relationships {
		if rel.From == "" || rel.To == "" {
			continue
		}
		rtype := domain.RelationshipType(strings.ToUpper(rel.Type))
		if rtype == "" {
			rtype = domain.RelRelatesTo
		}
		conf := rel.Confidence
		if conf <= 0 || conf > 1 {
			conf = 0.7
		}
		ext.Relationships = append(ext.Relationships, domain.ExtractedRelationship{
			FromSurface: rel.From,
			ToSurface:   rel.To,
			Type:        rtype,
			Confidence:  conf,
		})
	}
	return ext
}

func (c *OpenAIExtractor) complete(ctx context.Context, messages []chatMessage, temp float32) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       chatModel,
		Messages:    messages,
		Temperature: temp,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIChatURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal chat response: %w", err)
	}

	if result.Error != nil {
		return "", fmt.Errorf("chat API error: %s", result.Error.Message)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("chat API returned no choices")
	}

	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

// MockExtractor is a configurable batch extractor for testing.
type MockExtractor struct {
	Response []domain.BatchExtraction
	Err      error

	// Call tracking for assertions
	Calls [][]uuid.UUID
}

func (m *MockExtractor) ExtractBatch(ctx context.Context, memories []domain.Memory) ([]domain.BatchExtraction, error) {
	ids := make([]uuid.UUID, 0, len(memories))
	for _, mem := range memories {
		ids = append(ids, mem.ID)
	}
	m.Calls = append(m.Calls, ids)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Response, nil
}
