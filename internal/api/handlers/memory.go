package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/domain"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/service"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/vectorstore"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type MemoryHandler struct {
	svc             *service.MemoryService
	maxContentBytes int
}

func NewMemoryHandler(svc *service.MemoryService, maxContentBytes int) *MemoryHandler {
	return &MemoryHandler{svc: svc, maxContentBytes: maxContentBytes}
}

type createMemoryRequest struct {
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
}

func (h *MemoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.Content) > h.maxContentBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("content exceeds %d bytes", h.maxContentBytes))
		return
	}

	m, err := h.svc.CreateMemory(r.Context(), vectorstore.AddRequest{
		Content:        req.Content,
		Metadata:       req.Metadata,
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, m)
}

type batchCreateRequest struct {
	Memories []createMemoryRequest `json:"memories"`
}

type batchItemResponse struct {
	Memory *domain.Memory `json:"memory,omitempty"`
	Error  string         `json:"error,omitempty"`
	Code   string         `json:"code,omitempty"`
}

type batchCreateResponse struct {
	Results   []batchItemResponse `json:"results"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
}

// CreateBatch stores several memories in one call; items fail independently.
func (h *MemoryHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Memories) == 0 {
		writeError(w, http.StatusBadRequest, "memories is required")
		return
	}

	reqs := make([]vectorstore.AddRequest, len(req.Memories))
	for i, item := range req.Memories {
		if len(item.Content) > h.maxContentBytes {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("memories[%d] content exceeds %d bytes", i, h.maxContentBytes))
			return
		}
		reqs[i] = vectorstore.AddRequest{
			Content:        item.Content,
			Metadata:       item.Metadata,
			UserID:         item.UserID,
			ConversationID: item.ConversationID,
		}
	}

	results := h.svc.CreateMemories(r.Context(), reqs)
	resp := batchCreateResponse{Results: make([]batchItemResponse, len(results))}
	for i, res := range results {
		if res.Err != nil {
			resp.Results[i] = batchItemResponse{
				Error: res.Err.Error(),
				Code:  domain.ErrorCode(res.Err),
			}
			resp.Failed++
			continue
		}
		resp.Results[i] = batchItemResponse{Memory: res.Memory}
		resp.Succeeded++
	}

	status := http.StatusCreated
	if resp.Succeeded == 0 {
		status = http.StatusBadGateway
	} else if resp.Failed > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, resp)
}

type queryMemoriesRequest struct {
	Query          string         `json:"query"`
	K              int            `json:"k,omitempty"`
	MinSimilarity  float64        `json:"min_similarity,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
}

type queryMemoriesResponse struct {
	*vectorstore.QueryResult
	Count int `json:"count"`
}

// Query runs a similarity search; an empty query returns recent memories.
func (h *MemoryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req queryMemoriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// min_similarity is clamped rather than rejected.
	if req.MinSimilarity < 0 {
		req.MinSimilarity = 0
	} else if req.MinSimilarity > 1 {
		req.MinSimilarity = 1
	}

	result, err := h.svc.QueryMemories(r.Context(), vectorstore.QueryRequest{
		Text:          req.Query,
		K:             req.K,
		MinSimilarity: req.MinSimilarity,
		Filters: domain.QueryFilters{
			Metadata:       req.Metadata,
			UserID:         req.UserID,
			ConversationID: req.ConversationID,
		},
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if result.Memories == nil {
		result.Memories = []domain.MemoryWithScore{}
	}

	writeJSON(w, http.StatusOK, queryMemoriesResponse{
		QueryResult: result,
		Count:       len(result.Memories),
	})
}

func (h *MemoryHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid memory id")
		return
	}

	m, err := h.svc.GetMemory(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid memory id")
		return
	}

	if err := h.svc.DeleteMemory(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
