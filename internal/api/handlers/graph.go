package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type GraphHandler struct {
	svc *service.MemoryService
}

func NewGraphHandler(svc *service.MemoryService) *GraphHandler {
	return &GraphHandler{svc: svc}
}

func (h *GraphHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GraphStats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Explore returns the subgraph around a named entity.
func (h *GraphHandler) Explore(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	maxDepth := intQueryParam(r, "max_depth", 1)
	maxNodes := intQueryParam(r, "max_nodes", 0)

	sub, err := h.svc.GraphExplore(r.Context(), name, maxDepth, maxNodes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type graphQueryRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	MaxDepth int    `json:"max_depth,omitempty"`
}

// Query finds the strongest path between two entities.
func (h *GraphHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req graphQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.From == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}

	path, err := h.svc.GraphPath(r.Context(), req.From, req.To, req.MaxDepth)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, path)
}

// Insights lists the entities and relationships one memory contributed.
func (h *GraphHandler) Insights(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "memory_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid memory id")
		return
	}

	insights, err := h.svc.GraphInsights(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, insights)
}

// Sync re-runs entity extraction for one memory. Accepted, not immediate:
// the work happens within the request but clients should treat the graph as
// eventually consistent.
func (h *GraphHandler) Sync(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "memory_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid memory id")
		return
	}

	if err := h.svc.SyncMemoryGraph(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "accepted",
		"memory_id": id.String(),
	})
}

func intQueryParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
