package handlers

import (
	"net/http"

	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/domain"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/service"
)

type ProviderHandler struct {
	svc         *service.MemoryService
	primaryName string
}

func NewProviderHandler(svc *service.MemoryService, primaryName string) *ProviderHandler {
	return &ProviderHandler{svc: svc, primaryName: primaryName}
}

type healthResponse struct {
	Status    string                          `json:"status"`
	Providers map[string]*domain.HealthStatus `json:"providers"`
	Graph     map[string]any                  `json:"graph"`
}

// Health reports overall service health. The endpoint itself always answers
// 200; a down primary shows up in the body, not the status code.
func (h *ProviderHandler) Health(w http.ResponseWriter, r *http.Request) {
	providers := h.svc.Health(r.Context())

	overall := domain.HealthHealthy
	for _, ph := range providers {
		if ph.Status != domain.HealthHealthy {
			overall = domain.HealthDegraded
		}
	}
	if primary, ok := providers[h.primaryName]; ok && primary.Status == domain.HealthDown {
		overall = domain.HealthDown
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    overall,
		Providers: providers,
		Graph:     map[string]any{"enabled": h.svc.GraphEnabled()},
	})
}

func (h *ProviderHandler) Providers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": h.svc.Providers(r.Context()),
	})
}
