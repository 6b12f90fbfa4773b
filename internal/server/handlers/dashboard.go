package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lodgepole/farmsight/pkg/dashboard"
	"github.com/lodgepole/farmsight/pkg/tracking"
)

// DashboardHandler serves tracking rollups through the read cache.
type DashboardHandler struct {
	service *dashboard.Service
}

// NewDashboardHandler creates a dashboard handler over the given service.
func NewDashboardHandler(service *dashboard.Service) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// projectListResponse is the envelope for GET /api/dashboard/projects.
type projectListResponse struct {
	Projects []tracking.Project `json:"projects"`
	Count    int                `json:"count"`
}

// ListProjects handles GET /api/dashboard/projects.
func (h *DashboardHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.service.DiscoverProjects(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projectListResponse{Projects: projects, Count: len(projects)})
}

// Status handles GET /api/dashboard/status.
func (h *DashboardHandler) Status(w http.ResponseWriter, r *http.Request) {
	overview, err := h.service.OverallStatus(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// ProjectSummary handles GET /api/dashboard/projects/{name}.
func (h *DashboardHandler) ProjectSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.ProjectSummary(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// EpisodeSummary handles GET /api/dashboard/projects/{name}/episodes/{episode}.
func (h *DashboardHandler) EpisodeSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.EpisodeSummary(r.Context(),
		chi.URLParam(r, "name"), chi.URLParam(r, "episode"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
