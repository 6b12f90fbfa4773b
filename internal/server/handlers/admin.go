package handlers

import (
	"net/http"
	"strings"

	"github.com/lodgepole/farmsight/pkg/dashboard"
)

// AdminHandler serves runtime cache controls. The server mounts it only
// when an admin token is configured.
type AdminHandler struct {
	service *dashboard.Service
}

// NewAdminHandler creates an admin handler over the dashboard service.
func NewAdminHandler(service *dashboard.Service) *AdminHandler {
	return &AdminHandler{service: service}
}

// CacheStatus handles GET /api/admin/cache.
func (h *AdminHandler) CacheStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.CacheStatus())
}

// UpdateCache handles POST /api/admin/cache. Validation failures leave
// every setting untouched.
func (h *AdminHandler) UpdateCache(w http.ResponseWriter, r *http.Request) {
	var update dashboard.ConfigUpdate
	if err := decodeJSON(r, &update); err != nil {
		respondWithError(w, r, err)
		return
	}

	status, err := h.service.Configure(update)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// invalidateRequest is the body for POST /api/admin/cache/invalidate.
type invalidateRequest struct {
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key,omitempty"`
}

// invalidateResponse reports how many cached entries were removed.
type invalidateResponse struct {
	Removed int `json:"removed"`
}

// InvalidateCache handles POST /api/admin/cache/invalidate. A bucket
// narrows the purge to one cache; a bare key drops one project across
// all of them; an empty body flushes everything.
func (h *AdminHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}

	var removed int
	switch {
	case strings.TrimSpace(req.Bucket) != "":
		n, err := h.service.Invalidate(strings.TrimSpace(req.Bucket), req.Key)
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		removed = n
	case strings.TrimSpace(req.Key) != "":
		removed = h.service.InvalidateProject(req.Key)
	default:
		removed = h.service.Flush()
	}
	writeJSON(w, http.StatusOK, invalidateResponse{Removed: removed})
}
