package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lodgepole/farmsight/pkg/farm"
	"github.com/lodgepole/farmsight/pkg/jobregistry"
	"github.com/lodgepole/farmsight/pkg/match"
)

// maxListLimit caps the limit query parameter on job listings.
const maxListLimit = 500

// RenderHandler serves the render job API backed by the job registry.
type RenderHandler struct {
	registry *jobregistry.Registry
}

// NewRenderHandler creates a render handler over the given registry.
func NewRenderHandler(registry *jobregistry.Registry) *RenderHandler {
	return &RenderHandler{registry: registry}
}

// jobListResponse is the envelope for GET /api/render/jobs.
type jobListResponse struct {
	Jobs  []jobregistry.JobRecord `json:"jobs"`
	Count int                     `json:"count"`
}

// ListJobs handles GET /api/render/jobs with optional status, farm,
// match, and limit query parameters.
func (h *RenderHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := jobregistry.ListFilter{Farm: strings.TrimSpace(q.Get("farm"))}

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status := jobregistry.JobStatus(strings.ToLower(raw))
		if !status.Valid() {
			respondWithError(w, r, jobregistry.NewValidationError(
				fmt.Sprintf("unknown status %q", raw),
				"valid statuses are queued, running, completed, failed, cancelled"))
			return
		}
		filter.Status = status
	}

	limit, err := parseLimit(q.Get("limit"), maxListLimit)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	pattern := strings.TrimSpace(q.Get("match"))
	if pattern == "" {
		filter.Limit = limit
		jobs := h.registry.List(filter)
		writeJSON(w, http.StatusOK, jobListResponse{Jobs: jobs, Count: len(jobs)})
		return
	}

	// The glob narrows by scene path, so the limit applies after
	// matching rather than inside the registry.
	matcher, err := match.New(match.Config{Includes: []string{pattern}, IncludeHidden: true})
	if err != nil {
		respondWithError(w, r, jobregistry.NewValidationError(
			fmt.Sprintf("invalid match pattern %q", pattern),
			"match accepts doublestar globs such as shows/**/lighting/*.ma"))
		return
	}

	jobs := h.registry.List(filter)
	matched := jobs[:0]
	for _, job := range jobs {
		if matcher.Match(job.Request.Scene) {
			matched = append(matched, job)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	writeJSON(w, http.StatusOK, jobListResponse{Jobs: matched, Count: len(matched)})
}

// SubmitJob handles POST /api/render/jobs.
func (h *RenderHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req jobregistry.SubmissionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}

	record, err := h.registry.Submit(r.Context(), req)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// GetJob handles GET /api/render/jobs/{jobID}.
func (h *RenderHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	record, err := h.registry.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// CancelJob handles POST /api/render/jobs/{jobID}/cancel.
func (h *RenderHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	record, err := h.registry.Cancel(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// farmListResponse is the envelope for GET /api/render/farms.
type farmListResponse struct {
	Farms []farm.Description `json:"farms"`
	Count int                `json:"count"`
}

// ListFarms handles GET /api/render/farms, reporting each registered
// adapter and its advertised capabilities.
func (h *RenderHandler) ListFarms(w http.ResponseWriter, r *http.Request) {
	descs := h.registry.Farms().Descriptions()
	writeJSON(w, http.StatusOK, farmListResponse{Farms: descs, Count: len(descs)})
}

// RegistryHealth handles GET /api/render/health.
func (h *RenderHandler) RegistryHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Health())
}

// parseLimit validates an optional limit query parameter. Zero means
// unlimited; max caps how much a single request may ask for.
func parseLimit(raw string, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 || limit > max {
		return 0, jobregistry.NewValidationError(
			fmt.Sprintf("invalid limit %q", raw),
			fmt.Sprintf("limit must be an integer between 0 and %d", max))
	}
	return limit, nil
}

// decodeJSON reads a request body into dst, rejecting unknown fields
// and trailing garbage.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return jobregistry.NewValidationError(
			fmt.Sprintf("invalid request body: %v", err),
			"the body must be a single JSON object")
	}
	if dec.More() {
		return jobregistry.NewValidationError(
			"invalid request body: trailing data after JSON object", "")
	}
	return nil
}
