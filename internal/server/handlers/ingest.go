package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lodgepole/farmsight/pkg/ingest"
	"github.com/lodgepole/farmsight/pkg/jobregistry"
)

// IngestHandler serves the ingest-run API backed by the run registry.
type IngestHandler struct {
	registry *ingest.Registry
}

// NewIngestHandler creates an ingest handler over the given registry.
func NewIngestHandler(registry *ingest.Registry) *IngestHandler {
	return &IngestHandler{registry: registry}
}

// runListResponse is the envelope for GET /api/ingest/runs.
type runListResponse struct {
	Runs  []ingest.RunRecord `json:"runs"`
	Count int                `json:"count"`
}

// recordRunRequest is the body for POST /api/ingest/runs. A nil report
// starts a running record; a report records the run already completed.
type recordRunRequest struct {
	ID     string         `json:"id,omitempty"`
	Report *ingest.Report `json:"report,omitempty"`
}

// ListRuns handles GET /api/ingest/runs with an optional limit between
// 1 and 100.
func (h *IngestHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseWindow(r.URL.Query().Get("limit"), "limit")
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	runs := h.registry.List(limit)
	writeJSON(w, http.StatusOK, runListResponse{Runs: runs, Count: len(runs)})
}

// RecordRun handles POST /api/ingest/runs. Remote ingest tools either
// announce a running ingest (no report) or record a finished one in a
// single call.
func (h *IngestHandler) RecordRun(w http.ResponseWriter, r *http.Request) {
	var req recordRunRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}

	record, err := h.registry.Start(req.ID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if req.Report != nil {
		record, err = h.registry.Complete(record.RunID, *req.Report)
		if err != nil {
			respondWithError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, record)
}

// GetRun handles GET /api/ingest/runs/{runID}.
func (h *IngestHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	record, err := h.registry.Get(chi.URLParam(r, "runID"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// CompleteRun handles POST /api/ingest/runs/{runID}/complete.
func (h *IngestHandler) CompleteRun(w http.ResponseWriter, r *http.Request) {
	var report ingest.Report
	if err := decodeJSON(r, &report); err != nil {
		respondWithError(w, r, err)
		return
	}
	record, err := h.registry.Complete(chi.URLParam(r, "runID"), report)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// Summary handles GET /api/ingest/summary with an optional window
// between 1 and 100.
func (h *IngestHandler) Summary(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r.URL.Query().Get("window"), "window")
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.registry.Summarize(window))
}

// parseWindow validates an optional 1..100 count parameter. Zero means
// the registry default.
func parseWindow(raw, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > ingest.MaxListLimit {
		return 0, jobregistry.NewValidationError(
			fmt.Sprintf("invalid %s %q", name, raw),
			fmt.Sprintf("%s must be an integer between 1 and %d", name, ingest.MaxListLimit))
	}
	return n, nil
}
