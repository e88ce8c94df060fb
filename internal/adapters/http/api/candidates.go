// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/types"
)

// CandidateDependencies defines the interface for candidate read operations.
type CandidateDependencies interface {
	CandidateEvents(ctx context.Context, candidateID string) ([]types.AssociationView, error)
	CutoutURLs(ctx context.Context, candidateID string) (map[string]string, error)
}

// CandidatesHandler handles /candidates/{id}... requests.
type CandidatesHandler struct {
	deps CandidateDependencies
}

// NewCandidatesHandler creates a new candidates handler.
func NewCandidatesHandler(deps CandidateDependencies) *CandidatesHandler {
	return &CandidatesHandler{deps: deps}
}

// Handle dispatches GET /candidates/{id}/events and
// /candidates/{id}/cutouts.
func (h *CandidatesHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/candidates/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	candidateID := parts[0]

	switch parts[1] {
	case "events":
		h.handleEvents(w, r, candidateID)
	case "cutouts":
		h.handleCutouts(w, r, candidateID)
	default:
		http.NotFound(w, r)
	}
}

func (h *CandidatesHandler) handleEvents(w http.ResponseWriter, r *http.Request, candidateID string) {
	const op = "api.get_candidate_events"
	rows, err := h.deps.CandidateEvents(r.Context(), candidateID)
	if err != nil {
		if notFoundFromStore(err) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *CandidatesHandler) handleCutouts(w http.ResponseWriter, r *http.Request, candidateID string) {
	const op = "api.get_candidate_cutouts"
	urls, err := h.deps.CutoutURLs(r.Context(), candidateID)
	if err != nil {
		if notFoundFromStore(err) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, urls)
}
