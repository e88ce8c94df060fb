// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/adapters/repository"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/skymap"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/tracker"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/types"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/localization"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/rank"
)

// EventDependencies defines the interface for event read operations and
// coincidence linking.
type EventDependencies interface {
	EventState(ctx context.Context, eventID string) (types.EventView, error)
	CurrentLocalization(ctx context.Context, eventID string) (types.LocalizationView, error)
	EventCandidates(ctx context.Context, p rank.Params) ([]types.AssociationView, error)
	LinkCoincidence(ctx context.Context, eventA, eventB string, combinedBlob []byte) error
}

// EventsHandler handles /events/{id}... requests.
type EventsHandler struct {
	deps     EventDependencies
	maxLimit int
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies, maxLimit int) *EventsHandler {
	return &EventsHandler{deps: deps, maxLimit: maxLimit}
}

// Handle dispatches GET /events/{id}, /events/{id}/localization,
// /events/{id}/candidates and POST /events/{id}/coincidence.
func (h *EventsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/events/")
	parts := strings.Split(rest, "/")
	eventID := parts[0]
	if eventID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	if len(parts) == 2 && parts[1] == "coincidence" {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		h.handleCoincidence(w, r, eventID)
		return
	}
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(parts) == 1:
		h.handleState(w, r, eventID)
	case len(parts) == 2 && parts[1] == "localization":
		h.handleLocalization(w, r, eventID)
	case len(parts) == 2 && parts[1] == "candidates":
		h.handleCandidates(w, r, eventID)
	default:
		http.NotFound(w, r)
	}
}

// coincidenceRequest declares two tracked events to be the same physical
// source. The combined skymap bytes arrive base64-encoded, like a notice's.
type coincidenceRequest struct {
	PartnerID      string `json:"partner_id"`
	CombinedSkymap []byte `json:"combined_skymap,omitempty"`
}

func (h *EventsHandler) handleCoincidence(w http.ResponseWriter, r *http.Request, eventID string) {
	const op = "api.post_coincidence"
	var req coincidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.PartnerID) == "" || req.PartnerID == eventID {
		writeError(w, http.StatusBadRequest, "bad_request",
			WrapKind(op, ErrBadRequest, errors.New("partner_id must name a different event")))
		return
	}

	if err := h.deps.LinkCoincidence(r.Context(), eventID, req.PartnerID, req.CombinedSkymap); err != nil {
		switch {
		case errors.Is(err, skymap.ErrFormat):
			writeError(w, http.StatusBadRequest, "bad_skymap", err)
		case errors.Is(err, tracker.ErrNotFound) || errors.Is(err, localization.ErrNotFound):
			writeError(w, http.StatusNotFound, "not_found", err)
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		}
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}

func (h *EventsHandler) handleState(w http.ResponseWriter, r *http.Request, eventID string) {
	const op = "api.get_event"
	view, err := h.deps.EventState(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *EventsHandler) handleLocalization(w http.ResponseWriter, r *http.Request, eventID string) {
	const op = "api.get_localization"
	view, err := h.deps.CurrentLocalization(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) || errors.Is(err, localization.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *EventsHandler) handleCandidates(w http.ResponseWriter, r *http.Request, eventID string) {
	const op = "api.get_event_candidates"
	params, err := h.parseQuery(r, eventID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	rows, err := h.deps.EventCandidates(r.Context(), params)
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// parseQuery reads the filter parameters for a candidate query. Failed
// associations simply never match these filters, so an event with no
// viable counterparts returns an empty list rather than an error.
func (h *EventsHandler) parseQuery(r *http.Request, eventID string) (rank.Params, error) {
	q := r.URL.Query()
	p := rank.Params{EventID: eventID, OrderBy: rank.OrderByScore}

	parse := func(key string, dst *float64) error {
		if raw := q.Get(key); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || v < 0 {
				return errors.New("invalid " + key)
			}
			*dst = v
		}
		return nil
	}
	if err := parse("prob_max", &p.ProbMax); err != nil {
		return p, err
	}
	if err := parse("dt_max_days", &p.DtMaxDays); err != nil {
		return p, err
	}
	if err := parse("min_score", &p.MinScore); err != nil {
		return p, err
	}

	if raw := q.Get("viable_only"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return p, errors.New("invalid viable_only")
		}
		p.ViableOnly = v
	}
	if raw := q.Get("order_by"); raw != "" {
		switch raw {
		case rank.OrderByScore, rank.OrderByProb, rank.OrderByMag, rank.OrderBySNR, rank.OrderByDetected:
			p.OrderBy = raw
		default:
			return p, errors.New("invalid order_by")
		}
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return p, errors.New("invalid limit")
		}
		if h.maxLimit > 0 && n > h.maxLimit {
			return p, errors.New("limit exceeds maximum")
		}
		p.Limit = n
	}
	return p, nil
}

// notFoundFromStore translates store misses for candidate paths.
func notFoundFromStore(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
