// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/adapters/fetch"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/model"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/skymap"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/tracker"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/localization"
)

// NoticeDependencies defines the interface for notice processing.
type NoticeDependencies interface {
	ApplyNotice(ctx context.Context, n model.Notice) error
}

// NoticesHandler handles raw event notice requests.
type NoticesHandler struct {
	deps NoticeDependencies
}

// NewNoticesHandler creates a new notices handler.
func NewNoticesHandler(deps NoticeDependencies) *NoticesHandler {
	return &NoticesHandler{deps: deps}
}

// noticeRequest mirrors the raw event notice shape from the alert broker.
// Skymap bytes arrive base64-encoded (optionally gzip inside).
type noticeRequest struct {
	EventID   string        `json:"event_id"`
	Revision  int           `json:"revision"`
	Subtype   string        `json:"subtype"`
	Details   noticeDetails `json:"details"`
	Skymap    []byte        `json:"skymap,omitempty"`
	SkymapURL string        `json:"skymap_url,omitempty"`
}

type noticeDetails struct {
	Time       string             `json:"time"`
	FAR        float64            `json:"far"`
	ClassProbs map[string]float64 `json:"class_probs"`
	Properties map[string]float64 `json:"properties"`
}

func (n noticeRequest) validate() error {
	switch {
	case strings.TrimSpace(n.EventID) == "":
		return errors.New("missing event_id")
	case n.Revision < 0:
		return errors.New("revision must be non-negative")
	case !model.SequenceKind(n.Subtype).Valid():
		return errors.New("subtype must be one of PRELIMINARY, INITIAL, UPDATE, RETRACTION")
	}
	if n.Details.Time != "" {
		if _, err := time.Parse(time.RFC3339, n.Details.Time); err != nil {
			return errors.New("invalid details.time; must be RFC3339")
		}
	}
	return nil
}

func (n noticeRequest) toModel() model.Notice {
	var t0 time.Time
	if n.Details.Time != "" {
		t0, _ = time.Parse(time.RFC3339, n.Details.Time)
	}
	return model.Notice{
		EventID:  n.EventID,
		Revision: n.Revision,
		Kind:     model.SequenceKind(n.Subtype),
		Details: model.Details{
			Time:       t0,
			FAR:        n.Details.FAR,
			ClassProbs: n.Details.ClassProbs,
			Properties: n.Details.Properties,
		},
		SkymapBlob: n.Skymap,
		SkymapURL:  n.SkymapURL,
	}
}

// HandlePostNotice handles POST /notices requests.
func (h *NoticesHandler) HandlePostNotice(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_notice"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req noticeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	if err := h.deps.ApplyNotice(r.Context(), req.toModel()); err != nil {
		switch {
		case errors.Is(err, skymap.ErrFormat):
			writeError(w, http.StatusBadRequest, "bad_skymap", err)
		case errors.Is(err, localization.ErrOutOfOrder):
			writeError(w, http.StatusConflict, "out_of_order", err)
		case errors.Is(err, tracker.ErrTerminalState):
			writeError(w, http.StatusConflict, "terminal", err)
		case errors.Is(err, tracker.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "invalid_transition", err)
		case errors.Is(err, fetch.ErrFetch):
			writeError(w, http.StatusBadGateway, "fetch_failed", err)
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		}
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}
