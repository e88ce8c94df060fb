// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/dedupe"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/model"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/types"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/rank"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	dedupe.Deduper

	// ApplyNotice feeds one raw event notice through the sequence tracker.
	ApplyNotice(ctx context.Context, n model.Notice) error

	// EnqueueDetection pushes a detection for async matching. Returns
	// false on backpressure.
	EnqueueDetection(ctx context.Context, d model.Candidate) bool

	// LinkCoincidence records that two tracked events describe the same
	// physical source, optionally under a combined localization.
	LinkCoincidence(ctx context.Context, eventA, eventB string, combinedBlob []byte) error

	// Read operations over maintained association state.
	EventState(ctx context.Context, eventID string) (types.EventView, error)
	CurrentLocalization(ctx context.Context, eventID string) (types.LocalizationView, error)
	EventCandidates(ctx context.Context, p rank.Params) ([]types.AssociationView, error)
	CandidateEvents(ctx context.Context, candidateID string) ([]types.AssociationView, error)
	CutoutURLs(ctx context.Context, candidateID string) (map[string]string, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	noticesHandler    *NoticesHandler
	detectionsHandler *DetectionsHandler
	eventsHandler     *EventsHandler
	candidatesHandler *CandidatesHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, maxLimit int) *Server {
	return &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(statsProvider),
		noticesHandler:    NewNoticesHandler(deps),
		detectionsHandler: NewDetectionsHandler(deps),
		eventsHandler:     NewEventsHandler(deps, maxLimit),
		candidatesHandler: NewCandidatesHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/notices", MetricsMiddleware(s.noticesHandler.HandlePostNotice, "notices"))
	mux.HandleFunc("/detections", MetricsMiddleware(s.detectionsHandler.HandlePostDetection, "detections"))
	mux.HandleFunc("/events/", MetricsMiddleware(s.eventsHandler.Handle, "events"))
	mux.HandleFunc("/candidates/", MetricsMiddleware(s.candidatesHandler.Handle, "candidates"))
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
