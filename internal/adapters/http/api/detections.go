// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/dedupe"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/model"
)

// DetectionDependencies defines the interface for detection ingest.
type DetectionDependencies interface {
	dedupe.Deduper
	EnqueueDetection(ctx context.Context, d model.Candidate) bool
}

// DetectionsHandler handles raw candidate detection requests.
type DetectionsHandler struct {
	deps DetectionDependencies
}

// NewDetectionsHandler creates a new detections handler.
func NewDetectionsHandler(deps DetectionDependencies) *DetectionsHandler {
	return &DetectionsHandler{deps: deps}
}

// detectionRequest mirrors the raw candidate detection shape from the
// survey pipeline.
type detectionRequest struct {
	CandidateID string  `json:"candidate_id"`
	TargetID    string  `json:"target_id"`
	RA          float64 `json:"ra"`
	Dec         float64 `json:"dec"`
	DetectedAt  string  `json:"detected_at"`
	Mag         float64 `json:"mag"`
	FWHM        float64 `json:"fwhm"`
	SNR         float64 `json:"snr"`
	ScoreOld    float64 `json:"mlscore"`
	ScoreReal   float64 `json:"mlscore_real"`
	ScoreBogus  float64 `json:"mlscore_bogus"`
}

func (d detectionRequest) validate() error {
	switch {
	case strings.TrimSpace(d.CandidateID) == "":
		return errors.New("missing candidate_id")
	case strings.TrimSpace(d.TargetID) == "":
		return errors.New("missing target_id")
	case strings.TrimSpace(d.DetectedAt) == "":
		return errors.New("missing detected_at")
	}
	if _, err := time.Parse(time.RFC3339, d.DetectedAt); err != nil {
		return errors.New("invalid detected_at; must be RFC3339")
	}
	for _, score := range []float64{d.ScoreOld, d.ScoreReal, d.ScoreBogus} {
		if score < 0 || score > 1 {
			return errors.New("classifier scores must be in [0, 1]")
		}
	}
	return nil
}

func (d detectionRequest) toModel() model.Candidate {
	at, _ := time.Parse(time.RFC3339, d.DetectedAt)
	return model.Candidate{
		ID:         d.CandidateID,
		TargetID:   d.TargetID,
		RA:         d.RA,
		Dec:        d.Dec,
		DetectedAt: at,
		Mag:        d.Mag,
		FWHM:       d.FWHM,
		SNR:        d.SNR,
		ScoreOld:   d.ScoreOld,
		ScoreReal:  d.ScoreReal,
		ScoreBogus: d.ScoreBogus,
	}
}

// HandlePostDetection handles POST /detections requests.
func (h *DetectionsHandler) HandlePostDetection(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_detection"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req detectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	// Idempotency check; mark as seen first. The duplicate counter is
	// maintained by SeenAndRecord.
	if h.deps.SeenAndRecord(r.Context(), req.CandidateID) {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}

	if ok := h.deps.EnqueueDetection(r.Context(), req.toModel()); !ok {
		// Roll back the seen mark so the detection can be retried.
		h.deps.Unrecord(r.Context(), req.CandidateID)
		writeError(w, http.StatusTooManyRequests, "backpressure", NewKind(op, ErrBackpressure))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}
