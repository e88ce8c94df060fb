// Package rank serves ordered, deduplicated candidate lists for an event.
package rank

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/adapters/repository"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/model"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/tracker"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/localization"
	"github.com/SAGUARO-MMA/saguaro-tom/pkg/metrics"
)

// Orderings accepted by Query.
const (
	OrderByScore    = "score"    // "real" classifier score, descending (default)
	OrderByProb     = "prob"     // enclosed probability, ascending
	OrderByMag      = "mag"      // magnitude, ascending (brightest first)
	OrderBySNR      = "snr"      // signal to noise, descending
	OrderByDetected = "detected" // detection time, ascending
)

// Params filters and orders an event's candidate list.
type Params struct {
	EventID string
	// ProbMax keeps associations with enclosed probability <= ProbMax.
	// Zero means no probability cut.
	ProbMax float64
	// DtMaxDays keeps associations with time-since-event <= DtMaxDays.
	// Zero means no time cut.
	DtMaxDays float64
	// MinScore keeps candidates whose "real" score is >= MinScore.
	// NaN or negative means no score cut.
	MinScore float64
	// ViableOnly drops associations whose viability has been revoked.
	ViableOnly bool
	OrderBy    string
	// Limit caps the result length. Zero means unlimited.
	Limit int
}

// Row is one ranked candidate with its association attributes.
type Row struct {
	Candidate   model.Candidate
	EventID     string
	Probability float64
	DtDays      float64
	Viable      bool
}

// Service answers ranked candidate queries from maintained association
// state; it never goes back to raw skymaps.
type Service struct {
	store    repository.Store
	registry *localization.Registry
	tracker  *tracker.Tracker
}

// New creates a ranking service.
func New(store repository.Store, reg *localization.Registry, trk *tracker.Tracker) *Service {
	return &Service{store: store, registry: reg, tracker: trk}
}

// Query returns the event's candidates after filtering, deduplicated
// across externally-coincident partner events, in deterministic order.
func (s *Service) Query(ctx context.Context, p Params) ([]Row, error) {
	start := time.Now()
	defer func() {
		metrics.RecordQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	if _, err := s.tracker.State(ctx, p.EventID); err != nil {
		return nil, err
	}

	// Gather this event's associations plus those of coincident partners:
	// when two sequences describe the same physical event, a candidate
	// must appear once, under the combined localization's probability.
	events := append([]string{p.EventID}, s.registry.Partners(ctx, p.EventID)...)
	best := make(map[string]model.Association)
	for _, eventID := range events {
		for _, a := range s.store.ByEvent(ctx, eventID) {
			prior, seen := best[a.CandidateID]
			if !seen || preferAssociation(a, prior) {
				best[a.CandidateID] = a
			}
		}
	}

	rows := make([]Row, 0, len(best))
	for _, a := range best {
		if p.ViableOnly && !a.Viable {
			continue
		}
		if p.ProbMax > 0 && a.Probability > p.ProbMax {
			continue
		}
		if p.DtMaxDays > 0 && a.DtDays > p.DtMaxDays {
			continue
		}
		cand, err := s.store.Candidate(ctx, a.CandidateID)
		if err != nil {
			return nil, err
		}
		if p.MinScore > 0 && !math.IsNaN(p.MinScore) && cand.ScoreReal < p.MinScore {
			continue
		}
		rows = append(rows, Row{
			Candidate:   cand,
			EventID:     a.EventID,
			Probability: a.Probability,
			DtDays:      a.DtDays,
			Viable:      a.Viable,
		})
	}

	order(rows, p.OrderBy)
	if p.Limit > 0 && len(rows) > p.Limit {
		rows = rows[:p.Limit]
	}
	return rows, nil
}

// preferAssociation picks the dedup winner for a candidate seen under
// several coincident events. A viable association always beats a retired
// one, so a retraction on one partner cannot shadow a live match on
// another; among equally viable rows the tighter probability wins.
func preferAssociation(a, prior model.Association) bool {
	if a.Viable != prior.Viable {
		return a.Viable
	}
	return a.Probability < prior.Probability
}

// CandidateEvents returns every association for a candidate, one row per
// event, ordered by event id.
func (s *Service) CandidateEvents(ctx context.Context, candidateID string) ([]Row, error) {
	cand, err := s.store.Candidate(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("%w: candidate %s", repository.ErrNotFound, candidateID)
	}
	assocs := s.store.ByCandidate(ctx, candidateID)
	rows := make([]Row, 0, len(assocs))
	for _, a := range assocs {
		rows = append(rows, Row{
			Candidate:   cand,
			EventID:     a.EventID,
			Probability: a.Probability,
			DtDays:      a.DtDays,
			Viable:      a.Viable,
		})
	}
	return rows, nil
}

// order sorts rows for the requested key. Every ordering falls back to
// tighter probability and then candidate id so results are fully
// deterministic.
func order(rows []Row, by string) {
	less := func(i, j Row) bool {
		if i.Candidate.ScoreReal != j.Candidate.ScoreReal {
			return i.Candidate.ScoreReal > j.Candidate.ScoreReal
		}
		return tieBreak(i, j)
	}
	switch by {
	case OrderByProb:
		less = func(i, j Row) bool {
			if i.Probability != j.Probability {
				return i.Probability < j.Probability
			}
			return i.Candidate.ID < j.Candidate.ID
		}
	case OrderByMag:
		less = func(i, j Row) bool {
			if i.Candidate.Mag != j.Candidate.Mag {
				return i.Candidate.Mag < j.Candidate.Mag
			}
			return tieBreak(i, j)
		}
	case OrderBySNR:
		less = func(i, j Row) bool {
			if i.Candidate.SNR != j.Candidate.SNR {
				return i.Candidate.SNR > j.Candidate.SNR
			}
			return tieBreak(i, j)
		}
	case OrderByDetected:
		less = func(i, j Row) bool {
			if !i.Candidate.DetectedAt.Equal(j.Candidate.DetectedAt) {
				return i.Candidate.DetectedAt.Before(j.Candidate.DetectedAt)
			}
			return tieBreak(i, j)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return less(rows[i], rows[j]) })
}

// tieBreak orders by ascending enclosed probability (tightest localization
// match first), then by candidate id.
func tieBreak(i, j Row) bool {
	if i.Probability != j.Probability {
		return i.Probability < j.Probability
	}
	return i.Candidate.ID < j.Candidate.ID
}
