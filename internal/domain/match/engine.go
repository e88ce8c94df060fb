// Package match is the candidate ingest and association engine.
//
// Matching is always driven by an event's current localization, never
// re-derived from skymap history: skymap lookups are the expensive path,
// candidates arrive continuously, and localization revisions are rare and
// bursty. Association records cache the match result and are invalidated
// only by a tracker change notification, so query-time cost stays
// O(stored associations) and revision-time cost O(affected candidates).
package match

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/adapters/repository"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/healpix"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/model"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/tracker"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/localization"
	"github.com/SAGUARO-MMA/saguaro-tom/pkg/logger"
	"github.com/SAGUARO-MMA/saguaro-tom/pkg/metrics"
)

// Default matching configuration.
const (
	defaultProbThreshold = 0.95
	defaultWindowDays    = 3.0
	lockStripes          = 64
	hoursPerDay          = 24
)

// Engine computes and maintains candidate-event associations.
type Engine struct {
	registry *localization.Registry
	tracker  *tracker.Tracker
	store    repository.Store

	probThreshold float64
	window        time.Duration

	// Per-event striped locks: a localization revision and a concurrent
	// candidate ingest racing for the same event serialize here, covering
	// read-localization -> compute -> write. Events on different stripes
	// never block each other.
	locks [lockStripes]sync.Mutex

	logger logger.Logger
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithProbThreshold sets the credible-level used for matching.
func WithProbThreshold(p float64) Option {
	return func(e *Engine) {
		if p > 0 && p <= 1 {
			e.probThreshold = p
		}
	}
}

// WithFollowUpWindow sets how long after an event a detection still counts
// as follow-up.
func WithFollowUpWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.window = d
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Engine over the given registry, tracker and store.
func New(reg *localization.Registry, trk *tracker.Tracker, store repository.Store, opts ...Option) *Engine {
	e := &Engine{
		registry:      reg,
		tracker:       trk,
		store:         store,
		probThreshold: defaultProbThreshold,
		window:        time.Duration(defaultWindowDays*hoursPerDay) * time.Hour,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) lockFor(eventID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(eventID))
	return &e.locks[h.Sum32()%lockStripes]
}

// IngestCandidate stores a newly detected candidate and associates it with
// every non-retracted event whose current localization contains it at the
// configured credible level and whose event time puts the detection inside
// the follow-up window. A candidate may match zero, one or several events.
// Unresolvable coordinates yield healpix.ErrCoordinate; the candidate
// record itself is still retained.
func (e *Engine) IngestCandidate(ctx context.Context, cand model.Candidate) ([]model.Association, error) {
	start := time.Now()
	defer func() {
		metrics.RecordMatchLatency(float64(time.Since(start).Milliseconds()))
	}()

	if cand.ID == "" {
		return nil, fmt.Errorf("%w: candidate without id", repository.ErrInvalid)
	}
	if err := e.store.PutCandidate(ctx, cand); err != nil {
		return nil, err
	}
	metrics.RecordCandidateIngested()

	if err := healpix.ValidateCoords(cand.RA, cand.Dec); err != nil {
		metrics.RecordCoordinateError()
		return nil, err
	}

	var matched []model.Association
	for _, eventID := range e.tracker.ActiveEvents(ctx) {
		a, ok, err := e.matchOne(ctx, cand, eventID)
		if err != nil {
			return matched, err
		}
		if ok {
			matched = append(matched, a)
		}
	}
	return matched, nil
}

// matchOne evaluates a single candidate against a single event under that
// event's lock.
func (e *Engine) matchOne(ctx context.Context, cand model.Candidate, eventID string) (model.Association, bool, error) {
	mu := e.lockFor(eventID)
	mu.Lock()
	defer mu.Unlock()

	_, sky := e.registry.Effective(ctx, eventID)
	if sky == nil {
		return model.Association{}, false, nil
	}
	t0, err := e.tracker.EventTime(ctx, eventID)
	if err != nil || t0.IsZero() {
		return model.Association{}, false, nil
	}

	dt := cand.DetectedAt.Sub(t0)
	if dt < 0 || dt > e.window {
		return model.Association{}, false, nil
	}

	inside, enc, err := sky.Contains(cand.RA, cand.Dec, e.probThreshold)
	if err != nil {
		return model.Association{}, false, err
	}
	if !inside {
		return model.Association{}, false, nil
	}

	a := model.Association{
		CandidateID: cand.ID,
		EventID:     eventID,
		Probability: enc,
		DtDays:      dt.Hours() / hoursPerDay,
		Threshold:   e.probThreshold,
		Viable:      true,
	}
	created, err := e.store.UpsertAssociation(ctx, a)
	if err != nil {
		return model.Association{}, false, err
	}
	if created {
		metrics.RecordAssociationCreated()
	} else {
		metrics.RecordAssociationUpdated()
	}
	stored, err := e.store.Association(ctx, cand.ID, eventID)
	if err != nil {
		return model.Association{}, false, err
	}

	if e.logger != nil {
		e.logger.Info(ctx, "candidate associated",
			logger.String("candidateID", cand.ID),
			logger.String("eventID", eventID),
			logger.Float64("probability", enc),
			logger.Float64("dtDays", a.DtDays),
		)
	}
	return stored, true, nil
}

// IngestBatch runs IngestCandidate for each candidate, isolating per-item
// failures: one bad detection never aborts the rest of the batch. The
// returned map holds the error for each failed candidate id.
func (e *Engine) IngestBatch(ctx context.Context, cands []model.Candidate) map[string]error {
	failures := make(map[string]error)
	for _, c := range cands {
		if _, err := e.IngestCandidate(ctx, c); err != nil {
			failures[c.ID] = err
			if e.logger != nil {
				e.logger.Warn(ctx, "candidate skipped in batch",
					logger.String("candidateID", c.ID),
					logger.Error(err),
				)
			}
		}
	}
	return failures
}

// ReevaluateEvent recomputes every association referencing the event under
// its new current localization. Retracted events have all associations
// flipped non-viable in one pass. Records are never deleted: an
// association that no longer matches keeps its history with viable=false.
func (e *Engine) ReevaluateEvent(ctx context.Context, eventID string) error {
	start := time.Now()
	defer func() {
		metrics.RecordReevaluationLatency(float64(time.Since(start).Milliseconds()))
	}()

	mu := e.lockFor(eventID)
	mu.Lock()
	defer mu.Unlock()

	state, err := e.tracker.State(ctx, eventID)
	if err != nil {
		return err
	}

	assocs := e.store.ByEvent(ctx, eventID)
	if state == tracker.StateRetracted {
		for _, a := range assocs {
			if !a.Viable {
				continue
			}
			a.Viable = false
			if _, err := e.store.UpsertAssociation(ctx, a); err != nil {
				return err
			}
			metrics.RecordAssociationRetired()
		}
		if e.logger != nil {
			e.logger.Info(ctx, "event retracted, associations retired",
				logger.String("eventID", eventID),
				logger.Int("associations", len(assocs)),
			)
		}
		return nil
	}

	_, sky := e.registry.Effective(ctx, eventID)
	if sky == nil {
		// Nothing authoritative to judge against; leave records as they are.
		return nil
	}
	t0, err := e.tracker.EventTime(ctx, eventID)
	if err != nil {
		return err
	}

	for _, a := range assocs {
		cand, err := e.store.Candidate(ctx, a.CandidateID)
		if err != nil {
			return err
		}
		enc, err := sky.EnclosedProbability(cand.RA, cand.Dec)
		if err != nil {
			// Coordinates were validated at ingest; treat as non-viable
			// rather than aborting the sweep.
			enc = 1
		}

		dt := cand.DetectedAt.Sub(t0)
		wasViable := a.Viable
		a.Probability = enc
		a.DtDays = dt.Hours() / hoursPerDay
		a.Viable = enc <= a.Threshold+1e-12 && dt >= 0 && dt <= e.window

		if _, err := e.store.UpsertAssociation(ctx, a); err != nil {
			return err
		}
		metrics.RecordAssociationUpdated()
		if wasViable && !a.Viable {
			metrics.RecordAssociationRetired()
		}
	}
	return nil
}

// EventChanged implements tracker.Listener; it is the sole re-match
// trigger.
func (e *Engine) EventChanged(ctx context.Context, eventID string) {
	if err := e.ReevaluateEvent(ctx, eventID); err != nil {
		metrics.RecordErrorByComponent("match", "reevaluate")
		if e.logger != nil {
			e.logger.Error(ctx, "re-evaluation failed",
				logger.String("eventID", eventID),
				logger.Error(err),
			)
		}
	}
}

// ProbThreshold returns the configured matching credible level.
func (e *Engine) ProbThreshold() float64 {
	return e.probThreshold
}

// Window returns the configured follow-up window.
func (e *Engine) Window() time.Duration {
	return e.window
}
