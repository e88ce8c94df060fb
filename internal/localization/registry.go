// Package localization stores every sky localization published for each
// gravitational-wave event and tracks which one is authoritative.
//
// Revisions must arrive in increasing order per event; late notices are
// rejected rather than rewriting history. Localizations are retained
// indefinitely once registered.
package localization

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/skymap"
	"github.com/SAGUARO-MMA/saguaro-tom/pkg/logger"
)

// Localization is one registered sky map revision for an event.
type Localization struct {
	EventID   string
	Revision  int
	Sky       *skymap.Map
	CreatedAt time.Time
}

// coincidence links an event to a partner event describing the same
// physical source, optionally with a combined sky map that supersedes the
// individual ones for filtering.
type coincidence struct {
	partner  string
	combined *skymap.Map
}

// Registry is the authoritative store of localizations per event.
type Registry struct {
	mu        sync.RWMutex
	byEvent   map[string][]*Localization
	retracted map[string]struct{}
	parsed    map[string]*skymap.Map
	coinc     map[string][]coincidence

	logger logger.Logger
}

// Option applies a configuration option to the Registry.
type Option func(*Registry)

// WithLogger sets a custom logger for the registry.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		byEvent:   make(map[string][]*Localization),
		retracted: make(map[string]struct{}),
		parsed:    make(map[string]*skymap.Map),
		coinc:     make(map[string][]coincidence),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ParseOnce decodes a skymap blob, memoized per (event, revision) so that a
// burst of candidates matched against the same localization pays the parse
// cost once. The memo entry is only written on success.
func (r *Registry) ParseOnce(ctx context.Context, eventID string, rev int, blob []byte) (*skymap.Map, error) {
	key := fmt.Sprintf("%s@%d", eventID, rev)

	r.mu.RLock()
	m, ok := r.parsed[key]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}

	m, err := skymap.Parse(blob)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if prior, raced := r.parsed[key]; raced {
		m = prior
	} else {
		r.parsed[key] = m
	}
	r.mu.Unlock()
	return m, nil
}

// Register records a localization for the given event and revision.
// Revisions must be registered in increasing order; a regression is
// rejected with ErrOutOfOrder and leaves the registry untouched.
func (r *Registry) Register(ctx context.Context, eventID string, rev int, sky *skymap.Map) (*Localization, error) {
	if sky == nil {
		return nil, fmt.Errorf("register %s rev %d: nil skymap", eventID, rev)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	history := r.byEvent[eventID]
	if n := len(history); n > 0 && rev <= history[n-1].Revision {
		return nil, fmt.Errorf("%w: event %s revision %d after revision %d",
			ErrOutOfOrder, eventID, rev, history[n-1].Revision)
	}

	loc := &Localization{
		EventID:   eventID,
		Revision:  rev,
		Sky:       sky,
		CreatedAt: time.Now().UTC(),
	}
	r.byEvent[eventID] = append(history, loc)

	if r.logger != nil {
		r.logger.Info(ctx, "registered localization",
			logger.String("eventID", eventID),
			logger.Int("revision", rev),
			logger.Int("tiles", sky.NumTiles()),
		)
	}
	return loc, nil
}

// Current returns the authoritative localization for the event: the highest
// registered revision, or nil when the event is retracted or has none yet.
func (r *Registry) Current(ctx context.Context, eventID string) *Localization {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentLocked(eventID)
}

func (r *Registry) currentLocked(eventID string) *Localization {
	if _, gone := r.retracted[eventID]; gone {
		return nil
	}
	history := r.byEvent[eventID]
	if len(history) == 0 {
		return nil
	}
	return history[len(history)-1]
}

// History returns every registered localization for the event in revision
// order, including those of retracted events.
func (r *Registry) History(ctx context.Context, eventID string) []*Localization {
	r.mu.RLock()
	defer r.mu.RUnlock()
	history := r.byEvent[eventID]
	out := make([]*Localization, len(history))
	copy(out, history)
	return out
}

// MarkRetracted flags the event so Current reports no authoritative
// localization. History is kept.
func (r *Registry) MarkRetracted(ctx context.Context, eventID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retracted[eventID] = struct{}{}
}

// LinkCoincidence records that two events describe the same physical
// source. When combined is non-nil it supersedes the individual sky maps
// for filtering. Both events must already have a localization.
func (r *Registry) LinkCoincidence(ctx context.Context, eventA, eventB string, combined *skymap.Map) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.byEvent[eventA]) == 0 {
		return fmt.Errorf("%w: event %s has no localization", ErrNotFound, eventA)
	}
	if len(r.byEvent[eventB]) == 0 {
		return fmt.Errorf("%w: event %s has no localization", ErrNotFound, eventB)
	}

	r.coinc[eventA] = append(r.coinc[eventA], coincidence{partner: eventB, combined: combined})
	r.coinc[eventB] = append(r.coinc[eventB], coincidence{partner: eventA, combined: combined})

	if r.logger != nil {
		r.logger.Info(ctx, "linked external coincidence",
			logger.String("eventA", eventA),
			logger.String("eventB", eventB),
			logger.Any("combined", combined != nil),
		)
	}
	return nil
}

// Partners returns the ids of events linked to this one as external
// coincidences.
func (r *Registry) Partners(ctx context.Context, eventID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	links := r.coinc[eventID]
	out := make([]string, 0, len(links))
	for _, c := range links {
		out = append(out, c.partner)
	}
	return out
}

// Effective returns the localization to match and filter against: the
// combined coincidence sky map when one is linked, otherwise the event's
// own current sky map. The returned localization is the event's own.
func (r *Registry) Effective(ctx context.Context, eventID string) (*Localization, *skymap.Map) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	loc := r.currentLocked(eventID)
	if loc == nil {
		return nil, nil
	}
	for _, c := range r.coinc[eventID] {
		if c.combined != nil {
			return loc, c.combined
		}
	}
	return loc, loc.Sky
}

// Count returns the number of events with at least one localization.
func (r *Registry) Count(ctx context.Context) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byEvent)
}
