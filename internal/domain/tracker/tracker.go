// Package tracker maintains the lifecycle state machine of each
// gravitational-wave event and its append-only sequence history.
//
// Transitions: PRELIMINARY -> INITIAL -> UPDATE* -> RETRACTED, with early
// retraction allowed from any live state. RETRACTED is terminal. Every
// accepted notice appends an immutable sequence, registers any carried
// localization, and notifies subscribers; that notification is the sole
// trigger for association re-evaluation.
package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/model"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/skymap"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/localization"
	"github.com/SAGUARO-MMA/saguaro-tom/pkg/logger"
	"github.com/SAGUARO-MMA/saguaro-tom/pkg/metrics"
)

// State is an event's lifecycle state.
type State string

// Lifecycle states.
const (
	StatePreliminary State = "PRELIMINARY"
	StateInitial     State = "INITIAL"
	StateUpdate      State = "UPDATE"
	StateRetracted   State = "RETRACTED"
)

// Sequence is one accepted, immutable revision of an event.
type Sequence struct {
	Revision     int
	Kind         model.SequenceKind
	Details      model.Details
	Localization *localization.Localization // nil when the notice carried no skymap
	ReceivedAt   time.Time
}

// Snapshot is a copy of an event's current state for read paths.
type Snapshot struct {
	ID            string
	State         State
	FirstNoticeAt time.Time
	Time          time.Time // event time from the classification details
	Details       model.Details
	Sequences     []Sequence
}

// event is the tracked mutable record. Sequences only ever grow.
type event struct {
	id            string
	state         State
	firstNoticeAt time.Time
	eventTime     time.Time
	details       model.Details
	sequences     []Sequence
}

// Listener is notified after every accepted transition.
type Listener interface {
	EventChanged(ctx context.Context, eventID string)
}

// SkymapFetcher retrieves a remote skymap blob when a notice carries a URL
// instead of inline bytes.
type SkymapFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Tracker is the per-event state machine over the alert stream.
type Tracker struct {
	mu        sync.RWMutex
	events    map[string]*event
	registry  *localization.Registry
	fetcher   SkymapFetcher
	listeners []Listener

	logger logger.Logger
}

// Option applies a configuration option to the Tracker.
type Option func(*Tracker)

// WithLogger sets a custom logger for the tracker.
func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithSkymapFetcher sets the client used to resolve skymap URLs.
func WithSkymapFetcher(f SkymapFetcher) Option {
	return func(t *Tracker) {
		t.fetcher = f
	}
}

// New creates a Tracker backed by the given localization registry.
func New(registry *localization.Registry, opts ...Option) *Tracker {
	t := &Tracker{
		events:   make(map[string]*event),
		registry: registry,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Subscribe registers a listener for accepted transitions.
func (t *Tracker) Subscribe(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// Apply processes one raw event notice. Rejected notices leave all state
// untouched: terminal events yield ErrTerminalState, revision regressions
// ErrOutOfOrder, unexpected subtypes ErrInvalidTransition, and malformed
// skymaps propagate skymap.ErrFormat while the prior localization stays
// authoritative.
func (t *Tracker) Apply(ctx context.Context, n model.Notice) error {
	if n.EventID == "" {
		metrics.RecordNoticeRejected("missing_event_id")
		return fmt.Errorf("%w: notice without event id", ErrInvalidTransition)
	}
	if !n.Kind.Valid() {
		metrics.RecordNoticeRejected("unknown_subtype")
		return fmt.Errorf("%w: event %s subtype %q", ErrInvalidTransition, n.EventID, n.Kind)
	}

	// Decode the skymap before taking the tracker lock: parsing is the
	// expensive step and is memoized per (event, revision), so a rejected
	// notice wastes at most one parse.
	sky, err := t.resolveSkymap(ctx, n)
	if err != nil {
		metrics.RecordNoticeRejected("bad_skymap")
		return err
	}

	t.mu.Lock()
	ev, known := t.events[n.EventID]
	if known {
		if ev.state == StateRetracted {
			t.mu.Unlock()
			metrics.RecordNoticeRejected("terminal")
			return fmt.Errorf("%w: event %s is retracted", ErrTerminalState, n.EventID)
		}
		if last := ev.sequences[len(ev.sequences)-1].Revision; n.Revision <= last {
			t.mu.Unlock()
			metrics.RecordNoticeRejected("out_of_order")
			return fmt.Errorf("%w: event %s revision %d after revision %d",
				localization.ErrOutOfOrder, n.EventID, n.Revision, last)
		}
		if !allowed(ev.state, n.Kind) {
			t.mu.Unlock()
			metrics.RecordNoticeRejected("invalid_transition")
			return fmt.Errorf("%w: event %s cannot accept %s in state %s",
				ErrInvalidTransition, n.EventID, n.Kind, ev.state)
		}
	} else {
		ev = &event{id: n.EventID, firstNoticeAt: time.Now().UTC()}
		t.events[n.EventID] = ev
	}

	seq := Sequence{
		Revision:   n.Revision,
		Kind:       n.Kind,
		Details:    n.Details,
		ReceivedAt: time.Now().UTC(),
	}

	if sky != nil {
		loc, regErr := t.registry.Register(ctx, n.EventID, n.Revision, sky)
		if regErr != nil {
			if !known {
				delete(t.events, n.EventID)
			}
			t.mu.Unlock()
			metrics.RecordNoticeRejected("out_of_order")
			return regErr
		}
		seq.Localization = loc
	}

	ev.sequences = append(ev.sequences, seq)
	ev.state = stateFor(n.Kind)
	if n.Kind != model.KindRetraction {
		ev.details = n.Details
		if !n.Details.Time.IsZero() {
			ev.eventTime = n.Details.Time
		}
	}
	if n.Kind == model.KindRetraction {
		t.registry.MarkRetracted(ctx, n.EventID)
	}
	listeners := make([]Listener, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	metrics.RecordNoticeProcessed()
	metrics.UpdateTrackedEvents(t.Count(ctx))
	if t.logger != nil {
		t.logger.Info(ctx, "accepted notice",
			logger.String("eventID", n.EventID),
			logger.Int("revision", n.Revision),
			logger.String("subtype", string(n.Kind)),
			logger.Any("hasSkymap", sky != nil),
		)
	}

	// Notify outside the lock; listeners serialize per event themselves.
	for _, l := range listeners {
		l.EventChanged(ctx, n.EventID)
	}
	return nil
}

// resolveSkymap returns the decoded skymap for a notice, fetching it when
// only a URL is given. Retraction notices never carry a skymap.
func (t *Tracker) resolveSkymap(ctx context.Context, n model.Notice) (*skymap.Map, error) {
	switch {
	case len(n.SkymapBlob) > 0:
		return t.registry.ParseOnce(ctx, n.EventID, n.Revision, n.SkymapBlob)
	case n.SkymapURL != "" && t.fetcher != nil:
		blob, err := t.fetcher.Fetch(ctx, n.SkymapURL)
		if err != nil {
			return nil, err
		}
		return t.registry.ParseOnce(ctx, n.EventID, n.Revision, blob)
	default:
		return nil, nil
	}
}

// allowed encodes the transition table for live states.
func allowed(cur State, kind model.SequenceKind) bool {
	if kind == model.KindRetraction {
		return true
	}
	switch cur {
	case StatePreliminary:
		return kind == model.KindPreliminary || kind == model.KindInitial
	case StateInitial, StateUpdate:
		return kind == model.KindUpdate
	default:
		return false
	}
}

func stateFor(kind model.SequenceKind) State {
	switch kind {
	case model.KindPreliminary:
		return StatePreliminary
	case model.KindInitial:
		return StateInitial
	case model.KindUpdate:
		return StateUpdate
	default:
		return StateRetracted
	}
}

// State returns the lifecycle state of an event.
func (t *Tracker) State(ctx context.Context, eventID string) (State, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ev, ok := t.events[eventID]
	if !ok {
		return "", fmt.Errorf("%w: event %s", ErrNotFound, eventID)
	}
	return ev.state, nil
}

// Snapshot returns a copy of the event's current state and full sequence
// history.
func (t *Tracker) Snapshot(ctx context.Context, eventID string) (Snapshot, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ev, ok := t.events[eventID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: event %s", ErrNotFound, eventID)
	}
	seqs := make([]Sequence, len(ev.sequences))
	copy(seqs, ev.sequences)
	return Snapshot{
		ID:            ev.id,
		State:         ev.state,
		FirstNoticeAt: ev.firstNoticeAt,
		Time:          ev.eventTime,
		Details:       ev.details,
		Sequences:     seqs,
	}, nil
}

// EventTime returns the event time carried in the classification details.
func (t *Tracker) EventTime(ctx context.Context, eventID string) (time.Time, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ev, ok := t.events[eventID]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: event %s", ErrNotFound, eventID)
	}
	return ev.eventTime, nil
}

// ActiveEvents returns the ids of all non-retracted events, sorted for
// deterministic matching order.
func (t *Tracker) ActiveEvents(ctx context.Context) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.events))
	for id, ev := range t.events {
		if ev.state != StateRetracted {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Count returns the number of tracked events, retracted included.
func (t *Tracker) Count(ctx context.Context) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}
