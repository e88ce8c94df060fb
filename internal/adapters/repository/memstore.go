package repository

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/model"
	"github.com/SAGUARO-MMA/saguaro-tom/pkg/metrics"
)

// Sharded, in-memory Store implementation.
//
// Association shards are keyed by event id so that one event's association
// churn (a localization revision touching thousands of records) contends
// on a single shard lock and never blocks other events. Candidate shards
// are keyed by candidate id.

const defaultShardCount = 8

type assocShard struct {
	mu sync.RWMutex
	// eventID -> candidateID -> association
	byEvent map[string]map[string]model.Association
}

type candShard struct {
	mu         sync.RWMutex
	candidates map[string]model.Candidate
	// candidateID -> set of event ids, for the reverse index
	events map[string]map[string]struct{}
}

// MemStore implements Store with sharded in-memory maps.
type MemStore struct {
	shardCount int
	assoc      []*assocShard
	cand       []*candShard

	candidateCount   int64
	associationCount int64
	countMu          sync.Mutex
}

// NewMemStore creates an in-memory store with configuration options.
func NewMemStore(ctx context.Context, opts ...Option) *MemStore {
	s := &MemStore{
		shardCount: defaultShardCount,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.assoc = make([]*assocShard, s.shardCount)
	s.cand = make([]*candShard, s.shardCount)
	for i := 0; i < s.shardCount; i++ {
		s.assoc[i] = &assocShard{byEvent: make(map[string]map[string]model.Association)}
		s.cand[i] = &candShard{
			candidates: make(map[string]model.Candidate),
			events:     make(map[string]map[string]struct{}),
		}
	}
	return s
}

func (s *MemStore) shardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % uint32(s.shardCount)
}

// PutCandidate stores an immutable candidate detection.
func (s *MemStore) PutCandidate(ctx context.Context, c model.Candidate) error {
	if c.ID == "" {
		return fmt.Errorf("%w: candidate without id", ErrInvalid)
	}
	sh := s.cand[s.shardFor(c.ID)]
	sh.mu.Lock()
	_, existed := sh.candidates[c.ID]
	if !existed {
		sh.candidates[c.ID] = c
	}
	sh.mu.Unlock()

	if !existed {
		s.countMu.Lock()
		s.candidateCount++
		metrics.UpdateTrackedCandidates(int(s.candidateCount))
		s.countMu.Unlock()
	}
	return nil
}

// Candidate returns a stored candidate by id.
func (s *MemStore) Candidate(ctx context.Context, id string) (model.Candidate, error) {
	sh := s.cand[s.shardFor(id)]
	sh.mu.RLock()
	c, ok := sh.candidates[id]
	sh.mu.RUnlock()
	if !ok {
		return model.Candidate{}, fmt.Errorf("%w: candidate %s", ErrNotFound, id)
	}
	return c, nil
}

// UpsertAssociation creates or updates the (candidate, event) record.
func (s *MemStore) UpsertAssociation(ctx context.Context, a model.Association) (bool, error) {
	if a.CandidateID == "" || a.EventID == "" {
		return false, fmt.Errorf("%w: association needs candidate and event ids", ErrInvalid)
	}

	now := time.Now().UTC()
	sh := s.assoc[s.shardFor(a.EventID)]
	sh.mu.Lock()
	perEvent := sh.byEvent[a.EventID]
	if perEvent == nil {
		perEvent = make(map[string]model.Association)
		sh.byEvent[a.EventID] = perEvent
	}
	existing, found := perEvent[a.CandidateID]
	if found {
		a.ID = existing.ID
		a.CreatedAt = existing.CreatedAt
		a.Threshold = existing.Threshold
	} else {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	perEvent[a.CandidateID] = a
	sh.mu.Unlock()

	if !found {
		csh := s.cand[s.shardFor(a.CandidateID)]
		csh.mu.Lock()
		if csh.events[a.CandidateID] == nil {
			csh.events[a.CandidateID] = make(map[string]struct{})
		}
		csh.events[a.CandidateID][a.EventID] = struct{}{}
		csh.mu.Unlock()

		s.countMu.Lock()
		s.associationCount++
		metrics.UpdateStoredAssociations(int(s.associationCount))
		s.countMu.Unlock()
	}
	return !found, nil
}

// Association returns the record for a (candidate, event) pair.
func (s *MemStore) Association(ctx context.Context, candidateID, eventID string) (model.Association, error) {
	sh := s.assoc[s.shardFor(eventID)]
	sh.mu.RLock()
	a, ok := sh.byEvent[eventID][candidateID]
	sh.mu.RUnlock()
	if !ok {
		return model.Association{}, fmt.Errorf("%w: candidate %s / event %s", ErrNotFound, candidateID, eventID)
	}
	return a, nil
}

// ByEvent returns every association for the event in candidate id order.
func (s *MemStore) ByEvent(ctx context.Context, eventID string) []model.Association {
	sh := s.assoc[s.shardFor(eventID)]
	sh.mu.RLock()
	perEvent := sh.byEvent[eventID]
	out := make([]model.Association, 0, len(perEvent))
	for _, a := range perEvent {
		out = append(out, a)
	}
	sh.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CandidateID < out[j].CandidateID })
	return out
}

// ByCandidate returns every association for the candidate in event id order.
func (s *MemStore) ByCandidate(ctx context.Context, candidateID string) []model.Association {
	csh := s.cand[s.shardFor(candidateID)]
	csh.mu.RLock()
	eventIDs := make([]string, 0, len(csh.events[candidateID]))
	for id := range csh.events[candidateID] {
		eventIDs = append(eventIDs, id)
	}
	csh.mu.RUnlock()
	sort.Strings(eventIDs)

	out := make([]model.Association, 0, len(eventIDs))
	for _, eventID := range eventIDs {
		if a, err := s.Association(ctx, candidateID, eventID); err == nil {
			out = append(out, a)
		}
	}
	return out
}

// Counts returns the number of stored candidates and associations.
func (s *MemStore) Counts(ctx context.Context) (int, int) {
	s.countMu.Lock()
	defer s.countMu.Unlock()
	return int(s.candidateCount), int(s.associationCount)
}
