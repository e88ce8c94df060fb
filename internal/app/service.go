// Package app wires the core components together and implements the
// dependencies required by the HTTP API.
package app

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/adapters/fetch"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/adapters/mq/queue"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/adapters/mq/worker"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/adapters/repository"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/dedupe"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/match"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/model"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/tracker"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/types"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/localization"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/rank"
	"github.com/SAGUARO-MMA/saguaro-tom/pkg/logger"
	"github.com/SAGUARO-MMA/saguaro-tom/pkg/metrics"
)

const hoursPerDay = 24

// Service implements the API dependencies for the counterpart system.
type Service struct {
	mu sync.RWMutex

	// Core components
	registry *localization.Registry
	tracker  *tracker.Tracker
	store    repository.Store
	engine   *match.Engine
	ranker   *rank.Service
	deduper  dedupe.Deduper
	queue    queue.Queue
	pool     *worker.Pool
	fetcher  *fetch.Client

	// Configuration
	workerCount    int
	queueSize      int
	dedupeSize     int
	shardCount     int
	probThreshold  float64
	window         time.Duration
	credibleLevels []float64
	fetchRetries   int
	fetchBackoff   time.Duration
	cutoutBaseURL  string

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of matching workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the detection queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithShardCount sets the number of shards in the association store.
func WithShardCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.shardCount = count
		}
	}
}

// WithProbThreshold sets the credible level used for matching.
func WithProbThreshold(p float64) Option {
	return func(s *Service) {
		if p > 0 && p <= 1 {
			s.probThreshold = p
		}
	}
}

// WithFollowUpWindow sets the follow-up window for viability.
func WithFollowUpWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithCredibleLevels sets the confidence levels reported in localization
// summaries.
func WithCredibleLevels(levels []float64) Option {
	return func(s *Service) {
		if len(levels) > 0 {
			s.credibleLevels = levels
		}
	}
}

// WithFetchRetries sets the retry count for remote skymap downloads.
func WithFetchRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.fetchRetries = n
		}
	}
}

// WithFetchBackoff sets the initial backoff for remote skymap downloads.
func WithFetchBackoff(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.fetchBackoff = d
		}
	}
}

// WithCutoutBaseURL sets the external thumbnail store base URL. Empty
// disables cutout URL composition.
func WithCutoutBaseURL(u string) Option {
	return func(s *Service) {
		s.cutoutBaseURL = u
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:    runtime.NumCPU() * 4,
		queueSize:      100000,
		dedupeSize:     500000,
		shardCount:     8,
		probThreshold:  0.95,
		window:         3 * hoursPerDay * time.Hour,
		credibleLevels: []float64{0.25, 0.5, 0.9, 0.95},
		fetchRetries:   4,
		fetchBackoff:   500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting counterpart service...")

	s.registry = localization.New(
		localization.WithLogger(s.logger.Named("localization")),
	)
	s.fetcher = fetch.New(
		fetch.WithRetries(s.fetchRetries),
		fetch.WithBaseBackoff(s.fetchBackoff),
		fetch.WithLogger(s.logger.Named("fetch")),
	)
	s.tracker = tracker.New(s.registry,
		tracker.WithSkymapFetcher(s.fetcher),
		tracker.WithLogger(s.logger.Named("tracker")),
	)
	s.store = repository.NewMemStore(ctx,
		repository.WithShardCount(s.shardCount),
	)
	s.engine = match.New(s.registry, s.tracker, s.store,
		match.WithProbThreshold(s.probThreshold),
		match.WithFollowUpWindow(s.window),
		match.WithLogger(s.logger.Named("match")),
	)
	s.tracker.Subscribe(s.engine)
	s.ranker = rank.New(s.store, s.registry, s.tracker)

	s.deduper = dedupe.NewInMemoryDeduper(
		dedupe.WithMaxSize(s.dedupeSize),
	)
	s.queue = queue.NewInMemoryQueue(
		queue.WithCapacity(s.queueSize),
		queue.WithBufferSize(s.queueSize),
	)
	s.pool = worker.NewPool(s.workerCount, s.queue, s.engine)
	s.pool.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "counterpart service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Float64("probThreshold", s.probThreshold),
		logger.Float64("windowDays", s.window.Hours()/hoursPerDay),
	)
	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping counterpart service...")

	if s.queue != nil {
		_ = s.queue.Close()
	}
	if s.pool != nil {
		s.pool.Stop(ctx)
	}

	s.started = false
	s.logger.Info(ctx, "counterpart service stopped")
}

// SeenAndRecord atomically checks if a detection id was seen and records it
// if not. Returns true if the detection was already seen.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	seen := s.deduper.SeenAndRecord(ctx, id)
	if seen {
		metrics.RecordCandidateDuplicate()
	}
	return seen
}

// Unrecord removes a detection id from the seen set, allowing a retry.
func (s *Service) Unrecord(ctx context.Context, id string) {
	s.deduper.Unrecord(ctx, id)
}

// Size returns the current number of entries in the deduper.
func (s *Service) Size() int64 {
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}

// ApplyNotice feeds one raw event notice through the sequence tracker.
func (s *Service) ApplyNotice(ctx context.Context, n model.Notice) error {
	return s.tracker.Apply(ctx, n)
}

// EnqueueDetection pushes a detection for asynchronous matching. Returns
// false on backpressure.
func (s *Service) EnqueueDetection(ctx context.Context, d model.Candidate) bool {
	ok := s.queue.Enqueue(ctx, d)
	if ok {
		metrics.UpdateQueueSize(s.queue.Len(ctx))
	}
	return ok
}

// LinkCoincidence records that two tracked events describe the same
// physical source. The combined blob, when given, is parsed and supersedes
// the individual localizations for filtering.
func (s *Service) LinkCoincidence(ctx context.Context, eventA, eventB string, combinedBlob []byte) error {
	if len(combinedBlob) == 0 {
		return s.registry.LinkCoincidence(ctx, eventA, eventB, nil)
	}
	m, err := s.registry.ParseOnce(ctx, eventA+"+"+eventB, 0, combinedBlob)
	if err != nil {
		return err
	}
	if err := s.registry.LinkCoincidence(ctx, eventA, eventB, m); err != nil {
		return err
	}
	// The combined localization changes enclosed probabilities for both
	// events; re-judge their associations.
	s.engine.EventChanged(ctx, eventA)
	s.engine.EventChanged(ctx, eventB)
	return nil
}

// EventState returns the tracked event's current snapshot.
func (s *Service) EventState(ctx context.Context, eventID string) (types.EventView, error) {
	snap, err := s.tracker.Snapshot(ctx, eventID)
	if err != nil {
		return types.EventView{}, err
	}

	seqs := make([]types.SequenceView, 0, len(snap.Sequences))
	for _, seq := range snap.Sequences {
		seqs = append(seqs, types.SequenceView{
			Revision:   seq.Revision,
			Subtype:    string(seq.Kind),
			HasSkymap:  seq.Localization != nil,
			ReceivedAt: seq.ReceivedAt,
		})
	}
	return types.EventView{
		EventID:       snap.ID,
		State:         string(snap.State),
		FirstNoticeAt: snap.FirstNoticeAt,
		EventTime:     snap.Time,
		FAR:           snap.Details.FAR,
		ClassProbs:    snap.Details.ClassProbs,
		Properties:    snap.Details.Properties,
		Sequences:     seqs,
	}, nil
}

// CurrentLocalization summarizes the event's authoritative localization,
// including credible-region areas at the configured confidence levels.
func (s *Service) CurrentLocalization(ctx context.Context, eventID string) (types.LocalizationView, error) {
	if _, err := s.tracker.State(ctx, eventID); err != nil {
		return types.LocalizationView{}, err
	}
	loc, sky := s.registry.Effective(ctx, eventID)
	if loc == nil {
		return types.LocalizationView{}, fmt.Errorf("%w: event %s has no localization", localization.ErrNotFound, eventID)
	}

	areas := make(map[string]float64, len(s.credibleLevels))
	for _, level := range s.credibleLevels {
		areas[fmt.Sprintf("%g", level)] = sky.Area(level)
	}
	view := types.LocalizationView{
		EventID:   loc.EventID,
		Revision:  loc.Revision,
		Tiles:     sky.NumTiles(),
		AreasDeg2: areas,
		Combined:  sky != loc.Sky,
	}
	if mean, std, ok := sky.Distance(); ok {
		view.DistanceMean = &mean
		view.DistanceStd = &std
	}
	return view, nil
}

// EventCandidates returns the event's ranked candidates.
func (s *Service) EventCandidates(ctx context.Context, p rank.Params) ([]types.AssociationView, error) {
	rows, err := s.ranker.Query(ctx, p)
	if err != nil {
		return nil, err
	}
	return toAssociationViews(rows), nil
}

// CandidateEvents returns every event association for a candidate.
func (s *Service) CandidateEvents(ctx context.Context, candidateID string) ([]types.AssociationView, error) {
	rows, err := s.ranker.CandidateEvents(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	return toAssociationViews(rows), nil
}

// CutoutURLs composes the thumbnail URLs for a stored candidate. An empty
// map is returned when no cutout store is configured.
func (s *Service) CutoutURLs(ctx context.Context, candidateID string) (map[string]string, error) {
	if _, err := s.store.Candidate(ctx, candidateID); err != nil {
		return nil, err
	}
	urls := make(map[string]string)
	if s.cutoutBaseURL == "" {
		return urls, nil
	}
	base := strings.TrimRight(s.cutoutBaseURL, "/")
	for _, kind := range model.CutoutKinds() {
		urls[kind] = fmt.Sprintf("%s/%s/%s.png", base, candidateID, kind)
	}
	return urls, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":       s.started,
		"workerCount":   s.workerCount,
		"queueSize":     s.queueSize,
		"dedupeSize":    s.dedupeSize,
		"probThreshold": s.probThreshold,
		"windowDays":    s.window.Hours() / hoursPerDay,
	}
	if !s.started {
		return stats
	}

	queueLen := s.queue.Len(ctx)
	trackedEvents := s.tracker.Count(ctx)
	candidates, associations := s.store.Counts(ctx)

	stats["queueLength"] = queueLen
	stats["trackedEvents"] = trackedEvents
	stats["localizations"] = s.registry.Count(ctx)
	stats["candidates"] = candidates
	stats["associations"] = associations

	metrics.UpdateQueueSize(queueLen)
	metrics.UpdateTrackedEvents(trackedEvents)
	metrics.UpdateTrackedCandidates(candidates)
	metrics.UpdateStoredAssociations(associations)
	return stats
}

// toAssociationViews converts ranked rows to the API read shape.
func toAssociationViews(rows []rank.Row) []types.AssociationView {
	out := make([]types.AssociationView, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.AssociationView{
			CandidateID: r.Candidate.ID,
			TargetID:    r.Candidate.TargetID,
			EventID:     r.EventID,
			RA:          r.Candidate.RA,
			Dec:         r.Candidate.Dec,
			DetectedAt:  r.Candidate.DetectedAt,
			Mag:         r.Candidate.Mag,
			FWHM:        r.Candidate.FWHM,
			SNR:         r.Candidate.SNR,
			ScoreOld:    r.Candidate.ScoreOld,
			ScoreReal:   r.Candidate.ScoreReal,
			ScoreBogus:  r.Candidate.ScoreBogus,
			Probability: r.Probability,
			DtDays:      r.DtDays,
			Viable:      r.Viable,
		})
	}
	return out
}
