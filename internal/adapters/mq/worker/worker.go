// Package worker runs the pool that drains the detection queue into the
// association engine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/healpix"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/model"
	"github.com/SAGUARO-MMA/saguaro-tom/pkg/logger"
	"github.com/SAGUARO-MMA/saguaro-tom/pkg/metrics"
)

// defaultWorkerMultiplier scales runtime.NumCPU() when no count is given.
const defaultWorkerMultiplier = 4

// Detection abstracts what workers read off the queue.
type Detection = model.Candidate

// Matcher associates one candidate with the events it is consistent with.
type Matcher interface {
	IngestCandidate(ctx context.Context, cand model.Candidate) ([]model.Association, error)
}

// Queue defines how workers receive detections.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Detection
}

// Worker processes detections from the queue.
type Worker struct {
	queue   Queue
	matcher Matcher
	name    string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewWorker creates a worker with configuration options.
func NewWorker(queue Queue, matcher Matcher, opts ...Option) *Worker {
	w := &Worker{
		queue:    queue,
		matcher:  matcher,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run starts the worker loop until ctx is canceled or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	detections := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case d, ok := <-detections:
			if !ok {
				return
			}
			w.process(ctx, d)
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *Worker) Shutdown(ctx context.Context) error {
	close(w.shutdown)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process matches one detection. A coordinate failure skips association
// only; the detection itself was already retained by the engine.
func (w *Worker) process(ctx context.Context, d Detection) {
	matched, err := w.matcher.IngestCandidate(ctx, d)
	if err != nil {
		if errors.Is(err, healpix.ErrCoordinate) {
			w.logger.Warn(ctx, "detection has unresolvable coordinates, association skipped",
				logger.String("candidateID", d.ID),
				logger.Float64("ra", d.RA),
				logger.Float64("dec", d.Dec),
			)
			return
		}
		metrics.RecordErrorByComponent("worker", "ingest")
		w.logger.Error(ctx, "detection ingest failed",
			logger.String("candidateID", d.ID),
			logger.Error(err),
		)
		return
	}
	w.logger.Debug(ctx, "detection processed",
		logger.String("candidateID", d.ID),
		logger.Int("matches", len(matched)),
	)
}

// Pool manages multiple workers.
type Pool struct {
	workers []*Worker
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers over the queue.
func NewPool(workerCount int, queue Queue, matcher Matcher) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	p := &Pool{
		workers: make([]*Worker, workerCount),
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		p.workers[i] = NewWorker(queue, matcher, WithName("worker-"+strconv.Itoa(i)))
	}

	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
}

// Stop shuts the pool down, waiting for in-flight detections.
func (p *Pool) Stop(ctx context.Context) {
	for _, w := range p.workers {
		if err := w.Shutdown(ctx); err != nil {
			p.logger.Warn(ctx, "worker did not stop cleanly", logger.Error(err))
		}
	}
	metrics.UpdateWorkerCount(0)
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int {
	return len(p.workers)
}
