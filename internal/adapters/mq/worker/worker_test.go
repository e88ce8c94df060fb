package worker_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/adapters/mq/queue"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/adapters/mq/worker"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/healpix"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/model"
	"github.com/SAGUARO-MMA/saguaro-tom/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

// countingMatcher records every candidate it ingests.
type countingMatcher struct {
	mu    sync.Mutex
	seen  map[string]int
	errFn func(cand model.Candidate) error
}

func newCountingMatcher() *countingMatcher {
	return &countingMatcher{seen: make(map[string]int)}
}

func (m *countingMatcher) IngestCandidate(ctx context.Context, cand model.Candidate) ([]model.Association, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errFn != nil {
		if err := m.errFn(cand); err != nil {
			return nil, err
		}
	}
	m.seen[cand.ID]++
	return nil, nil
}

func (m *countingMatcher) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.seen {
		n += c
	}
	return n
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestWorkerPool(t *testing.T) {
	Convey("Given a worker pool over a detection queue", t, func() {
		ctx := context.Background()

		Convey("When detections are enqueued", func() {
			q := queue.NewInMemoryQueue(queue.WithCapacity(100), queue.WithBufferSize(100))
			matcher := newCountingMatcher()
			pool := worker.NewPool(4, q, matcher)
			pool.Start(ctx)

			for i := 0; i < 20; i++ {
				So(q.Enqueue(ctx, model.Candidate{ID: fmt.Sprintf("d%d", i)}), ShouldBeTrue)
			}

			Convey("Then every detection is processed exactly once", func() {
				So(waitFor(func() bool { return matcher.total() == 20 }), ShouldBeTrue)
				for i := 0; i < 20; i++ {
					matcher.mu.Lock()
					count := matcher.seen[fmt.Sprintf("d%d", i)]
					matcher.mu.Unlock()
					So(count, ShouldEqual, 1)
				}
				pool.Stop(ctx)
			})
		})

		Convey("When a detection has unresolvable coordinates", func() {
			q := queue.NewInMemoryQueue(queue.WithCapacity(100), queue.WithBufferSize(100))
			matcher := newCountingMatcher()
			matcher.errFn = func(cand model.Candidate) error {
				if cand.ID == "bad" {
					return fmt.Errorf("%w: ra out of range", healpix.ErrCoordinate)
				}
				return nil
			}
			pool := worker.NewPool(2, q, matcher)
			pool.Start(ctx)

			So(q.Enqueue(ctx, model.Candidate{ID: "bad"}), ShouldBeTrue)
			So(q.Enqueue(ctx, model.Candidate{ID: "good"}), ShouldBeTrue)

			Convey("Then the pool keeps draining past the failure", func() {
				So(waitFor(func() bool { return matcher.total() == 1 }), ShouldBeTrue)
				matcher.mu.Lock()
				good := matcher.seen["good"]
				matcher.mu.Unlock()
				So(good, ShouldEqual, 1)
				pool.Stop(ctx)
			})
		})

		Convey("When the pool size is not positive", func() {
			q := queue.NewInMemoryQueue()
			pool := worker.NewPool(0, q, newCountingMatcher())

			Convey("Then it falls back to a CPU-scaled default", func() {
				So(pool.Size(), ShouldBeGreaterThan, 0)
			})
		})
	})
}
