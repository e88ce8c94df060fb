package queue_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/adapters/mq/queue"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func detection(id string) model.Candidate {
	return model.Candidate{ID: id, RA: 45, Dec: 45, DetectedAt: time.Now().UTC()}
}

func TestInMemoryQueue(t *testing.T) {
	Convey("Given an in-memory detection queue", t, func() {
		ctx := context.Background()

		Convey("When enqueueing and dequeueing", func() {
			q := queue.NewInMemoryQueue(queue.WithCapacity(10), queue.WithBufferSize(10))

			So(q.Enqueue(ctx, detection("d1")), ShouldBeTrue)
			So(q.Enqueue(ctx, detection("d2")), ShouldBeTrue)
			So(q.Len(ctx), ShouldEqual, 2)

			out := q.Dequeue(ctx)
			first := <-out
			second := <-out

			Convey("Then detections come out in order", func() {
				So(first.ID, ShouldEqual, "d1")
				So(second.ID, ShouldEqual, "d2")
			})
		})

		Convey("When the queue is full", func() {
			q := queue.NewInMemoryQueue(queue.WithCapacity(2), queue.WithBufferSize(2))
			So(q.Enqueue(ctx, detection("d1")), ShouldBeTrue)
			So(q.Enqueue(ctx, detection("d2")), ShouldBeTrue)

			Convey("Then further enqueues are rejected without blocking", func() {
				So(q.Enqueue(ctx, detection("d3")), ShouldBeFalse)
				So(q.Len(ctx), ShouldEqual, 2)
			})
		})

		Convey("When the queue is closed", func() {
			q := queue.NewInMemoryQueue(queue.WithCapacity(10), queue.WithBufferSize(10))
			So(q.Enqueue(ctx, detection("d1")), ShouldBeTrue)
			So(q.Close(), ShouldBeNil)

			Convey("Then it reports closed and rejects new detections", func() {
				So(q.IsClosed(), ShouldBeTrue)
				So(q.Enqueue(ctx, detection("d2")), ShouldBeFalse)
			})

			Convey("Then buffered detections drain before the channel closes", func() {
				out := q.Dequeue(ctx)
				d, ok := <-out
				So(ok, ShouldBeTrue)
				So(d.ID, ShouldEqual, "d1")
				_, ok = <-out
				So(ok, ShouldBeFalse)
			})

			Convey("Then closing twice is harmless", func() {
				So(q.Close(), ShouldBeNil)
			})
		})

		Convey("When many detections flow through", func() {
			q := queue.NewInMemoryQueue(queue.WithCapacity(100), queue.WithBufferSize(100))
			for i := 0; i < 50; i++ {
				So(q.Enqueue(ctx, detection(fmt.Sprintf("d%d", i))), ShouldBeTrue)
			}
			So(q.Close(), ShouldBeNil)

			count := 0
			for range q.Dequeue(ctx) {
				count++
			}

			Convey("Then every detection is delivered exactly once", func() {
				So(count, ShouldEqual, 50)
			})
		})
	})
}
