package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new InMemoryDeduper", t, func() {
		ctx := context.Background()

		Convey("When recording detections", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("And the detection is new", func() {
				seen := d.SeenAndRecord(ctx, "det-1")

				Convey("Then it is recorded as unseen", func() {
					So(seen, ShouldBeFalse)
					So(d.Size(), ShouldEqual, 1)
				})
			})

			Convey("And the detection was already seen", func() {
				d.SeenAndRecord(ctx, "det-1")
				seen := d.SeenAndRecord(ctx, "det-1")

				Convey("Then it reports a duplicate", func() {
					So(seen, ShouldBeTrue)
					So(d.Size(), ShouldEqual, 1)
				})
			})
		})

		Convey("When unrecording a detection", func() {
			d := dedupe.NewInMemoryDeduper()
			d.SeenAndRecord(ctx, "det-1")
			d.Unrecord(ctx, "det-1")

			Convey("Then the detection can be recorded again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "det-1"), ShouldBeFalse)
			})

			Convey("And unrecording an unknown id is harmless", func() {
				d.Unrecord(ctx, "never-seen")
				So(d.Size(), ShouldBeGreaterThanOrEqualTo, 0)
			})
		})

		Convey("When the cache reaches its size bound", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
			for i := 0; i < 5; i++ {
				d.SeenAndRecord(ctx, fmt.Sprintf("det-%d", i))
			}

			Convey("Then older entries are evicted", func() {
				So(d.Size(), ShouldEqual, 3)
				// The oldest id was evicted and is no longer a duplicate.
				So(d.SeenAndRecord(ctx, "det-0"), ShouldBeFalse)
				// The newest id is still a duplicate.
				So(d.SeenAndRecord(ctx, "det-4"), ShouldBeTrue)
			})
		})

		Convey("When accessed concurrently", func() {
			d := dedupe.NewInMemoryDeduper()
			var wg sync.WaitGroup
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					d.SeenAndRecord(ctx, fmt.Sprintf("det-%d", i%8))
				}(i)
			}
			wg.Wait()

			Convey("Then each distinct id is recorded once", func() {
				So(d.Size(), ShouldEqual, 8)
			})
		})
	})
}
