package localization_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/healpix"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/skymap"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/localization"
	. "github.com/smartystreets/goconvey/convey"
)

// testBlob serializes an order-0 map concentrating hotMass at (ra, dec).
func testBlob(ra, dec, hotMass float64) []byte {
	hot, err := healpix.AngToPix(0, ra, dec)
	So(err, ShouldBeNil)
	prob := make([]float64, 12)
	for i := range prob {
		prob[i] = (1 - hotMass) / 11
	}
	prob[hot] = hotMass
	raw, _ := json.Marshal(map[string]any{"nside": 1, "prob": prob})
	return raw
}

func parseBlob(raw []byte) *skymap.Map {
	m, err := skymap.Parse(raw)
	So(err, ShouldBeNil)
	return m
}

func TestRegister(t *testing.T) {
	Convey("Given an empty registry", t, func() {
		ctx := context.Background()
		reg := localization.New()
		sky1 := parseBlob(testBlob(45, 45, 0.9))
		sky2 := parseBlob(testBlob(45, 45, 0.7))

		Convey("When registering revisions in increasing order", func() {
			loc1, err := reg.Register(ctx, "S250101a", 1, sky1)
			So(err, ShouldBeNil)
			loc2, err := reg.Register(ctx, "S250101a", 3, sky2)
			So(err, ShouldBeNil)

			Convey("Then the highest revision is authoritative", func() {
				cur := reg.Current(ctx, "S250101a")
				So(cur, ShouldEqual, loc2)
				So(cur.Revision, ShouldEqual, 3)
			})

			Convey("Then history keeps every revision in order", func() {
				hist := reg.History(ctx, "S250101a")
				So(hist, ShouldHaveLength, 2)
				So(hist[0], ShouldEqual, loc1)
				So(hist[1], ShouldEqual, loc2)
			})

			Convey("Then the registry counts one event", func() {
				So(reg.Count(ctx), ShouldEqual, 1)
			})
		})

		Convey("When a revision regresses", func() {
			_, err := reg.Register(ctx, "S250101a", 2, sky1)
			So(err, ShouldBeNil)
			_, err = reg.Register(ctx, "S250101a", 2, sky2)

			Convey("Then it is rejected and the current one is unchanged", func() {
				So(errors.Is(err, localization.ErrOutOfOrder), ShouldBeTrue)
				So(reg.Current(ctx, "S250101a").Sky, ShouldEqual, sky1)
			})
		})

		Convey("When registering a nil skymap", func() {
			_, err := reg.Register(ctx, "S250101a", 1, nil)
			So(err, ShouldNotBeNil)
		})

		Convey("When the event has no localization", func() {
			So(reg.Current(ctx, "unknown"), ShouldBeNil)
		})
	})
}

func TestParseOnce(t *testing.T) {
	Convey("Given a registry memoizing parses", t, func() {
		ctx := context.Background()
		reg := localization.New()
		blob := testBlob(45, 45, 0.9)

		Convey("When parsing the same revision twice", func() {
			m1, err := reg.ParseOnce(ctx, "S250101a", 1, blob)
			So(err, ShouldBeNil)
			m2, err := reg.ParseOnce(ctx, "S250101a", 1, blob)
			So(err, ShouldBeNil)

			Convey("Then the same map instance is returned", func() {
				So(m1, ShouldEqual, m2)
			})
		})

		Convey("When the blob is malformed", func() {
			_, err := reg.ParseOnce(ctx, "S250101a", 1, []byte("nope"))

			Convey("Then the failure is not memoized", func() {
				So(errors.Is(err, skymap.ErrFormat), ShouldBeTrue)
				m, err := reg.ParseOnce(ctx, "S250101a", 1, blob)
				So(err, ShouldBeNil)
				So(m, ShouldNotBeNil)
			})
		})
	})
}

func TestRetraction(t *testing.T) {
	Convey("Given a registry with a localized event", t, func() {
		ctx := context.Background()
		reg := localization.New()
		sky := parseBlob(testBlob(45, 45, 0.9))
		_, err := reg.Register(ctx, "S250101a", 1, sky)
		So(err, ShouldBeNil)

		Convey("When the event is retracted", func() {
			reg.MarkRetracted(ctx, "S250101a")

			Convey("Then no localization is authoritative", func() {
				So(reg.Current(ctx, "S250101a"), ShouldBeNil)
				loc, effective := reg.Effective(ctx, "S250101a")
				So(loc, ShouldBeNil)
				So(effective, ShouldBeNil)
			})

			Convey("Then history is retained", func() {
				So(reg.History(ctx, "S250101a"), ShouldHaveLength, 1)
			})
		})
	})
}

func TestCoincidence(t *testing.T) {
	Convey("Given two localized events", t, func() {
		ctx := context.Background()
		reg := localization.New()
		skyA := parseBlob(testBlob(45, 45, 0.9))
		skyB := parseBlob(testBlob(45, 45, 0.8))
		combined := parseBlob(testBlob(45, 45, 0.95))

		_, err := reg.Register(ctx, "S250101a", 1, skyA)
		So(err, ShouldBeNil)
		_, err = reg.Register(ctx, "E250101b", 1, skyB)
		So(err, ShouldBeNil)

		Convey("When linking them without a combined map", func() {
			So(reg.LinkCoincidence(ctx, "S250101a", "E250101b", nil), ShouldBeNil)

			Convey("Then the link is bidirectional", func() {
				So(reg.Partners(ctx, "S250101a"), ShouldResemble, []string{"E250101b"})
				So(reg.Partners(ctx, "E250101b"), ShouldResemble, []string{"S250101a"})
			})

			Convey("Then each event still filters on its own map", func() {
				loc, effective := reg.Effective(ctx, "S250101a")
				So(loc.Sky, ShouldEqual, skyA)
				So(effective, ShouldEqual, skyA)
			})
		})

		Convey("When linking them with a combined map", func() {
			So(reg.LinkCoincidence(ctx, "S250101a", "E250101b", combined), ShouldBeNil)

			Convey("Then the combined map supersedes both", func() {
				locA, effA := reg.Effective(ctx, "S250101a")
				So(locA.Sky, ShouldEqual, skyA)
				So(effA, ShouldEqual, combined)

				locB, effB := reg.Effective(ctx, "E250101b")
				So(locB.Sky, ShouldEqual, skyB)
				So(effB, ShouldEqual, combined)
			})
		})

		Convey("When a partner has no localization", func() {
			err := reg.LinkCoincidence(ctx, "S250101a", "unknown", nil)
			So(errors.Is(err, localization.ErrNotFound), ShouldBeTrue)
		})
	})
}
