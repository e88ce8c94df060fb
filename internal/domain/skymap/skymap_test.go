package skymap_test

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"testing"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/healpix"
	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/skymap"
	. "github.com/smartystreets/goconvey/convey"
)

// flatBlob serializes a fixed-resolution map.
func flatBlob(nside int64, prob []float64) []byte {
	raw, _ := json.Marshal(map[string]any{"nside": nside, "prob": prob})
	return raw
}

// hotspotProb builds an order-0 probability array concentrating hotMass on
// the pixel containing (ra, dec) and spreading the rest evenly.
func hotspotProb(ra, dec, hotMass float64) ([]float64, int64) {
	hot, err := healpix.AngToPix(0, ra, dec)
	So(err, ShouldBeNil)
	prob := make([]float64, 12)
	for i := range prob {
		prob[i] = (1 - hotMass) / 11
	}
	prob[hot] = hotMass
	return prob, hot
}

func TestParse(t *testing.T) {
	Convey("Given serialized skymap blobs", t, func() {
		Convey("When parsing a valid fixed-resolution map", func() {
			prob, _ := hotspotProb(45, 45, 0.9)
			m, err := skymap.Parse(flatBlob(1, prob))

			Convey("Then it builds with total probability one", func() {
				So(err, ShouldBeNil)
				So(m.NumTiles(), ShouldEqual, 12)
				So(m.MaxOrder(), ShouldEqual, 0)
				So(m.TotalProbability(), ShouldAlmostEqual, 1, 1e-12)
			})
		})

		Convey("When parsing a gzip-compressed blob", func() {
			prob, _ := hotspotProb(45, 45, 0.9)
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			_, err := zw.Write(flatBlob(1, prob))
			So(err, ShouldBeNil)
			So(zw.Close(), ShouldBeNil)

			m, err := skymap.Parse(buf.Bytes())

			Convey("Then it decompresses transparently", func() {
				So(err, ShouldBeNil)
				So(m.NumTiles(), ShouldEqual, 12)
			})
		})

		Convey("When parsing a multi-order tile map", func() {
			// Uniform order-1 coverage with one hot tile.
			hot, err := healpix.AngToPix(1, 120, -30)
			So(err, ShouldBeNil)
			area := healpix.PixArea(1)
			tiles := make([]map[string]any, 0, 48)
			for i := int64(0); i < 48; i++ {
				mass := 0.5 / 47
				if i == hot {
					mass = 0.5
				}
				tiles = append(tiles, map[string]any{
					"uniq":        healpix.ToUniq(1, i),
					"probdensity": mass / area,
				})
			}
			raw, _ := json.Marshal(map[string]any{"tiles": tiles})
			m, err := skymap.Parse(raw)

			Convey("Then the hot tile encloses its own mass", func() {
				So(err, ShouldBeNil)
				enc, err := m.EnclosedProbability(120, -30)
				So(err, ShouldBeNil)
				So(enc, ShouldAlmostEqual, 0.5, 1e-9)
			})
		})

		Convey("When carrying a distance header", func() {
			prob, _ := hotspotProb(45, 45, 0.9)
			raw, _ := json.Marshal(map[string]any{
				"nside": 1, "prob": prob, "distmean": 150.0, "diststd": 40.0,
			})
			m, err := skymap.Parse(raw)
			So(err, ShouldBeNil)

			mean, std, ok := m.Distance()
			So(ok, ShouldBeTrue)
			So(mean, ShouldEqual, 150.0)
			So(std, ShouldEqual, 40.0)
		})

		Convey("When the blob is malformed", func() {
			prob, _ := hotspotProb(45, 45, 0.9)

			cases := map[string][]byte{
				"empty":            {},
				"not json":         []byte("{{{"),
				"no metadata":      []byte(`{}`),
				"bad nside":        flatBlob(3, prob),
				"length mismatch":  flatBlob(2, prob),
				"negative prob":    flatBlob(1, []float64{-0.1, 1.1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}),
				"sum far from one": flatBlob(1, []float64{0.5, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}),
			}
			for name := range cases {
				_, err := skymap.Parse(cases[name])
				So(err, ShouldNotBeNil)
				So(errors.Is(err, skymap.ErrFormat), ShouldBeTrue)
			}
		})

		Convey("When a tile id is duplicated", func() {
			area := healpix.PixArea(0)
			tiles := []map[string]any{
				{"uniq": healpix.ToUniq(0, 0), "probdensity": 0.5 / area},
				{"uniq": healpix.ToUniq(0, 0), "probdensity": 0.5 / area},
			}
			raw, _ := json.Marshal(map[string]any{"tiles": tiles})
			_, err := skymap.Parse(raw)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "duplicate tile")
		})
	})
}

func TestEnclosedProbability(t *testing.T) {
	Convey("Given a map with a 90% hotspot", t, func() {
		prob, hot := hotspotProb(45, 45, 0.9)
		m, err := skymap.Parse(flatBlob(1, prob))
		So(err, ShouldBeNil)

		Convey("When querying inside the hotspot", func() {
			enc, err := m.EnclosedProbability(45, 45)

			Convey("Then the enclosed probability is the hotspot mass", func() {
				So(err, ShouldBeNil)
				So(enc, ShouldAlmostEqual, 0.9, 1e-9)
			})
		})

		Convey("When querying outside the hotspot", func() {
			// Find a position resolving to a different pixel.
			var ra, dec float64 = 225, -45
			pix, err := healpix.AngToPix(0, ra, dec)
			So(err, ShouldBeNil)
			So(pix, ShouldNotEqual, hot)

			enc, err := m.EnclosedProbability(ra, dec)

			Convey("Then the enclosed probability exceeds the hotspot mass", func() {
				So(err, ShouldBeNil)
				So(enc, ShouldBeGreaterThan, 0.9)
				So(enc, ShouldBeLessThanOrEqualTo, 1+1e-9)
			})
		})

		Convey("When querying with invalid coordinates", func() {
			_, err := m.EnclosedProbability(400, 0)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestCredibleRegion(t *testing.T) {
	Convey("Given a map with a 90% hotspot", t, func() {
		prob, hot := hotspotProb(45, 45, 0.9)
		m, err := skymap.Parse(flatBlob(1, prob))
		So(err, ShouldBeNil)

		Convey("When extracting regions at rising confidence", func() {
			r50 := m.CredibleRegion(0.5)
			r90 := m.CredibleRegion(0.9)
			r99 := m.CredibleRegion(0.99)

			Convey("Then regions grow monotonically", func() {
				So(len(r50), ShouldBeLessThanOrEqualTo, len(r90))
				So(len(r90), ShouldBeLessThanOrEqualTo, len(r99))
			})

			Convey("Then the boundary tile is included", func() {
				// The hotspot alone carries 0.9, so the 90% region is
				// exactly that one tile.
				So(r90, ShouldResemble, []int64{healpix.ToUniq(0, hot)})
			})

			Convey("Then a level between cumulative sums keeps the crossing tile", func() {
				// Cumulative sums step 0.9, 0.909, 0.918, ... so 0.95
				// falls between tiles; the region must extend through
				// the seventh tile to actually enclose 0.95.
				r95 := m.CredibleRegion(0.95)
				So(len(r95), ShouldEqual, 7)
				mass := 0.9 + float64(len(r95)-1)*(0.1/11)
				So(mass, ShouldBeGreaterThanOrEqualTo, 0.95)
			})

			Convey("Then repeated queries hit the memo", func() {
				So(m.CredibleRegion(0.9), ShouldResemble, r90)
			})
		})

		Convey("When the level is not positive", func() {
			So(m.CredibleRegion(0), ShouldBeNil)
			So(m.CredibleRegion(-1), ShouldBeNil)
		})
	})
}

func TestContainsAndArea(t *testing.T) {
	Convey("Given a map with a 90% hotspot", t, func() {
		prob, _ := hotspotProb(45, 45, 0.9)
		m, err := skymap.Parse(flatBlob(1, prob))
		So(err, ShouldBeNil)

		Convey("When testing containment at the closed boundary", func() {
			inside, enc, err := m.Contains(45, 45, 0.9)
			So(err, ShouldBeNil)
			So(inside, ShouldBeTrue)
			So(enc, ShouldAlmostEqual, 0.9, 1e-9)

			inside, _, err = m.Contains(225, -45, 0.9)
			So(err, ShouldBeNil)
			So(inside, ShouldBeFalse)
		})

		Convey("When computing region areas", func() {
			// One order-0 pixel covers 1/12 of the sphere.
			fullSky := 360 * 360 / 3.141592653589793 // 4*pi steradians in deg^2
			So(m.Area(0.9), ShouldAlmostEqual, fullSky/12, 1e-6)
			So(m.Area(0.999), ShouldAlmostEqual, fullSky, 1e-6)
		})
	})
}
