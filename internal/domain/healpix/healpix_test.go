package healpix_test

import (
	"math"
	"testing"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/healpix"
	. "github.com/smartystreets/goconvey/convey"
)

func TestPixelGeometry(t *testing.T) {
	Convey("Given the nested pixelization", t, func() {
		Convey("When computing counts and areas per order", func() {
			Convey("Then nside and npix follow the HEALPix scaling", func() {
				So(healpix.NSide(0), ShouldEqual, 1)
				So(healpix.NSide(5), ShouldEqual, 32)
				So(healpix.NPix(0), ShouldEqual, 12)
				So(healpix.NPix(3), ShouldEqual, 768)
			})

			Convey("Then pixel areas tile the full sphere", func() {
				for order := 0; order <= 10; order++ {
					total := healpix.PixArea(order) * float64(healpix.NPix(order))
					So(total, ShouldAlmostEqual, 4*math.Pi, 1e-9)
				}
			})
		})
	})
}

func TestValidateCoords(t *testing.T) {
	Convey("Given coordinate validation", t, func() {
		Convey("When coordinates are in range", func() {
			So(healpix.ValidateCoords(0, 0), ShouldBeNil)
			So(healpix.ValidateCoords(360, 90), ShouldBeNil)
			So(healpix.ValidateCoords(123.4, -56.7), ShouldBeNil)
		})

		Convey("When coordinates are out of range or unresolvable", func() {
			for _, c := range [][2]float64{
				{-1, 0}, {361, 0}, {0, 91}, {0, -91},
				{math.NaN(), 0}, {0, math.NaN()}, {math.Inf(1), 0},
			} {
				err := healpix.ValidateCoords(c[0], c[1])
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "out of range")
			}
		})
	})
}

func TestAngToPix(t *testing.T) {
	Convey("Given angle to nested pixel conversion", t, func() {
		Convey("When resolving a grid of positions", func() {
			Convey("Then every pixel index is within range at each order", func() {
				for order := 0; order <= 8; order += 2 {
					npix := healpix.NPix(order)
					for ra := 0.0; ra < 360; ra += 30 {
						for dec := -85.0; dec <= 85; dec += 17 {
							pix, err := healpix.AngToPix(order, ra, dec)
							So(err, ShouldBeNil)
							So(pix, ShouldBeGreaterThanOrEqualTo, 0)
							So(pix, ShouldBeLessThan, npix)
						}
					}
				}
			})

			Convey("Then deeper pixels nest inside their parents", func() {
				for ra := 0.0; ra < 360; ra += 45 {
					for dec := -80.0; dec <= 80; dec += 20 {
						shallow, err := healpix.AngToPix(4, ra, dec)
						So(err, ShouldBeNil)
						deep, err := healpix.AngToPix(9, ra, dec)
						So(err, ShouldBeNil)
						So(healpix.Ancestor(9, deep, 4), ShouldEqual, shallow)
					}
				}
			})
		})

		Convey("When positions are well separated", func() {
			a, err := healpix.AngToPix(6, 10, 40)
			So(err, ShouldBeNil)
			b, err := healpix.AngToPix(6, 190, -40)
			So(err, ShouldBeNil)

			Convey("Then they land in different pixels", func() {
				So(a, ShouldNotEqual, b)
			})
		})

		Convey("When the order is out of range", func() {
			_, err := healpix.AngToPix(healpix.MaxOrder+1, 0, 0)
			So(err, ShouldNotBeNil)

			_, err = healpix.AngToPix(-1, 0, 0)
			So(err, ShouldNotBeNil)
		})

		Convey("When the coordinates are invalid", func() {
			_, err := healpix.AngToPix(5, 400, 0)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestUniqEncoding(t *testing.T) {
	Convey("Given the UNIQ multi-order encoding", t, func() {
		Convey("When round-tripping order and pixel index", func() {
			for order := 0; order <= 12; order++ {
				for _, ipix := range []int64{0, 1, healpix.NPix(order) / 2, healpix.NPix(order) - 1} {
					uniq := healpix.ToUniq(order, ipix)
					gotOrder, gotIpix, err := healpix.FromUniq(uniq)
					So(err, ShouldBeNil)
					So(gotOrder, ShouldEqual, order)
					So(gotIpix, ShouldEqual, ipix)
				}
			}
		})

		Convey("When decoding values below the minimum", func() {
			for _, uniq := range []int64{0, 1, 2, 3} {
				_, _, err := healpix.FromUniq(uniq)
				So(err, ShouldNotBeNil)
			}
		})
	})
}

func TestAncestor(t *testing.T) {
	Convey("Given ancestor lookup across orders", t, func() {
		Convey("When the parent order equals the pixel order", func() {
			So(healpix.Ancestor(7, 12345, 7), ShouldEqual, 12345)
		})

		Convey("When walking up one order at a time", func() {
			// Each step divides the index by 4.
			pix := int64(0b110110)
			So(healpix.Ancestor(3, pix, 2), ShouldEqual, pix>>2)
			So(healpix.Ancestor(3, pix, 1), ShouldEqual, pix>>4)
			So(healpix.Ancestor(3, pix, 0), ShouldEqual, pix>>6)
		})
	})
}
