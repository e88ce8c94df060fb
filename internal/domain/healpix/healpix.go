// Package healpix implements the nested-scheme HEALPix pixel math needed to
// locate sky positions inside multi-resolution probability maps.
//
// Only the operations the skymap layer needs are implemented: angle to
// nested pixel index, UNIQ encoding for multi-order tiles, ancestor lookup
// and per-order pixel areas. The algorithm follows the standard HEALPix
// ang2pix_nest construction.
package healpix

import (
	"fmt"
	"math"
	"math/bits"
)

// MaxOrder is the deepest supported resolution (nside 2^29, the limit that
// keeps nested indices within int64).
const MaxOrder = 29

const degToRad = math.Pi / 180

// NSide returns the nside for a given order.
func NSide(order int) int64 {
	return 1 << uint(order)
}

// NPix returns the total number of pixels at a given order.
func NPix(order int) int64 {
	nside := NSide(order)
	return 12 * nside * nside
}

// PixArea returns the area of one pixel at the given order, in steradians.
// All pixels at an order have equal area.
func PixArea(order int) float64 {
	return 4 * math.Pi / float64(NPix(order))
}

// ValidateCoords checks that ra/dec form a resolvable sky position.
func ValidateCoords(ra, dec float64) error {
	if math.IsNaN(ra) || math.IsInf(ra, 0) || ra < 0 || ra > 360 {
		return fmt.Errorf("%w: ra %v out of range [0, 360]", ErrCoordinate, ra)
	}
	if math.IsNaN(dec) || math.IsInf(dec, 0) || dec < -90 || dec > 90 {
		return fmt.Errorf("%w: dec %v out of range [-90, 90]", ErrCoordinate, dec)
	}
	return nil
}

// AngToPix returns the nested pixel index containing (ra, dec) degrees at
// the given order. Unresolvable coordinates yield ErrCoordinate.
func AngToPix(order int, ra, dec float64) (int64, error) {
	if order < 0 || order > MaxOrder {
		return 0, fmt.Errorf("%w: order %d out of range [0, %d]", ErrCoordinate, order, MaxOrder)
	}
	if err := ValidateCoords(ra, dec); err != nil {
		return 0, err
	}

	nside := NSide(order)
	z := math.Sin(dec * degToRad)
	za := math.Abs(z)
	phi := ra * degToRad
	tt := math.Mod(phi/(math.Pi/2), 4) // longitude in units of pi/2, [0, 4)
	if tt < 0 {
		tt += 4
	}

	var face, ix, iy int64
	if za <= 2.0/3.0 {
		// Equatorial region
		temp1 := float64(nside) * (0.5 + tt)
		temp2 := float64(nside) * (z * 0.75)
		jp := int64(temp1 - temp2) // ascending edge line index
		jm := int64(temp1 + temp2) // descending edge line index

		ifp := jp >> uint(order)
		ifm := jm >> uint(order)
		switch {
		case ifp == ifm:
			face = (ifp & 3) + 4
		case ifp < ifm:
			face = ifp & 3
		default:
			face = (ifm & 3) + 8
		}
		ix = jm & (nside - 1)
		iy = nside - (jp & (nside - 1)) - 1
	} else {
		// Polar caps
		ntt := int64(tt)
		if ntt >= 4 {
			ntt = 3
		}
		tp := tt - float64(ntt)
		tmp := float64(nside) * math.Sqrt(3*(1-za))

		jp := int64(tp * tmp)
		jm := int64((1 - tp) * tmp)
		if jp >= nside {
			jp = nside - 1
		}
		if jm >= nside {
			jm = nside - 1
		}
		if z >= 0 {
			face = ntt
			ix = nside - jm - 1
			iy = nside - jp - 1
		} else {
			face = ntt + 8
			ix = jp
			iy = jm
		}
	}

	return face*nside*nside + spreadBits(ix) + spreadBits(iy)<<1, nil
}

// spreadBits interleaves zeros between the bits of v (z-order curve half).
func spreadBits(v int64) int64 {
	x := uint64(v) & 0xffffffff
	x = (x | x<<16) & 0x0000ffff0000ffff
	x = (x | x<<8) & 0x00ff00ff00ff00ff
	x = (x | x<<4) & 0x0f0f0f0f0f0f0f0f
	x = (x | x<<2) & 0x3333333333333333
	x = (x | x<<1) & 0x5555555555555555
	return int64(x)
}

// ToUniq encodes (order, nested index) in the UNIQ multi-order scheme:
// uniq = 4*nside^2 + ipix.
func ToUniq(order int, ipix int64) int64 {
	return 4*(1<<uint(2*order)) + ipix
}

// FromUniq decodes a UNIQ value into its order and nested index.
func FromUniq(uniq int64) (order int, ipix int64, err error) {
	if uniq < 4 {
		return 0, 0, fmt.Errorf("%w: uniq %d below minimum", ErrInvalidPixel, uniq)
	}
	order = (63-bits.LeadingZeros64(uint64(uniq)))/2 - 1
	ipix = uniq - 4*(1<<uint(2*order))
	if ipix >= NPix(order) {
		return 0, 0, fmt.Errorf("%w: uniq %d has pixel index beyond order %d", ErrInvalidPixel, uniq, order)
	}
	return order, ipix, nil
}

// Ancestor returns the index of the pixel at parentOrder that contains the
// pixel ipix at order. parentOrder must not exceed order.
func Ancestor(order int, ipix int64, parentOrder int) int64 {
	return ipix >> uint(2*(order-parentOrder))
}
