// Package skymap models a gravitational-wave probability sky map.
//
// A map is built once from a serialized blob and is immutable afterwards,
// so probability queries are safe for unsynchronized concurrent readers.
// Credible regions and areas are memoized per confidence level because
// queries repeat the same thresholds.
package skymap

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/healpix"
	"github.com/SAGUARO-MMA/saguaro-tom/pkg/metrics"
)

// sumTolerance bounds how far the total probability of an incoming map may
// deviate from unity before the blob is rejected as malformed. Accepted
// maps are renormalized to exactly 1.
const sumTolerance = 1e-4

const radToDeg = 180 / math.Pi

// tile is one multi-order pixel with its probability mass and its rank in
// the density-ordered cumulative sum.
type tile struct {
	uniq    int64
	order   int
	ipix    int64
	mass    float64
	density float64 // mass per steradian
	cum     float64 // cumulative mass including this tile, density-descending
}

// Map is an immutable probability sky map.
type Map struct {
	tiles    []tile        // sorted by density descending
	byUniq   map[int64]int // uniq -> index into tiles
	minOrder int
	maxOrder int

	distMean float64
	distStd  float64
	hasDist  bool

	mu      sync.RWMutex
	regions map[float64][]int64
	areas   map[float64]float64
}

// serialized blob shapes. Multi-order maps carry UNIQ tiles with densities
// per steradian; fixed-resolution maps carry a flat per-pixel mass array.
type blob struct {
	NSide    int64      `json:"nside"`
	Prob     []float64  `json:"prob"`
	Tiles    []blobTile `json:"tiles"`
	DistMean *float64   `json:"distmean"`
	DistStd  *float64   `json:"diststd"`
}

type blobTile struct {
	Uniq        int64   `json:"uniq"`
	ProbDensity float64 `json:"probdensity"`
}

// Parse decodes a serialized skymap blob, transparently decompressing gzip
// input, and validates it. Malformed input yields ErrFormat.
func Parse(raw []byte) (*Map, error) {
	start := time.Now()
	defer func() {
		metrics.RecordSkymapParse(time.Since(start).Seconds())
	}()

	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty blob", ErrFormat)
	}
	if len(raw) >= 2 && raw[0] == 0x1f && raw[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: bad gzip stream: %v", ErrFormat, err)
		}
		defer zr.Close()
		raw, err = io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("%w: truncated gzip stream: %v", ErrFormat, err)
		}
	}

	var b blob
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return build(&b)
}

// build assembles the density-ranked cumulative structure from a decoded blob.
func build(b *blob) (*Map, error) {
	var tiles []tile
	switch {
	case len(b.Tiles) > 0:
		tiles = make([]tile, 0, len(b.Tiles))
		for _, t := range b.Tiles {
			order, ipix, err := healpix.FromUniq(t.Uniq)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrFormat, err)
			}
			if t.ProbDensity < 0 || math.IsNaN(t.ProbDensity) || math.IsInf(t.ProbDensity, 0) {
				return nil, fmt.Errorf("%w: tile %d has invalid probability density", ErrFormat, t.Uniq)
			}
			area := healpix.PixArea(order)
			tiles = append(tiles, tile{
				uniq:    t.Uniq,
				order:   order,
				ipix:    ipix,
				mass:    t.ProbDensity * area,
				density: t.ProbDensity,
			})
		}
	case len(b.Prob) > 0:
		if b.NSide <= 0 || b.NSide&(b.NSide-1) != 0 {
			return nil, fmt.Errorf("%w: missing or non-power-of-two nside", ErrFormat)
		}
		order := 0
		for order < healpix.MaxOrder && healpix.NSide(order) < b.NSide {
			order++
		}
		if healpix.NSide(order) != b.NSide {
			return nil, fmt.Errorf("%w: nside %d beyond supported range", ErrFormat, b.NSide)
		}
		if int64(len(b.Prob)) != healpix.NPix(order) {
			return nil, fmt.Errorf("%w: probability array length %d does not match nside %d",
				ErrFormat, len(b.Prob), b.NSide)
		}
		area := healpix.PixArea(order)
		tiles = make([]tile, 0, len(b.Prob))
		for i, p := range b.Prob {
			if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
				return nil, fmt.Errorf("%w: pixel %d has invalid probability", ErrFormat, i)
			}
			ipix := int64(i)
			tiles = append(tiles, tile{
				uniq:    healpix.ToUniq(order, ipix),
				order:   order,
				ipix:    ipix,
				mass:    p,
				density: p / area,
			})
		}
	default:
		return nil, fmt.Errorf("%w: missing resolution metadata (no tiles and no nside/prob array)", ErrFormat)
	}

	var total float64
	for _, t := range tiles {
		total += t.mass
	}
	if math.Abs(total-1) > sumTolerance {
		return nil, fmt.Errorf("%w: probability sums to %g, expected ~1", ErrFormat, total)
	}

	// Renormalize, then rank by density. Mixing resolutions in one
	// cumulative sum is safe because ranking is by density while the sum
	// accumulates per-tile mass (density times area).
	for i := range tiles {
		tiles[i].mass /= total
		tiles[i].density /= total
	}
	sort.Slice(tiles, func(i, j int) bool {
		if tiles[i].density != tiles[j].density {
			return tiles[i].density > tiles[j].density
		}
		return tiles[i].uniq < tiles[j].uniq
	})

	m := &Map{
		tiles:    tiles,
		byUniq:   make(map[int64]int, len(tiles)),
		minOrder: healpix.MaxOrder,
		maxOrder: 0,
		regions:  make(map[float64][]int64),
		areas:    make(map[float64]float64),
	}
	var cum float64
	for i := range tiles {
		cum += tiles[i].mass
		tiles[i].cum = cum
		if prev, dup := m.byUniq[tiles[i].uniq]; dup {
			return nil, fmt.Errorf("%w: duplicate tile %d at positions %d and %d",
				ErrFormat, tiles[i].uniq, prev, i)
		}
		m.byUniq[tiles[i].uniq] = i
		if tiles[i].order < m.minOrder {
			m.minOrder = tiles[i].order
		}
		if tiles[i].order > m.maxOrder {
			m.maxOrder = tiles[i].order
		}
	}
	if b.DistMean != nil && b.DistStd != nil {
		m.distMean = *b.DistMean
		m.distStd = *b.DistStd
		m.hasDist = true
	}
	return m, nil
}

// EnclosedProbability returns the probability mass of the smallest credible
// region containing (ra, dec): the cumulative, density-ranked mass up to and
// including the tile covering the point. Points outside a sparse map are
// only enclosed at the 100% level and return 1.
func (m *Map) EnclosedProbability(ra, dec float64) (float64, error) {
	deep, err := healpix.AngToPix(m.maxOrder, ra, dec)
	if err != nil {
		return 0, err
	}
	t, ok := m.find(deep)
	if !ok {
		return 1, nil
	}
	return t.cum, nil
}

// find resolves the tile containing the deep pixel, walking up the pixel
// hierarchy through every stored order.
func (m *Map) find(deep int64) (tile, bool) {
	for order := m.maxOrder; order >= m.minOrder; order-- {
		uniq := healpix.ToUniq(order, healpix.Ancestor(m.maxOrder, deep, order))
		if i, ok := m.byUniq[uniq]; ok {
			return m.tiles[i], true
		}
	}
	return tile{}, false
}

// CredibleRegion returns the UNIQ ids of the smallest region containing
// probability p. The boundary is closed: the region extends through the
// first tile whose cumulative mass reaches p, so the enclosed mass is
// never below p. Results are memoized per p.
func (m *Map) CredibleRegion(p float64) []int64 {
	if p <= 0 {
		return nil
	}
	m.mu.RLock()
	cached, ok := m.regions[p]
	m.mu.RUnlock()
	if ok {
		metrics.RecordRegionCacheHit()
		return cached
	}
	metrics.RecordRegionCacheMiss()

	// Tiles are cum-ordered, so the region is a prefix ending at the tile
	// whose cumulative mass crosses p.
	n := sort.Search(len(m.tiles), func(i int) bool {
		return m.tiles[i].cum >= p-floatSlack
	})
	if n < len(m.tiles) {
		n++
	}
	region := make([]int64, n)
	for i := 0; i < n; i++ {
		region[i] = m.tiles[i].uniq
	}

	m.mu.Lock()
	m.regions[p] = region
	m.mu.Unlock()
	return region
}

// floatSlack absorbs rounding in the cumulative sums so that the closed
// boundary stays closed at exactly representable thresholds.
const floatSlack = 1e-12

// Contains reports whether (ra, dec) falls inside the credible region at
// level p, along with the enclosed probability at the point.
func (m *Map) Contains(ra, dec, p float64) (bool, float64, error) {
	enc, err := m.EnclosedProbability(ra, dec)
	if err != nil {
		return false, 0, err
	}
	return enc <= p+floatSlack, enc, nil
}

// Area returns the sky area of the credible region at level p, in square
// degrees. Memoized per p.
func (m *Map) Area(p float64) float64 {
	m.mu.RLock()
	cached, ok := m.areas[p]
	m.mu.RUnlock()
	if ok {
		return cached
	}

	var sr float64
	for _, uniq := range m.CredibleRegion(p) {
		order, _, _ := healpix.FromUniq(uniq)
		sr += healpix.PixArea(order)
	}
	deg2 := sr * radToDeg * radToDeg

	m.mu.Lock()
	m.areas[p] = deg2
	m.mu.Unlock()
	return deg2
}

// TotalProbability returns the probability integrated over the whole map.
func (m *Map) TotalProbability() float64 {
	if len(m.tiles) == 0 {
		return 0
	}
	return m.tiles[len(m.tiles)-1].cum
}

// NumTiles returns the number of stored tiles.
func (m *Map) NumTiles() int {
	return len(m.tiles)
}

// MaxOrder returns the deepest resolution order present in the map.
func (m *Map) MaxOrder() int {
	return m.maxOrder
}

// Distance returns the distance estimate carried in the blob header, in
// Mpc, and whether one was present.
func (m *Map) Distance() (mean, std float64, ok bool) {
	return m.distMean, m.distStd, m.hasDist
}
