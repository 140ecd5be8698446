// Package palettemap implements a fixed-resolution RGB lookup grid that
// answers "which palette entry is closest to this color" in O(1), without
// a teacher precedent: the VP8L reference encoder resolves palette indices
// via a perfect hash over exact colors (see internal/lossless's
// paletteApplier) and has no notion of nearest-match for off-palette
// colors. PaletteMap3D exists for callers that need a fast approximate
// index for arbitrary RGB triples, e.g. near-lossless preprocessing or
// external quantizers built on top of this encoder.
package palettemap

// Bit widths of the fixed-resolution grid: 5 bits of red, 6 of green
// (green gets an extra bit because human vision is more sensitive to it),
// 5 of blue.
const (
	RBits = 5
	GBits = 6
	BBits = 5

	rSize = 1 << RBits
	gSize = 1 << GBits
	bSize = 1 << BBits

	gridSize = rSize * gSize * bSize
)

// Map is an immutable nearest-palette-index lookup grid. Build it once from
// a palette and reuse it for all subsequent GetMatch queries.
type Map struct {
	palette []uint32
	match   []uint8
}

// cellIndex computes the flat grid index for a coarsened (r, g, b) cell.
func cellIndex(r, g, b int) int {
	return (b*rSize+r)*gSize + g
}

// decomposeIndex inverts cellIndex.
func decomposeIndex(idx int) (r, g, b int) {
	g = idx % gSize
	rem := idx / gSize
	r = rem % rSize
	b = rem / rSize
	return r, g, b
}

// New constructs a Map from palette (packed 0xAARRGGBB or 0x00RRGGBB
// colors; the alpha byte is ignored). Construction seeds the cell owned by
// each palette entry's coarsened coordinate, then flood-fills the
// remaining cells by expanding concentric cubes around each seed until
// every cell has an owner.
func New(palette []uint32) *Map {
	m := &Map{
		palette: palette,
		match:   make([]uint8, gridSize),
	}
	m.build()
	return m
}

// build seeds each palette entry's home cell, then flood-fills the rest.
func (m *Map) build() {
	taken := make([]bool, gridSize)
	same := make([]bool, len(m.palette))

	for i, c := range m.palette {
		r, g, b := coarsen(c)
		idx := cellIndex(r, g, b)
		if !taken[idx] {
			taken[idx] = true
			m.match[idx] = uint8(i)
		} else {
			same[i] = true
		}
	}

	remaining := gridSize - countTrue(taken)
	for sqstep := 1; remaining > 0 && sqstep <= rSize+gSize+bSize; sqstep++ {
		for i, c := range m.palette {
			if same[i] {
				continue
			}
			r, g, b := coarsen(c)
			remaining -= m.expandCube(r, g, b, uint8(i), sqstep, taken)
		}
	}

	// Defensive backstop: any cell the cube expansion did not reach is
	// claimed by the nearest seeded palette entry. The sqstep bound exceeds
	// every grid axis, so for a non-empty palette this is not reached.
	if remaining > 0 {
		m.fillRemainder(taken)
	}
}

// expandCube claims unclaimed cells on the surface of the cube of radius
// sqstep centered at (r, g, b) for palette index idx, across the three
// axis-pair sweep families described by the construction algorithm: for
// each fixed offset along one axis, fill the full plane spanned by the
// other two axes within the cube's radius. Returns the number of
// previously-unclaimed cells that were newly claimed.
func (m *Map) expandCube(r, g, b int, idx uint8, sqstep int, taken []bool) int {
	claimed := 0

	claim := func(rr, gg, bb int) {
		if rr < 0 || rr >= rSize || gg < 0 || gg >= gSize || bb < 0 || bb >= bSize {
			return
		}
		i := cellIndex(rr, gg, bb)
		if !taken[i] {
			taken[i] = true
			m.match[i] = idx
			claimed++
		}
	}

	// B-pair sweep: fix b at ±sqstep, vary g and r over the cube face.
	for _, db := range []int{-sqstep, sqstep} {
		for dg := -sqstep; dg <= sqstep; dg++ {
			for dr := -sqstep; dr <= sqstep; dr++ {
				claim(r+dr, g+dg, b+db)
			}
		}
	}
	// G-pair sweep: fix g at ±sqstep, vary b and r.
	for _, dg := range []int{-sqstep, sqstep} {
		for db := -sqstep; db <= sqstep; db++ {
			for dr := -sqstep; dr <= sqstep; dr++ {
				claim(r+dr, g+dg, b+db)
			}
		}
	}
	// R-pair sweep: fix r at ±sqstep, vary b and g.
	for _, dr := range []int{-sqstep, sqstep} {
		for db := -sqstep; db <= sqstep; db++ {
			for dg := -sqstep; dg <= sqstep; dg++ {
				claim(r+dr, g+dg, b+db)
			}
		}
	}

	return claimed
}

// fillRemainder assigns any still-unclaimed cell to the palette index of
// the palette entry whose coarsened cell is nearest by Chebyshev distance.
// build calls it only when cells remain unclaimed after cube expansion.
func (m *Map) fillRemainder(taken []bool) {
	for idx := range m.match {
		if taken[idx] {
			continue
		}
		r, g, b := decomposeIndex(idx)
		best := -1
		bestDist := 1 << 30
		for j, c := range m.palette {
			jr, jg, jb := coarsen(c)
			d := chebyshev(r, g, b, jr, jg, jb)
			if d < bestDist {
				bestDist = d
				best = j
			}
		}
		if best >= 0 {
			m.match[idx] = uint8(best)
		}
	}
}

func chebyshev(r1, g1, b1, r2, g2, b2 int) int {
	d := maxInt(absInt(r1-r2), absInt(g1-g2))
	return maxInt(d, absInt(b1-b2))
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func countTrue(b []bool) int {
	n := 0
	for _, v := range b {
		if v {
			n++
		}
	}
	return n
}

// coarsen extracts (r, g, b) from a packed ARGB color and right-shifts each
// channel to the grid's coordinate space.
func coarsen(c uint32) (r, g, b int) {
	r = int((c>>16)&0xff) >> (8 - RBits)
	g = int((c>>8)&0xff) >> (8 - GBits)
	b = int(c&0xff) >> (8 - BBits)
	return r, g, b
}

// GetMatch returns the palette index and color nearest to pixel's
// coarsened grid cell, in O(1).
func (m *Map) GetMatch(pixel uint32) (index int, color uint32) {
	r, g, b := coarsen(pixel)
	idx := m.match[cellIndex(r, g, b)]
	return int(idx), m.palette[idx]
}
