package lossless

import (
	"sort"

	"golang.org/x/exp/constraints"
)

// Color-indexing (palette) transform: unique-color extraction, greedy
// delta-minimizing reorder for sequential compressibility, and perfect-hash
// (with sorted-binary-search fallback) index application.
//
// Reference: libwebp/src/enc/vp8l_enc.c (AnalyzeAndCreatePalette,
// PaletteSortMinimizeDeltas, ApplyPalette).

// minOf returns the smaller of two values of any ordered integer type. Used
// to fold a byte-domain delta and its wraparound complement together.
func minOf[T constraints.Integer](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// BuildPalette scans all pixels to collect unique colors, sorted ascending
// by packed ARGB value. Returns ok=false if there are more than
// MaxPaletteSize distinct colors.
func BuildPalette(argb []uint32, width, height int) (palette []uint32, ok bool) {
	colorSet := make(map[uint32]struct{}, MaxPaletteSize+1)
	total := width * height

	for i := 0; i < total; i++ {
		colorSet[argb[i]] = struct{}{}
		if len(colorSet) > MaxPaletteSize {
			return nil, false
		}
	}

	palette = make([]uint32, 0, len(colorSet))
	for c := range colorSet {
		palette = append(palette, c)
	}
	sort.Slice(palette, func(i, j int) bool { return palette[i] < palette[j] })

	return palette, true
}

// wrapDelta returns min(v, 256-v) for a byte-domain component delta, so
// that a large delta in one direction is treated the same as the short
// wraparound delta in the other direction.
func wrapDelta(v uint32) int {
	d := int(v & 0xff)
	return minOf(d, 256-d)
}

// paletteColorDistance computes the weighted channel distance between two
// packed ARGB colors: 9*(dr+dg+db) + da, where each per-channel delta is
// first reduced mod 256 and then wrapped via min(d, 256-d).
func paletteColorDistance(a, b uint32) int {
	// Component-wise subtraction a-b with per-byte wraparound, same bias
	// trick as subPixels, so borrows don't leak across channel boundaries.
	diff := subPixels(a, b)
	dAlpha := wrapDelta(diff >> 24)
	dRed := wrapDelta(diff >> 16)
	dGreen := wrapDelta(diff >> 8)
	dBlue := wrapDelta(diff)
	return 9*(dRed+dGreen+dBlue) + dAlpha
}

// paletteHasNonMonotonousDeltas reports whether the sign of consecutive
// per-channel deltas changes anywhere along the (sorted) palette — i.e.
// whether simply emitting the palette in sorted order would compress
// poorly under delta coding.
func paletteHasNonMonotonousDeltas(palette []uint32) bool {
	if len(palette) < 3 {
		return false
	}

	channelSign := func(prev, cur uint32, shift uint) int {
		p := int(int8(prev >> shift))
		c := int(int8(cur >> shift))
		switch {
		case c > p:
			return 1
		case c < p:
			return -1
		default:
			return 0
		}
	}

	var prevSigns [4]int
	first := true
	for i := 1; i < len(palette); i++ {
		prev, cur := palette[i-1], palette[i]
		var signs [4]int
		signs[0] = channelSign(prev, cur, 24)
		signs[1] = channelSign(prev, cur, 16)
		signs[2] = channelSign(prev, cur, 8)
		signs[3] = channelSign(prev, cur, 0)

		if !first {
			for c := 0; c < 4; c++ {
				if prevSigns[c] != 0 && signs[c] != 0 && prevSigns[c] != signs[c] {
					return true
				}
			}
		}
		for c := 0; c < 4; c++ {
			if signs[c] != 0 {
				prevSigns[c] = signs[c]
			}
		}
		first = false
	}
	return false
}

// greedyMinimizeDeltas reorders palette in place. Starting from a zero
// predictor, it repeatedly swaps to the front the remaining entry that
// minimizes paletteColorDistance to the current predictor, then advances
// the predictor to that entry. This trades palette-value monotonicity for
// better sequential compressibility of the differentially-coded palette
// image written with the color-indexing transform.
func greedyMinimizeDeltas(palette []uint32) {
	n := len(palette)
	predict := uint32(0)
	for i := 0; i < n; i++ {
		bestIdx := i
		bestDist := paletteColorDistance(palette[i], predict)
		for j := i + 1; j < n; j++ {
			d := paletteColorDistance(palette[j], predict)
			if d < bestDist {
				bestDist = d
				bestIdx = j
			}
		}
		palette[i], palette[bestIdx] = palette[bestIdx], palette[i]
		predict = palette[i]
	}
}

// OrderPalette finalizes the emission order of palette in place: if the
// sorted palette already has monotonous per-channel deltas, it is left
// sorted; otherwise greedyMinimizeDeltas reorders it for better
// differential compression.
func OrderPalette(palette []uint32) {
	if paletteHasNonMonotonousDeltas(palette) {
		greedyMinimizeDeltas(palette)
	}
}

// Perfect-hash constants for ApplyPalette. The table has 1<<11 = 2048
// slots; each candidate hash function is tried in turn and the first one
// that places every palette color into a distinct slot is used directly as
// an index LUT, avoiding a binary search per pixel.
const paletteHashBits = 11
const paletteHashSize = 1 << paletteHashBits

func paletteHash0(c uint32) uint32 { return (c >> 8) & 0xff }
func paletteHash1(c uint32) uint32 { return (c * 4222244071) >> (32 - paletteHashBits) }
func paletteHash2(c uint32) uint32 { return (c * 0x7fffffff) >> (32 - paletteHashBits) }

var paletteHashFuncs = [3]func(uint32) uint32{paletteHash0, paletteHash1, paletteHash2}

// buildPerfectHashLUT attempts each candidate hash function against
// palette and returns the LUT and hash function for the first
// collision-free one.
func buildPerfectHashLUT(palette []uint32) (lut []int32, hashFunc func(uint32) uint32, ok bool) {
	lut = make([]int32, paletteHashSize)
	for _, h := range paletteHashFuncs {
		for i := range lut {
			lut[i] = -1
		}
		collided := false
		for i, c := range palette {
			slot := h(c)
			if lut[slot] != -1 {
				collided = true
				break
			}
			lut[slot] = int32(i)
		}
		if !collided {
			return lut, h, true
		}
	}
	return nil, nil, false
}

// paletteApplier resolves a packed ARGB color to its index in palette
// (palette's own order, not necessarily sorted — see OrderPalette).
type paletteApplier struct {
	hashFunc   func(uint32) uint32
	hashLUT    []int32
	sortedVals []uint32
	sortedIdx  []int32
}

// newPaletteApplier builds the fastest available lookup strategy for
// palette: a perfect hash when one of the three candidates is
// collision-free, otherwise a sorted-value binary search with an index map
// back to palette's emission order.
func newPaletteApplier(palette []uint32) *paletteApplier {
	if lut, h, ok := buildPerfectHashLUT(palette); ok {
		return &paletteApplier{hashFunc: h, hashLUT: lut}
	}

	n := len(palette)
	sortedVals := make([]uint32, n)
	sortedIdx := make([]int32, n)
	type pair struct {
		val uint32
		idx int32
	}
	pairs := make([]pair, n)
	for i, c := range palette {
		pairs[i] = pair{c, int32(i)}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].val < pairs[j].val })
	for i, p := range pairs {
		sortedVals[i] = p.val
		sortedIdx[i] = p.idx
	}
	return &paletteApplier{sortedVals: sortedVals, sortedIdx: sortedIdx}
}

// index returns the palette index for color c.
func (pa *paletteApplier) index(c uint32) uint32 {
	if pa.hashLUT != nil {
		return uint32(pa.hashLUT[pa.hashFunc(c)])
	}
	lo, hi := 0, len(pa.sortedVals)
	for lo < hi {
		mid := (lo + hi) / 2
		if pa.sortedVals[mid] < c {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return uint32(pa.sortedIdx[lo])
}

// xBitsForPaletteSize returns the bundle-packing exponent for a palette of
// the given size: 2^xBits indices are bundled per output pixel.
func xBitsForPaletteSize(paletteSize int) int {
	switch {
	case paletteSize <= 2:
		return 3
	case paletteSize <= 4:
		return 2
	case paletteSize <= 16:
		return 1
	default:
		return 0
	}
}

// ApplyPalette replaces each pixel with its palette index (packed into the
// green channel) and bundles multiple indices per output word according to
// xBitsForPaletteSize(len(palette)).
func ApplyPalette(argb []uint32, width, height int, palette []uint32) (packed []uint32, packedWidth, xBits int) {
	applier := newPaletteApplier(palette)
	xBits = xBitsForPaletteSize(len(palette))

	indices := make([]uint32, width*height)
	for i, c := range argb {
		indices[i] = applier.index(c)
	}

	packed, packedWidth = BundleColorMap(indices, width, height, xBits)
	return packed, packedWidth, xBits
}

// BundleColorMap packs 1/2/4/8 palette indices per output uint32 (green
// channel byte) depending on xBits ∈ {0,1,2,3}: pixelsPerWord = 1<<xBits.
func BundleColorMap(indices []uint32, width, height, xBits int) (packed []uint32, packedWidth int) {
	pixelsPerWord := 1 << xBits
	packedWidth = VP8LSubSampleSize(width, xBits)
	packed = make([]uint32, packedWidth*height)

	if pixelsPerWord == 1 {
		for y := 0; y < height; y++ {
			srcRow := y * width
			dstRow := y * packedWidth
			for x := 0; x < width; x++ {
				packed[dstRow+x] = ARGBBlack | (indices[srcRow+x] << 8)
			}
		}
		return packed, packedWidth
	}

	bitsPerPixel := 8 / pixelsPerWord
	bitMask := uint32((1 << bitsPerPixel) - 1)
	for y := 0; y < height; y++ {
		srcRow := y * width
		dstRow := y * packedWidth
		for x := 0; x < width; x++ {
			idx := indices[srcRow+x] & bitMask
			wordPos := x / pixelsPerWord
			bitPos := uint((x % pixelsPerWord) * bitsPerPixel)
			if bitPos == 0 {
				packed[dstRow+wordPos] = ARGBBlack
			}
			packed[dstRow+wordPos] |= idx << (8 + bitPos)
		}
	}
	return packed, packedWidth
}
