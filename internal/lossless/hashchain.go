package lossless

// HashChain is the match-finding structure backward-reference generation
// searches against: for every pixel position it remembers the longest
// backward copy available and the distance to it, packed into a single
// uint32 so the LZ77 passes can read a candidate match with one slice index
// instead of walking a chain themselves.
//
// Building it is two passes over the flattened ARGB buffer: a hashing pass
// that threads every pixel position into a singly-linked chain keyed by a
// hash of itself and its neighbor, and a resolution pass that walks each
// chain backwards (right to left across the image) picking the best match
// within budget and extending it leftward wherever the same distance keeps
// paying off.
//
// Reference: libwebp/src/enc/backward_references_enc.c
type HashChain struct {
	// OffsetLength packs (offset, length) per pixel position:
	// offset = value >> maxLengthBits, length = value & maxLength.
	OffsetLength []uint32

	size             int
	hashToFirstIndex []int32 // reusable scratch across Fill calls
}

const (
	hashBits = 18
	hashSize = 1 << hashBits

	maxLengthBits = 12
	maxLength     = (1 << maxLengthBits) - 1

	windowSizeBits = 20
	windowSize     = (1 << windowSizeBits) - 120

	minLength = 4
)

// pairHashMulHi and pairHashMulLo are the two multiplicative constants the
// two-pixel hash combines its inputs with.
const (
	pairHashMulHi = uint32(0xc6a4a793)
	pairHashMulLo = uint32(0x5bd1e996)
)

// hashPixPair hashes two consecutive ARGB pixels read directly from argb.
func hashPixPair(argb []uint32) uint32 {
	return hashPixPairValues(argb[0], argb[1])
}

// hashPixPairValues hashes two explicit ARGB-like values. Used both for the
// literal two-pixel hash and for the (color, run-length) combined hash of a
// repeated-pixel run.
func hashPixPairValues(a, b uint32) uint32 {
	key := b*pairHashMulHi + a*pairHashMulLo
	return key >> (32 - hashBits)
}

// iterBudgetForQuality bounds how many chain hops a match search may take:
// a cheap linear ramp at low/medium quality, a quadratic one above 75 where
// spending more time chasing a better match is worth it.
func iterBudgetForQuality(quality int) int {
	if quality <= 75 {
		return 8 + quality/3
	}
	return 8 + (quality*quality)/128
}

// matchLength compares array1 against array2 up to maxLimit, starting from
// an already-known bestLenMatch: if the pixel at that offset already
// disagrees, the match can't beat the current best and the scan is skipped
// entirely.
func matchLength(array1, array2 []uint32, bestLenMatch, maxLimit int) int {
	if bestLenMatch < maxLimit && array1[bestLenMatch] != array2[bestLenMatch] {
		return 0
	}
	n := 0
	for n < maxLimit && array1[n] == array2[n] {
		n++
	}
	return n
}

// clampToMaxLength caps a proposed match length at the format's maximum.
func clampToMaxLength(length int) int {
	if length < maxLength {
		return length
	}
	return maxLength
}

// NewHashChain allocates a HashChain sized for an image of size pixels.
func NewHashChain(size int) *HashChain {
	return &HashChain{
		OffsetLength:     make([]uint32, size),
		size:             size,
		hashToFirstIndex: make([]int32, hashSize),
	}
}

// GetLength returns the match length recorded at pos.
func (hc *HashChain) GetLength(pos int) int {
	return int(hc.OffsetLength[pos]) & maxLength
}

// GetOffset returns the match distance recorded at pos.
func (hc *HashChain) GetOffset(pos int) int {
	return int(hc.OffsetLength[pos]) >> maxLengthBits
}

// GetWindowSizeForHashChain scales down the hash chain's search window as
// quality drops, trading match quality for speed on cheap encodes.
func GetWindowSizeForHashChain(quality int, xsize int) int {
	shift := 4
	switch {
	case quality > 75:
		return windowSize
	case quality > 50:
		shift = 8
	case quality > 25:
		shift = 6
	}
	if maxWin := xsize << uint(shift); maxWin <= windowSize {
		return maxWin
	}
	return windowSize
}

// Fill builds the hash chain over argb (a xsize*ysize image), bounding the
// match search by quality. lowEffort skips the spatial heuristics that
// check the pixel directly above and to the left before falling back to
// the hash chain walk.
func (hc *HashChain) Fill(argb []uint32, quality int, xsize, ysize int, lowEffort bool) {
	size := xsize * ysize
	if size <= 2 {
		hc.OffsetLength[0] = 0
		if size > 1 {
			hc.OffsetLength[size-1] = 0
		}
		return
	}

	iterMax := iterBudgetForQuality(quality)
	winSize := uint32(GetWindowSizeForHashChain(quality, xsize))

	hc.buildChains(argb, size)
	hc.resolveMatches(argb, size, xsize, iterMax, winSize, lowEffort)
}

// buildChains threads every pixel position (except the last) into a
// singly-linked chain, keyed by a hash of itself and its successor.
// Inside a run of identical consecutive pixels each position is keyed
// instead by (color, remaining run length), so the positions of a long run
// are spread over many chains rather than all sharing one.
func (hc *HashChain) buildChains(argb []uint32, size int) {
	hashToFirstIndex := hc.hashToFirstIndex
	for i := range hashToFirstIndex {
		hashToFirstIndex[i] = -1
	}
	chain := hc.OffsetLength // reinterpreted as a chain of int32 "previous index" links

	sameAsNext := argb[0] == argb[1]
	for pos := 0; pos < size-2; {
		nextSameAsNext := argb[pos+1] == argb[pos+2]
		if sameAsNext && nextSameAsNext {
			color := argb[pos]
			runLen := uint32(1)
			for pos+int(runLen)+2 < size && argb[pos+int(runLen)+2] == color {
				runLen++
			}
			if runLen > maxLength {
				// Positions beyond maxLength can't be reached by any length
				// code; skip them rather than hashing a match nothing can use.
				skip := int(runLen - maxLength)
				for k := 0; k < skip; k++ {
					chain[pos+k] = uint32(0xFFFFFFFF) // -1
				}
				pos += skip
				runLen = maxLength
			}
			for runLen > 0 {
				h := hashPixPairValues(color, runLen)
				chain[pos] = uint32(hashToFirstIndex[h])
				hashToFirstIndex[h] = int32(pos)
				pos++
				runLen--
			}
			sameAsNext = false
		} else {
			h := hashPixPair(argb[pos:])
			chain[pos] = uint32(hashToFirstIndex[h])
			hashToFirstIndex[h] = int32(pos)
			pos++
			sameAsNext = nextSameAsNext
		}
	}
	if size >= 3 {
		chain[size-2] = uint32(hashToFirstIndex[hashPixPair(argb[size-2:])])
	}
}

// resolveMatches walks the image right to left, turning the chains built by
// buildChains into a best (offset, length) choice per position, then
// extends each match leftward as far as it stays valid.
func (hc *HashChain) resolveMatches(argb []uint32, size, xsize int, iterMax int, winSize uint32, lowEffort bool) {
	chain := hc.OffsetLength
	hc.OffsetLength[0] = 0
	hc.OffsetLength[size-1] = 0

	for basePosition := uint32(size - 2); basePosition > 0; {
		maxLen := clampToMaxLength(int(uint32(size) - 1 - basePosition))
		argbStart := argb[basePosition:]
		iter := iterMax
		bestLength := 0
		bestDistance := uint32(0)
		minPos := int32(0)
		if basePosition > winSize {
			minPos = int32(basePosition - winSize)
		}
		lengthMax := maxLen
		if lengthMax > 256 {
			lengthMax = 256
		}

		pos := int32(chain[basePosition])

		if !lowEffort {
			if basePosition >= uint32(xsize) {
				if n := matchLength(argb[basePosition-uint32(xsize):], argbStart, bestLength, maxLen); n > bestLength {
					bestLength = n
					bestDistance = uint32(xsize)
				}
				iter--
			}
			if n := matchLength(argb[basePosition-1:], argbStart, bestLength, maxLen); n > bestLength {
				bestLength = n
				bestDistance = 1
			}
			iter--
			if bestLength == maxLength {
				pos = minPos - 1 // already at the cap, skip the chain walk
			}
		}

		bestArgb := argbStart[bestLength]

		for ; pos >= minPos && iter > 0; pos = int32(chain[pos]) {
			iter--

			if argb[pos+int32(bestLength)] != bestArgb {
				continue
			}

			n := matchLength(argb[pos:], argbStart, 0, maxLen)
			if bestLength < n {
				bestLength = n
				bestDistance = basePosition - uint32(pos)
				bestArgb = argbStart[bestLength]
				if bestLength >= lengthMax {
					break
				}
			}
		}

		basePosition = hc.extendLeft(basePosition, bestLength, bestDistance, argb)
	}
}

// extendLeft records the match at basePosition and then, for as long as the
// same distance keeps matching, walks leftward recording progressively
// shorter matches at the same distance instead of re-searching from
// scratch. Returns the next basePosition to resolve.
func (hc *HashChain) extendLeft(basePosition uint32, bestLength int, bestDistance uint32, argb []uint32) uint32 {
	maxBasePosition := basePosition
	for {
		if bestLength > maxLength {
			bestLength = maxLength
		}
		hc.OffsetLength[basePosition] = (bestDistance << maxLengthBits) | uint32(bestLength)
		basePosition--
		if bestDistance == 0 || basePosition == 0 {
			break
		}
		if basePosition < bestDistance || argb[basePosition-bestDistance] != argb[basePosition] {
			break
		}
		// At the length cap there might be a closer match of the same
		// length further left; only keep extending at distance 1, where
		// nothing closer could ever exist.
		if bestLength == maxLength && bestDistance != 1 &&
			basePosition+uint32(maxLength) < maxBasePosition {
			break
		}
		if bestLength < maxLength {
			bestLength++
			maxBasePosition = basePosition
		}
	}
	return basePosition
}

// DistanceToPlaneCode converts a raw pixel distance into a VP8L plane
// distance code: distances that land near the current pixel (within the
// local 8x8-ish neighborhood the format special-cases) get a small code
// from planeToCodeLUT; everything else falls back to the raw distance
// offset by the plane code count.
func DistanceToPlaneCode(xsize int, dist int) int {
	yoffset := dist / xsize
	xoffset := dist - yoffset*xsize
	switch {
	case xoffset <= 8 && yoffset < 8:
		return int(planeToCodeLUT[yoffset*16+8-xoffset]) + 1
	case xoffset > xsize-8 && yoffset < 7:
		return int(planeToCodeLUT[(yoffset+1)*16+8+(xsize-xoffset)]) + 1
	default:
		return dist + CodeToPlaneCodesCount
	}
}

// planeToCodeLUT maps (dy*16 + 8-dx) to its plane distance code, built at
// init time as the inverse of CodeToPlane.
var planeToCodeLUT [128]uint8

func init() {
	for i := 0; i < CodeToPlaneCodesCount; i++ {
		code := CodeToPlane[i]
		yoff := int(code >> 4)
		xoff := 8 - int(code&0xf)
		planeToCodeLUT[yoff*16+8-xoff] = uint8(i)
	}
}
