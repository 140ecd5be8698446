// Package pool hands out reusable byte buffers in power-of-two size
// classes, so that staging a RIFF container (or any other scratch region
// whose size is known up front) doesn't force a fresh allocation on every
// encode call.
package pool

import (
	"math/bits"
	"sync"
)

// classFloor is the smallest size class this package will hand out; requests
// at or below it still cost one pool round-trip rather than being inlined,
// since callers rarely know in advance that their buffer will stay this
// small.
const classFloor = 256

// classCeil is the largest size class. Anything requested above it bypasses
// the pool entirely — Put silently drops such a buffer rather than growing
// the table to accommodate one-off outsized requests.
const classCeil = 1 << 20

// classFor reports which bucket a buffer of the given size belongs to, as an
// index into buckets. Sizes are rounded up to the next power of two at or
// above classFloor.
func classFor(size int) int {
	if size <= classFloor {
		return 0
	}
	if size > classCeil {
		return -1
	}
	// bits.Len(n-1) gives the exponent of the smallest power of two >= n.
	shift := bits.Len(uint(size - 1))
	floorShift := bits.Len(uint(classFloor - 1))
	return shift - floorShift
}

// classSize returns the buffer size a given bucket index hands out.
func classSize(idx int) int {
	return classFloor << uint(idx)
}

const numClasses = 13 // covers classFloor (256B) through classCeil (1MiB)

var buckets [numClasses]sync.Pool

func init() {
	for i := range buckets {
		size := classSize(i)
		buckets[i] = sync.Pool{
			New: func() any {
				b := make([]byte, size)
				return &b
			},
		}
	}
}

// Get returns a byte slice with length exactly size, borrowed from the
// bucket whose class size is the smallest power of two (>= classFloor) not
// less than size. The caller must return it with Put when done; failing to
// do so only costs an extra allocation on the next Get, never a leak.
func Get(size int) []byte {
	idx := classFor(size)
	if idx < 0 {
		return make([]byte, size)
	}
	bp := buckets[idx].Get().(*[]byte)
	b := *bp
	if cap(b) < size {
		b = make([]byte, classSize(idx))
	}
	return b[:size]
}

// Put returns a buffer obtained from Get back to its bucket. Buffers whose
// capacity doesn't land on an exact class boundary (or that were never
// pool-backed, e.g. the make() fallback in Get) are dropped rather than
// forced into the wrong bucket.
func Put(b []byte) {
	c := cap(b)
	idx := classFor(c)
	if idx < 0 || classSize(idx) != c {
		return
	}
	b = b[:c]
	buckets[idx].Put(&b)
}
