package lossless

import "testing"

func solidARGB(w, h int, c uint32) []uint32 {
	argb := make([]uint32, w*h)
	for i := range argb {
		argb[i] = c
	}
	return argb
}

func TestBuildPalette_CountsUniqueColors(t *testing.T) {
	argb := []uint32{0xff000000, 0xffffffff, 0xff000000, 0xff112233}
	palette, ok := BuildPalette(argb, 2, 2)
	if !ok {
		t.Fatal("expected ok=true for 3 distinct colors")
	}
	if len(palette) != 3 {
		t.Fatalf("len(palette) = %d, want 3", len(palette))
	}
	for i := 1; i < len(palette); i++ {
		if palette[i-1] >= palette[i] {
			t.Errorf("palette not sorted ascending at %d: %#x >= %#x", i, palette[i-1], palette[i])
		}
	}
}

func TestBuildPalette_RejectsTooManyColors(t *testing.T) {
	argb := make([]uint32, 300)
	for i := range argb {
		argb[i] = uint32(i) | 0xff000000
	}
	_, ok := BuildPalette(argb, 300, 1)
	if ok {
		t.Fatal("expected ok=false for 300 distinct colors (> MaxPaletteSize)")
	}
}

func TestPaletteColorDistance_ZeroForIdenticalColors(t *testing.T) {
	c := uint32(0xff123456)
	if d := paletteColorDistance(c, c); d != 0 {
		t.Errorf("paletteColorDistance(c, c) = %d, want 0", d)
	}
}

func TestPaletteColorDistance_WrapsAroundByteBoundary(t *testing.T) {
	// 0x00 vs 0xFF in one channel: direct delta is 255, wrapped delta is 1.
	a := uint32(0xff000000) // alpha=0xff, rgb=0
	b := uint32(0x00000000) // alpha=0x00, rgb=0
	d := paletteColorDistance(a, b)
	if d != 1 {
		t.Errorf("wraparound alpha distance = %d, want 1", d)
	}
}

func TestOrderPalette_LeavesMonotonousPaletteSorted(t *testing.T) {
	// A simple grayscale ramp has monotonous per-channel deltas.
	palette := []uint32{0xff000000, 0xff101010, 0xff202020, 0xff303030}
	want := append([]uint32(nil), palette...)
	OrderPalette(palette)
	for i := range palette {
		if palette[i] != want[i] {
			t.Errorf("monotonous palette was reordered: got %v, want %v", palette, want)
		}
	}
}

func TestOrderPalette_PreservesSetMembership(t *testing.T) {
	palette := []uint32{0xff000000, 0xffff0000, 0xff00ff00, 0xff0000ff, 0xffffffff}
	orig := make(map[uint32]bool, len(palette))
	for _, c := range palette {
		orig[c] = true
	}
	OrderPalette(palette)
	if len(palette) != len(orig) {
		t.Fatalf("OrderPalette changed palette length")
	}
	for _, c := range palette {
		if !orig[c] {
			t.Errorf("OrderPalette introduced unknown color %#x", c)
		}
		delete(orig, c)
	}
	if len(orig) != 0 {
		t.Errorf("OrderPalette lost colors: %v", orig)
	}
}

func TestApplyPalette_RoundTripsIndices(t *testing.T) {
	palette := []uint32{0xff000000, 0xffff0000, 0xff00ff00, 0xff0000ff}
	width, height := 4, 1
	argb := []uint32{palette[0], palette[1], palette[2], palette[3]}

	packed, packedWidth, xBits := ApplyPalette(argb, width, height, palette)
	if xBits != 2 {
		t.Fatalf("xBits = %d, want 2 for a 4-color palette", xBits)
	}
	if packedWidth != VP8LSubSampleSize(width, xBits) {
		t.Fatalf("packedWidth = %d, want %d", packedWidth, VP8LSubSampleSize(width, xBits))
	}

	// Unpack and verify each original pixel's index was recorded correctly.
	pixelsPerWord := 1 << xBits
	bitsPerPixel := 8 / pixelsPerWord
	mask := uint32((1 << bitsPerPixel) - 1)
	for x := 0; x < width; x++ {
		wordPos := x / pixelsPerWord
		bitPos := uint((x % pixelsPerWord) * bitsPerPixel)
		idx := (packed[wordPos] >> (8 + bitPos)) & mask
		if palette[idx] != argb[x] {
			t.Errorf("pixel %d: recovered palette[%d]=%#x, want %#x", x, idx, palette[idx], argb[x])
		}
	}
}

func TestApplyPalette_SingleColorImage(t *testing.T) {
	palette := []uint32{0xff00ff00}
	argb := solidARGB(8, 8, palette[0])
	packed, packedWidth, xBits := ApplyPalette(argb, 8, 8, palette)
	if xBits != 3 {
		t.Fatalf("xBits = %d, want 3 for a 1-color palette", xBits)
	}
	if len(packed) != packedWidth*8 {
		t.Fatalf("len(packed) = %d, want %d", len(packed), packedWidth*8)
	}
}

func TestXBitsForPaletteSize(t *testing.T) {
	cases := []struct {
		size int
		want int
	}{
		{1, 3}, {2, 3}, {3, 2}, {4, 2}, {5, 1}, {16, 1}, {17, 0}, {256, 0},
	}
	for _, c := range cases {
		if got := xBitsForPaletteSize(c.size); got != c.want {
			t.Errorf("xBitsForPaletteSize(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}
