package palettemap

import "testing"

func grayscalePalette(n int) []uint32 {
	palette := make([]uint32, n)
	for i := 0; i < n; i++ {
		v := uint32(i * 255 / (n - 1))
		palette[i] = 0xff000000 | (v << 16) | (v << 8) | v
	}
	return palette
}

func TestMap_CoversEveryCell(t *testing.T) {
	m := New(grayscalePalette(16))
	for _, v := range m.match {
		if int(v) >= len(m.palette) {
			t.Fatalf("cell holds out-of-range palette index %d", v)
		}
	}
}

func TestMap_ExactPaletteColorsResolveToThemselves(t *testing.T) {
	palette := grayscalePalette(16)
	m := New(palette)
	for i, c := range palette {
		idx, _ := m.GetMatch(c)
		if idx != i {
			t.Errorf("GetMatch(%#x) = %d, want %d", c, idx, i)
		}
	}
}

func TestMap_MidGrayResolvesToNearestCentroid(t *testing.T) {
	palette := grayscalePalette(16)
	m := New(palette)
	idx, _ := m.GetMatch(0xff808080)

	// Index 8 sits at v = 8*255/15 = 136, closest to 0x80 (128) among the
	// 16-step ramp.
	if idx != 8 {
		t.Errorf("GetMatch(0x808080) = %d, want 8", idx)
	}
}

func TestMap_SinglePaletteEntry(t *testing.T) {
	m := New([]uint32{0xff112233})
	idx, c := m.GetMatch(0xffffffff)
	if idx != 0 || c != 0xff112233 {
		t.Errorf("single-entry palette should resolve every query to entry 0, got idx=%d color=%#x", idx, c)
	}
}
