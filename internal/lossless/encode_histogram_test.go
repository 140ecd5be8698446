package lossless

import (
	"math"
	"testing"
)

// uniformHistogram builds a Histogram where every one of the five channels
// carries the same count at the given symbol, a shape reused across several
// of the tests below.
func uniformHistogram(symbol int, count uint32) *Histogram {
	h := NewHistogram(0)
	h.Literal[symbol] = count
	h.Red[symbol] = count
	h.Blue[symbol] = count
	h.Alpha[symbol] = count
	h.computeHistogramCost()
	return h
}

func TestFastSLog2(t *testing.T) {
	for _, tt := range []struct {
		v    uint32
		want float64
	}{
		{0, 0},
		{1, 0},
		{2, 2},
		{4, 8},
	} {
		if got := fastSLog2(tt.v); math.Abs(got-tt.want) > 0.01 {
			t.Errorf("fastSLog2(%d) = %f, want %f", tt.v, got, tt.want)
		}
	}
}

func TestBitsEntropyRefine(t *testing.T) {
	cases := map[string]struct {
		be   bitEntropy
		want float64
	}{
		"single symbol": {bitEntropy{nonzeros: 1, sum: 100}, 0},
		"zero symbols":  {bitEntropy{nonzeros: 0}, 0},
		// 0.99*sum + 0.01*entropy for exactly two symbols.
		"two symbols": {bitEntropy{nonzeros: 2, sum: 100, entropy: 50}, 99.5},
	}
	for name, tt := range cases {
		be := tt.be
		if got := bitsEntropyRefine(&be); math.Abs(got-tt.want) > 0.01 {
			t.Errorf("%s: bitsEntropyRefine = %f, want %f", name, got, tt.want)
		}
	}
}

func TestPopulationCost(t *testing.T) {
	t.Run("empty population is unused and non-trivial", func(t *testing.T) {
		_, trivSym, isUsed := populationCost(make([]uint32, 256))
		if isUsed {
			t.Error("empty population should not be marked used")
		}
		if trivSym != nonTrivialSym {
			t.Errorf("trivialSymbol = %d, want nonTrivialSym", trivSym)
		}
	})

	t.Run("single nonzero symbol is trivial", func(t *testing.T) {
		pop := make([]uint32, 256)
		pop[42] = 100
		cost, trivSym, isUsed := populationCost(pop)
		if !isUsed || trivSym != 42 {
			t.Errorf("isUsed=%v trivialSymbol=%d, want true/42", isUsed, trivSym)
		}
		if cost < 0 {
			t.Errorf("cost = %f, want >= 0", cost)
		}
	})

	t.Run("uniform spread is non-trivial and costly", func(t *testing.T) {
		pop := make([]uint32, 256)
		for i := range pop {
			pop[i] = 10
		}
		cost, trivSym, isUsed := populationCost(pop)
		if !isUsed || trivSym != nonTrivialSym {
			t.Errorf("isUsed=%v trivialSymbol=%d, want true/nonTrivialSym", isUsed, trivSym)
		}
		if cost <= 0 {
			t.Errorf("cost = %f, want > 0 for a spread population", cost)
		}
	})
}

// TestCombinedEntropyMatchesSeparateSum checks that the no-allocation combined
// path (getCombinedEntropyUnrefined) produces the same entropy/sum/nonzeros
// as materializing X+Y and running the single-array path over it -- the two
// code paths share accumulateStreak but walk the data differently, so this
// pins down that they still agree.
func TestCombinedEntropyMatchesSeparateSum(t *testing.T) {
	x := []uint32{0, 0, 3, 3, 3, 0, 7, 7, 0, 0, 0, 0, 5}
	y := []uint32{1, 0, 0, 3, 0, 0, 0, 1, 0, 0, 0, 2, 0}

	combined := make([]uint32, len(x))
	for i := range x {
		combined[i] = x[i] + y[i]
	}

	wantBE, wantSt := getEntropyUnrefined(combined)
	gotBE, gotSt := getCombinedEntropyUnrefined(x, y)

	if gotBE != wantBE {
		t.Errorf("getCombinedEntropyUnrefined = %+v, want %+v", gotBE, wantBE)
	}
	if gotSt != wantSt {
		t.Errorf("streaks = %+v, want %+v", gotSt, wantSt)
	}
}

func TestHistogramComputeCost(t *testing.T) {
	h := NewHistogram(0)
	h.Literal[0] = 50
	h.Literal[1] = 50
	h.Red[0] = 100
	h.Blue[0] = 100
	h.Alpha[0] = 100
	h.computeHistogramCost()

	if h.bitCost <= 0 {
		t.Errorf("bitCost = %f, want > 0", h.bitCost)
	}
	if h.costs[histLiteral] <= 0 {
		t.Error("literal cost should be positive")
	}
	if !h.isUsed[histLiteral] {
		t.Error("literal channel should be marked used")
	}
	if h.trivialSymbol[histRed] != 0 {
		t.Errorf("red trivialSymbol = %d, want 0 (single symbol)", h.trivialSymbol[histRed])
	}
}

func TestHistogramIsEmpty(t *testing.T) {
	h := NewHistogram(0)
	h.computeHistogramCost()
	if !h.isEmpty() {
		t.Error("a freshly cleared histogram should report isEmpty")
	}

	h.Distance[3] = 1
	h.computeHistogramCost()
	if h.isEmpty() {
		t.Error("a histogram with distance counts should not report isEmpty")
	}
}

func TestHistogramAdd(t *testing.T) {
	a, b, out := NewHistogram(0), NewHistogram(0), NewHistogram(0)
	a.Literal[0], a.Red[5] = 10, 20
	b.Literal[0], b.Red[5] = 30, 40

	histogramAdd(a, b, out)

	if out.Literal[0] != 40 {
		t.Errorf("Literal[0] = %d, want 40", out.Literal[0])
	}
	if out.Red[5] != 60 {
		t.Errorf("Red[5] = %d, want 60", out.Red[5])
	}

	t.Run("in place", func(t *testing.T) {
		a, b := NewHistogram(0), NewHistogram(0)
		a.Literal[0], b.Literal[0] = 10, 20
		histogramAdd(a, b, a)
		if a.Literal[0] != 30 {
			t.Errorf("Literal[0] = %d, want 30", a.Literal[0])
		}
	})
}

func TestGetCombinedHistogramEntropy(t *testing.T) {
	for _, threshold := range []float64{0, -1} {
		a, b := NewHistogram(0), NewHistogram(0)
		if _, _, ok := getCombinedHistogramEntropy(a, b, threshold); ok {
			t.Errorf("threshold %v: expected bail-out (ok=false)", threshold)
		}
	}
}

func TestHistogramCombineGreedy(t *testing.T) {
	t.Run("identical histograms collapse to one", func(t *testing.T) {
		hs := allocateHistoSet(4, 0)
		for i := 0; i < 4; i++ {
			h := hs.histos[i]
			h.Literal[0], h.Literal[1] = 100, 50
			h.Red[0], h.Blue[0], h.Alpha[0] = 100, 100, 100
			h.computeHistogramCost()
		}

		histogramCombineGreedy(hs)

		if hs.Size() != 1 {
			t.Errorf("Size() = %d, want 1 after merging identical histograms", hs.Size())
		}
	})

	t.Run("divergent histograms need not fully merge", func(t *testing.T) {
		hs := allocateHistoSet(3, 0)
		hs.histos[0].Literal[0] = 1000
		hs.histos[0].Red[0] = 1000
		hs.histos[0].Blue[0] = 1000
		hs.histos[0].Alpha[0] = 1000

		hs.histos[1].Literal[255] = 1000
		hs.histos[1].Red[255] = 1000
		hs.histos[1].Blue[255] = 1000
		hs.histos[1].Alpha[255] = 1000

		for i := 0; i < 256; i++ {
			hs.histos[2].Literal[i] = 10
			hs.histos[2].Red[i] = 10
			hs.histos[2].Blue[i] = 10
			hs.histos[2].Alpha[i] = 10
		}
		for i := 0; i < 3; i++ {
			hs.histos[i].computeHistogramCost()
		}

		histogramCombineGreedy(hs)

		if hs.Size() < 1 {
			t.Error("at least one histogram should remain")
		}
	})
}

func TestHistogramCombineStochastic(t *testing.T) {
	const n = 20
	hs := allocateHistoSet(n, 0)
	for i := 0; i < n; i++ {
		h := hs.histos[i]
		h.Literal[0] = uint32(100 + i)
		h.Literal[1] = uint32(50 + i)
		h.Red[0], h.Blue[0], h.Alpha[0] = 100, 100, 100
		h.computeHistogramCost()
	}

	doGreedy := histogramCombineStochastic(hs, 5)

	if hs.Size() == n && !doGreedy {
		t.Error("expected either a reduced count or doGreedy=true")
	}
}

func TestHistogramRemap(t *testing.T) {
	// Two groups of two near-identical histograms, concentrated at symbol 0
	// and symbol 128 respectively.
	orig := []*Histogram{
		uniformHistogram(0, 100),
		uniformHistogram(0, 90),
		uniformHistogram(128, 100),
		uniformHistogram(128, 90),
	}

	out := allocateHistoSet(2, 0)
	out.histos[0].copyFrom(orig[0])
	out.histos[1].copyFrom(orig[2])

	symbols := make([]uint16, len(orig))
	histogramRemap(orig, out, symbols)

	if symbols[0] != 0 || symbols[1] != 0 {
		t.Errorf("group at symbol 0 should map to cluster 0, got %v", symbols[:2])
	}
	if symbols[2] != 1 || symbols[3] != 1 {
		t.Errorf("group at symbol 128 should map to cluster 1, got %v", symbols[2:])
	}
}

func TestHistogramCombineEntropyBin(t *testing.T) {
	t.Run("full effort", func(t *testing.T) {
		const n = 10
		hs := allocateHistoSet(n, 0)
		for i := 0; i < n; i++ {
			h := hs.histos[i]
			h.Literal[0], h.Red[0], h.Blue[0], h.Alpha[0] = 100, 100, 100, 100
			h.binID = 0
			h.computeHistogramCost()
		}

		histogramCombineEntropyBin(hs, binSize, 16.0, false)

		if hs.Size() >= n {
			t.Errorf("Size() = %d, want < %d after combining a shared bin", hs.Size(), n)
		}
	})

	t.Run("low effort", func(t *testing.T) {
		const n = 8
		hs := allocateHistoSet(n, 0)
		for i := 0; i < n; i++ {
			h := hs.histos[i]
			h.Literal[0] = uint32(100 + i)
			h.Red[0], h.Blue[0], h.Alpha[0] = 100, 100, 100
			h.binID = uint16(i % numPartitions)
			h.computeHistogramCost()
		}

		histogramCombineEntropyBin(hs, numPartitions, 16.0, true)

		if hs.Size() >= n {
			t.Errorf("Size() = %d, want < %d under low-effort combining", hs.Size(), n)
		}
	})
}

func TestHistoQueuePush(t *testing.T) {
	newMergeable := func() []*Histogram {
		hs := make([]*Histogram, 2)
		for i := range hs {
			hs[i] = uniformHistogram(0, 100)
		}
		return hs
	}

	t.Run("respects maxSize", func(t *testing.T) {
		histograms := newMergeable()
		q := histoQueue{maxSize: 1}

		q.push(histograms, 0, 1, 0)
		if q.size() > 1 {
			t.Fatalf("size() = %d, want <= 1", q.size())
		}
		if q.size() == 1 {
			q.push(histograms, 0, 1, 0)
			if q.size() > 1 {
				t.Errorf("size() = %d, want <= maxSize(1)", q.size())
			}
		}
	})

	t.Run("unbounded when maxSize is zero", func(t *testing.T) {
		histograms := newMergeable()
		var q histoQueue
		q.push(histograms, 0, 1, 0) // must not panic or clamp
	})
}

func TestLehmerRand(t *testing.T) {
	var seed uint32 = 1
	first := lehmerRand(&seed)
	if first != 48271 {
		t.Errorf("lehmerRand(1) = %d, want 48271", first)
	}
	if second := lehmerRand(&seed); second == first {
		t.Error("successive draws should differ")
	}
}

func TestGetCombineCostFactor(t *testing.T) {
	for _, tt := range []struct {
		histoSize int
		quality   int
		want      float64
	}{
		{100, 100, 16.0},
		{100, 50, 8.0},  // quality<=50 halves once: 16/2
		{600, 80, 4.0},  // >256 and >512 each halve once: 16/2/2
		{2000, 50, 1.0}, // >256,>512,>1024 plus quality<=50: 16/2/2/2/2
	} {
		if got := getCombineCostFactor(tt.histoSize, tt.quality); got != tt.want {
			t.Errorf("getCombineCostFactor(%d, %d) = %f, want %f",
				tt.histoSize, tt.quality, got, tt.want)
		}
	}
}

func TestGetHistoImageSymbols(t *testing.T) {
	width, height := 32, 32

	refs := NewBackwardRefs(width * height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			argb := uint32(255)<<24 | uint32(x*8)<<16 | uint32(y*8)<<8 | 128
			refs.refs = append(refs.refs, LiteralPixel(argb))
		}
	}

	symbols, histoSet := GetHistoImageSymbols(width, height, refs, 75, 3, 0, nil)

	if histoSet.Size() < 1 {
		t.Error("expected at least one histogram")
	}
	if len(symbols) == 0 {
		t.Error("expected a non-empty symbol map")
	}
	for i, s := range symbols {
		if int(s) >= histoSet.Size() {
			t.Errorf("symbols[%d] = %d, exceeds histogram count %d", i, s, histoSet.Size())
		}
	}
}
