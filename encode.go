// Package vp8l implements a lossless WebP (VP8L) encoder: RIFF/WebP
// container framing around a VP8L bitstream produced by forward transforms,
// LZ77-style backward references, histogram clustering, and canonical
// Huffman coding.
package vp8l

import (
	"encoding/binary"

	"github.com/gowebp/vp8l/internal/diag"
	"github.com/gowebp/vp8l/internal/lossless"
	"github.com/gowebp/vp8l/internal/pool"
)

// Options configures a single Encode call. The zero value is not valid;
// use DefaultOptions.
type Options struct {
	// Quality controls encoding effort (0 = fast, 100 = best compression).
	Quality int
	// Method controls encoding method (0 = fast, 6 = best).
	Method int
	// NearLosslessQuality is the near-lossless quality (100 = true lossless).
	NearLosslessQuality int
	// EnableDiagnostics requests a Trace of the crunch-config search,
	// returned from EncodeWithTrace.
	EnableDiagnostics bool
}

// DefaultOptions returns the encoder's fixed profile: quality=75, method=4,
// near_lossless_strength=100 (true lossless), no alpha-only fast path.
func DefaultOptions() Options {
	return Options{
		Quality:             75,
		Method:              4,
		NearLosslessQuality: 100,
	}
}

// crunchVariant names one candidate configuration evaluated by Encode's
// crunch-config search, for diagnostics labeling.
type crunchVariant struct {
	label                  string
	forcePaletteAndSpatial bool
}

// candidateVariants returns the crunch configs to evaluate for the given
// options, per the driver's step 4: for method==4 a single config with the
// chosen entropy; optionally add PaletteAndSpatial when quality>=75.
func candidateVariants(opt Options) []crunchVariant {
	variants := []crunchVariant{{label: "default"}}
	if opt.Quality >= 75 {
		variants = append(variants, crunchVariant{label: "palette_and_spatial", forcePaletteAndSpatial: true})
	}
	return variants
}

// Encode encodes img as a complete RIFF/WebP VP8L byte stream and writes it
// to sink. When opt.EnableDiagnostics is set, the crunch-config search is
// still traced internally (at the cost of the bookkeeping) even though the
// trace itself is discarded; use EncodeWithTrace to retrieve it.
func Encode(img ImageSource, sink Sink, opt Options) error {
	var trace *diag.Trace
	if opt.EnableDiagnostics {
		trace = diag.NewTrace(img.Width(), img.Height())
	}
	_, err := encode(img, sink, opt, trace)
	return err
}

// EncodeWithTrace behaves like Encode but also returns a diagnostics Trace
// recording every crunch-config trial evaluated and which one won. The trace
// is recorded whether or not Options.EnableDiagnostics is set.
func EncodeWithTrace(img ImageSource, sink Sink, opt Options) (*diag.Trace, error) {
	trace := diag.NewTrace(img.Width(), img.Height())
	_, err := encode(img, sink, opt, trace)
	return trace, err
}

// EncodeARGB is a convenience wrapper for the common case of encoding a raw
// packed-ARGB pixel buffer under the default profile.
func EncodeARGB(pix []uint32, width, height int, sink Sink) error {
	return Encode(NewImageSource(pix, width, height), sink, DefaultOptions())
}

func encode(img ImageSource, sink Sink, opt Options, trace *diag.Trace) (int, error) {
	width, height := img.Width(), img.Height()
	if width <= 0 || height <= 0 {
		return 0, ErrEmptyImage
	}
	if width > MaxDimension || height > MaxDimension {
		return 0, ErrDimensionTooLarge
	}

	variants := candidateVariants(opt)
	var best []byte
	bestIdx := -1

	for i, v := range variants {
		cfg := &lossless.EncoderConfig{
			Quality:             opt.Quality,
			Method:              opt.Method,
			NearLosslessQuality: opt.NearLosslessQuality,
			CacheBitsOverride:   -1,
		}
		if v.forcePaletteAndSpatial && cfg.Method < 5 {
			// lossless.Encoder.analyze only combines palette + predictor
			// (kPaletteAndSpatial) when method >= 5; bump the method for
			// this trial to exercise that combination as a distinct
			// crunch sub-config without duplicating the analysis pass.
			cfg.Method = 5
		}

		body, err := lossless.Encode(img.ARGB(), width, height, cfg)
		if err != nil {
			return 0, err
		}

		if trace != nil {
			trace.Record(diag.Trial{
				EntropyRegime: v.label,
				LZ77Variant:   "StandardRLEBox",
				CacheBits:     cfg.CacheBitsOverride,
				ByteSize:      len(body),
			})
		}

		if best == nil || len(body) < len(best) {
			best = body
			bestIdx = i
		}
	}

	if trace != nil && bestIdx >= 0 {
		trace.MarkWinner(bestIdx)
	}

	n, err := writeContainer(sink, best)
	if err != nil {
		return n, ErrWriteFailed
	}
	return n, nil
}

// writeContainer wraps a raw VP8L bitstream (vp8lBody, already Finish()'d
// by the inner encoder, signature byte included) in RIFF/WEBP/VP8L framing
// and writes the complete container to sink in a single Write call.
//
// The staging buffer is pool-backed: container assembly happens once per
// encode, and borrowing a right-sized buffer instead of letting append grow
// one from scratch avoids doubling allocations for large images.
func writeContainer(sink Sink, vp8lBody []byte) (int, error) {
	vp8lSize := len(vp8lBody)
	pad := vp8lSize & 1
	riffSize := 4 + 8 + vp8lSize + pad
	totalSize := 8 + riffSize

	buf := pool.Get(totalSize)
	defer pool.Put(buf)

	out := buf[:0]
	out = append(out, 'R', 'I', 'F', 'F')
	out = binary.LittleEndian.AppendUint32(out, uint32(riffSize))
	out = append(out, 'W', 'E', 'B', 'P')
	out = append(out, 'V', 'P', '8', 'L')
	out = binary.LittleEndian.AppendUint32(out, uint32(vp8lSize))
	out = append(out, vp8lBody...)
	if pad == 1 {
		out = append(out, 0)
	}

	return sink.Write(out)
}
