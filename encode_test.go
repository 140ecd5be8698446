package vp8l

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func solidImage(width, height int, argb uint32) ImageSource {
	pix := make([]uint32, width*height)
	for i := range pix {
		pix[i] = argb
	}
	return NewImageSource(pix, width, height)
}

func TestEncode_RejectsEmptyImage(t *testing.T) {
	var buf bytes.Buffer
	img := NewImageSource(nil, 0, 0)
	if err := Encode(img, &buf, DefaultOptions()); err != ErrEmptyImage {
		t.Errorf("Encode with 0x0 image: got %v, want ErrEmptyImage", err)
	}
}

func TestEncode_RejectsOversizedImage(t *testing.T) {
	var buf bytes.Buffer
	img := NewImageSource(nil, MaxDimension+1, 1)
	if err := Encode(img, &buf, DefaultOptions()); err != ErrDimensionTooLarge {
		t.Errorf("Encode with oversized width: got %v, want ErrDimensionTooLarge", err)
	}
}

func TestEncode_SolidColorProducesValidContainer(t *testing.T) {
	var buf bytes.Buffer
	img := solidImage(64, 64, 0xff00ff00) // opaque green
	if err := Encode(img, &buf, DefaultOptions()); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	out := buf.Bytes()
	if len(out) < 21 {
		t.Fatalf("output too short: %d bytes", len(out))
	}
	if string(out[0:4]) != "RIFF" {
		t.Errorf("missing RIFF tag, got %q", out[0:4])
	}
	if string(out[8:12]) != "WEBP" {
		t.Errorf("missing WEBP tag, got %q", out[8:12])
	}
	if string(out[12:16]) != "VP8L" {
		t.Errorf("missing VP8L tag, got %q", out[12:16])
	}
	if out[20] != 0x2f {
		t.Errorf("VP8L signature byte = %#x, want 0x2f", out[20])
	}

	riffSize := binary.LittleEndian.Uint32(out[4:8])
	if int(riffSize)+8 != len(out) {
		t.Errorf("riff_size=%d does not account for total length %d", riffSize, len(out))
	}
	if len(out)%2 != 0 {
		t.Errorf("final file length %d is not even", len(out))
	}

	vp8lSize := binary.LittleEndian.Uint32(out[16:20])
	// The VP8L chunk body starts at byte 20 (the signature byte) and runs
	// for vp8lSize bytes, possibly followed by one 0x00 pad byte.
	if int(vp8lSize) > len(out)-20 {
		t.Errorf("vp8l_size=%d exceeds available trailing bytes %d", vp8lSize, len(out)-20)
	}
}

func TestEncode_SolidColorIsVerySmall(t *testing.T) {
	var buf bytes.Buffer
	img := solidImage(64, 64, 0xff00ff00)
	if err := Encode(img, &buf, DefaultOptions()); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if buf.Len() >= 100 {
		t.Errorf("solid 64x64 image encoded to %d bytes, want < 100", buf.Len())
	}
}

func TestEncodeWithTrace_RecordsCrunchTrials(t *testing.T) {
	img := solidImage(16, 16, 0xff112233)
	var buf bytes.Buffer
	opt := DefaultOptions()
	opt.EnableDiagnostics = true

	trace, err := EncodeWithTrace(img, &buf, opt)
	if err != nil {
		t.Fatalf("EncodeWithTrace failed: %v", err)
	}
	if len(trace.Trials) == 0 {
		t.Fatal("expected at least one recorded trial")
	}

	wins := 0
	for _, tr := range trace.Trials {
		if tr.Won {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one winning trial, got %d", wins)
	}
}

type failingSink struct{}

func (failingSink) Write(p []byte) (int, error) {
	return 0, bytes.ErrTooLarge
}

func TestEncode_SinkFailureSurfaced(t *testing.T) {
	img := solidImage(4, 4, 0xffffffff)
	if err := Encode(img, failingSink{}, DefaultOptions()); err != ErrWriteFailed {
		t.Errorf("Encode with failing sink: got %v, want ErrWriteFailed", err)
	}
}
