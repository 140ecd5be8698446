// Package diag records structured traces of the crunch-config search so a
// caller can inspect, after the fact, which entropy regime and LZ77 variant
// won and by how much.
package diag

import (
	"bytes"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// Trial describes one candidate crunch config evaluated by the driver.
type Trial struct {
	EntropyRegime string `json:"entropy_regime"`
	LZ77Variant   string `json:"lz77_variant"`
	CacheBits     int    `json:"cache_bits"`
	ByteSize      int    `json:"byte_size"`
	Won           bool   `json:"won"`
}

// Trace accumulates Trials for a single encode call, tagged with a
// correlation ID so traces from concurrent encodes can be told apart in
// aggregated logs.
type Trace struct {
	ID     string  `json:"id"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Trials []Trial `json:"trials"`
}

// NewTrace starts a trace for an image of the given dimensions, stamping it
// with a fresh random correlation ID.
func NewTrace(width, height int) *Trace {
	return &Trace{
		ID:     uuid.NewString(),
		Width:  width,
		Height: height,
	}
}

// Record appends one evaluated trial to the trace.
func (t *Trace) Record(trial Trial) {
	t.Trials = append(t.Trials, trial)
}

// MarkWinner flags the trial at index i (in emission order) as the one
// whose output was ultimately retained.
func (t *Trace) MarkWinner(i int) {
	if i < 0 || i >= len(t.Trials) {
		return
	}
	for j := range t.Trials {
		t.Trials[j].Won = false
	}
	t.Trials[i].Won = true
}

// Dump serializes the trace as gzip-compressed JSON, suitable for writing
// to an offline diagnostics log without bloating it uncompressed.
func (t *Trace) Dump() ([]byte, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		gw.Close()
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
