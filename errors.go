package vp8l

import "errors"

// Sentinel errors for the input-bound and I/O error classes described
// in the error handling design: the encoder reports the first failure and
// leaves no bytes in the sink beyond that point.
var (
	// ErrDimensionTooLarge is returned when width or height exceeds
	// MaxDimension (16384), the largest size the 14-bit VP8L size fields
	// can represent.
	ErrDimensionTooLarge = errors.New("vp8l: width or height exceeds MaxDimension")

	// ErrEmptyImage is returned when width or height is zero.
	ErrEmptyImage = errors.New("vp8l: width and height must both be positive")

	// ErrWriteFailed is returned when the sink's Write fails. It replaces
	// the sink's own error, which is not wrapped or otherwise passed on.
	ErrWriteFailed = errors.New("vp8l: sink write failed")
)

// MaxDimension is the largest width or height the VP8L 14-bit size fields
// can encode (as dimension-1).
const MaxDimension = 1 << 14
