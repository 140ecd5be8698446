package vp8l

import "io"

// ImageSource provides row-major BGRA-packed pixels to the encoder. The
// encoder reads but never mutates the source image; ARGB returns the full
// pixel buffer as packed 0xAARRGGBB words with the caller's own
// to_bgra32-equivalent conversion already applied.
type ImageSource interface {
	// Width and Height return the pixel dimensions of the image.
	Width() int
	Height() int
	// ARGB returns the dense row-major pixel buffer, length
	// Width()*Height(), each entry packed alpha<<24 | red<<16 | green<<8 | blue.
	ARGB() []uint32
}

// argbImage is the trivial ImageSource backing EncodeARGB.
type argbImage struct {
	width, height int
	pix           []uint32
}

func (im *argbImage) Width() int     { return im.width }
func (im *argbImage) Height() int    { return im.height }
func (im *argbImage) ARGB() []uint32 { return im.pix }

// NewImageSource wraps a packed ARGB pixel buffer (row-major, length
// width*height) as an ImageSource.
func NewImageSource(pix []uint32, width, height int) ImageSource {
	return &argbImage{width: width, height: height, pix: pix}
}

// Sink is the append-only byte sink the encoder writes the complete
// RIFF/WebP container to. It has no random access: bytes, once written,
// are never revisited.
type Sink interface {
	io.Writer
}
