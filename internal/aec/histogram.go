package aec

import (
	"github.com/smazurov/hdrnode/internal/camera"
)

// Histogram counts pixel intensities of one frame.
type Histogram struct {
	Bins  [256]uint64
	Total uint64
}

// NewHistogram builds the intensity histogram of frame. RGB pixels are
// reduced to luma with truncation; pixels overlapped by the embedded
// metadata prefix are skipped.
func NewHistogram(frame camera.Frame) (Histogram, error) {
	var h Histogram

	bpp := frame.Format.BytesPerPixel()
	pixels := frame.Pixels()
	if pixels <= 0 {
		return h, camera.ConfigurationError("histogram", "empty frame %dx%d", frame.Width, frame.Height)
	}
	if len(frame.Data) < pixels*bpp {
		return h, camera.ConfigurationError("histogram", "frame data %d bytes, want %d", len(frame.Data), pixels*bpp)
	}

	for i := frame.FirstPixel(); i < pixels; i++ {
		off := i * bpp
		var v uint8
		switch frame.Format {
		case camera.FormatRGB8:
			v = camera.Luma(frame.Data[off], frame.Data[off+1], frame.Data[off+2])
		case camera.FormatMono8:
			v = frame.Data[off]
		default:
			return Histogram{}, camera.ConfigurationError("histogram", "unsupported pixel format %s", frame.Format)
		}
		h.Bins[v]++
		h.Total++
	}
	return h, nil
}

// Sum returns the count over the inclusive bin range [lo, hi].
func (h *Histogram) Sum(lo, hi int) uint64 {
	var n uint64
	for i := lo; i <= hi; i++ {
		n += h.Bins[i]
	}
	return n
}
