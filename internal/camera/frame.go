package camera

import (
	"encoding/binary"
	"math/bits"
	"time"
)

// MetadataFlags is the negotiated bitmask of fields embedded at the start
// of every frame. Each enabled field occupies one big-endian 32-bit word,
// in bit order.
type MetadataFlags uint32

// Embedded metadata fields.
const (
	MetaTimestamp MetadataFlags = 1 << iota
	MetaGain
	MetaShutter
	MetaBrightness
	MetaExposure
	MetaWhiteBalance
	MetaFrameCounter

	MetaAll = MetaTimestamp | MetaGain | MetaShutter | MetaBrightness |
		MetaExposure | MetaWhiteBalance | MetaFrameCounter
)

// Count returns the number of prefix words the flags produce.
func (f MetadataFlags) Count() int {
	return bits.OnesCount32(uint32(f & MetaAll))
}

// Has reports whether a field is enabled.
func (f MetadataFlags) Has(field MetadataFlags) bool {
	return f&field != 0
}

// PrefixBytes is the size of the metadata prefix in bytes.
func (f MetadataFlags) PrefixBytes() int {
	return 4 * f.Count()
}

// Metadata holds the decoded frame prefix. Only fields present in Flags
// carry meaningful values.
type Metadata struct {
	Flags        MetadataFlags `json:"flags" toml:"flags"`
	Timestamp    uint32        `json:"timestamp,omitempty" toml:"timestamp,omitempty"`
	Gain         uint32        `json:"gain,omitempty" toml:"gain,omitempty"`
	Shutter      uint32        `json:"shutter,omitempty" toml:"shutter,omitempty"`
	Brightness   uint32        `json:"brightness,omitempty" toml:"brightness,omitempty"`
	Exposure     uint32        `json:"exposure,omitempty" toml:"exposure,omitempty"`
	WhiteBalance uint32        `json:"white_balance,omitempty" toml:"white_balance,omitempty"`
	FrameCounter uint32        `json:"frame_counter,omitempty" toml:"frame_counter,omitempty"`
}

// ShutterCode returns the embedded shutter code if the field is present.
func (m Metadata) ShutterCode() (uint32, bool) {
	if !m.Flags.Has(MetaShutter) {
		return 0, false
	}
	return m.Shutter & BankValueMask, true
}

// DecodeMetadata parses the prefix words selected by flags. It returns
// false when data is shorter than the prefix.
func DecodeMetadata(data []byte, flags MetadataFlags) (Metadata, bool) {
	flags &= MetaAll
	m := Metadata{Flags: flags}
	if len(data) < flags.PrefixBytes() {
		return Metadata{}, false
	}

	off := 0
	for field := MetaTimestamp; field <= MetaFrameCounter; field <<= 1 {
		if !flags.Has(field) {
			continue
		}
		word := binary.BigEndian.Uint32(data[off : off+4])
		off += 4
		switch field {
		case MetaTimestamp:
			m.Timestamp = word
		case MetaGain:
			m.Gain = word
		case MetaShutter:
			m.Shutter = word
		case MetaBrightness:
			m.Brightness = word
		case MetaExposure:
			m.Exposure = word
		case MetaWhiteBalance:
			m.WhiteBalance = word
		case MetaFrameCounter:
			m.FrameCounter = word
		}
	}
	return m, true
}

// EncodeMetadata writes the prefix words for m.Flags into dst and returns
// the number of bytes written. Devices that do not embed metadata in
// hardware use it to synthesize the prefix.
func EncodeMetadata(dst []byte, m Metadata) int {
	flags := m.Flags & MetaAll
	if len(dst) < flags.PrefixBytes() {
		return 0
	}

	off := 0
	for field := MetaTimestamp; field <= MetaFrameCounter; field <<= 1 {
		if !flags.Has(field) {
			continue
		}
		var word uint32
		switch field {
		case MetaTimestamp:
			word = m.Timestamp
		case MetaGain:
			word = m.Gain
		case MetaShutter:
			word = m.Shutter
		case MetaBrightness:
			word = m.Brightness
		case MetaExposure:
			word = m.Exposure
		case MetaWhiteBalance:
			word = m.WhiteBalance
		case MetaFrameCounter:
			word = m.FrameCounter
		}
		binary.BigEndian.PutUint32(dst[off:off+4], word)
		off += 4
	}
	return off
}

// Frame is a private copy of a captured buffer. It owns its pixel data and
// may outlive the device buffer it was copied from.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Format    PixelFormat
	Sequence  uint64
	Timestamp time.Time
	Metadata  Metadata
}

// CopyFrame copies buf into a new Frame and decodes the metadata prefix
// selected by flags.
func CopyFrame(buf *Buffer, flags MetadataFlags) Frame {
	data := make([]byte, len(buf.Data))
	copy(data, buf.Data)

	f := Frame{
		Data:      data,
		Width:     buf.Width,
		Height:    buf.Height,
		Format:    buf.Format,
		Sequence:  buf.Sequence,
		Timestamp: buf.Timestamp,
	}
	if md, ok := DecodeMetadata(data, flags); ok {
		f.Metadata = md
	}
	return f
}

// Pixels returns the number of pixels described by the frame geometry.
func (f Frame) Pixels() int {
	return f.Width * f.Height
}

// FirstPixel returns the index of the first pixel not overlapped by the
// metadata prefix.
func (f Frame) FirstPixel() int {
	prefix := f.Metadata.Flags.PrefixBytes()
	bpp := f.Format.BytesPerPixel()
	return (prefix + bpp - 1) / bpp
}

// Luma is 0.299R + 0.587G + 0.114B, truncated.
func Luma(r, g, b uint8) uint8 {
	return uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(b)) / 1000)
}

// Gray returns one intensity byte per pixel. The metadata prefix is not
// stripped.
func (f Frame) Gray() []byte {
	n := f.Pixels()
	if f.Format == FormatMono8 {
		out := make([]byte, n)
		copy(out, f.Data)
		return out
	}
	out := make([]byte, n)
	for i := 0; i < n && 3*i+2 < len(f.Data); i++ {
		out[i] = Luma(f.Data[3*i], f.Data[3*i+1], f.Data[3*i+2])
	}
	return out
}
