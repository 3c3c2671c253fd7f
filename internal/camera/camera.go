// Package camera defines the device boundary used by the HDR exposure core.
//
// A Camera exposes quantized and absolute shutter control, raw register
// access, and a device-managed buffer ring. Implementations live in
// sub-packages (sim for the in-memory device, v4l2cam for Linux capture
// devices). All access from the core goes through a Channel, which grants
// exclusive ownership of the control registers and the capture queue.
package camera

import "time"

// Policy selects how Dequeue behaves when no frame is ready.
type Policy int

// Dequeue policies.
const (
	// PolicyWait blocks until a frame is available.
	PolicyWait Policy = iota
	// PolicyPoll returns immediately; an empty queue is reported as absence.
	PolicyPoll
)

func (p Policy) String() string {
	switch p {
	case PolicyWait:
		return "wait"
	case PolicyPoll:
		return "poll"
	default:
		return "unknown"
	}
}

// ShutterMode is the device-side shutter control mode.
type ShutterMode int

// Shutter modes.
const (
	ShutterManual ShutterMode = iota
	ShutterAuto
)

// PixelFormat describes the layout of a buffer's pixel data.
type PixelFormat int

// Supported pixel layouts.
const (
	FormatMono8 PixelFormat = iota
	FormatRGB8
)

// BytesPerPixel returns the packed size of one pixel.
func (f PixelFormat) BytesPerPixel() int {
	if f == FormatRGB8 {
		return 3
	}
	return 1
}

func (f PixelFormat) String() string {
	switch f {
	case FormatMono8:
		return "mono8"
	case FormatRGB8:
		return "rgb8"
	default:
		return "unknown"
	}
}

// Buffer is a frame buffer borrowed from the device ring. It must be handed
// back with Enqueue once the caller has copied what it needs; Data is only
// valid until then.
type Buffer struct {
	Index     int
	Data      []byte
	Width     int
	Height    int
	Format    PixelFormat
	Sequence  uint64
	Timestamp time.Time
}

// Camera is the device layer consumed by the exposure core.
type Camera interface {
	// SetShutter programs the quantized shutter code.
	SetShutter(code uint32) error
	// Shutter reads the quantized shutter code.
	Shutter() (uint32, error)
	// SetAbsoluteShutter programs the exposure time in seconds.
	SetAbsoluteShutter(seconds float64) error
	// AbsoluteShutter reads the realized exposure time in seconds.
	AbsoluteShutter() (float64, error)
	// ShutterCodeRange returns the inclusive range of valid shutter codes.
	ShutterCodeRange() (min, max uint32, err error)
	// ShutterBounds returns the inclusive absolute shutter range in seconds.
	ShutterBounds() (min, max float64, err error)
	// SetShutterMode switches between manual and device-controlled shutter.
	SetShutterMode(mode ShutterMode) error

	// WriteRegister writes a 32-bit control register.
	WriteRegister(addr uint64, value uint32) error
	// ReadRegister reads a 32-bit control register.
	ReadRegister(addr uint64) (uint32, error)

	// Dequeue takes the oldest filled buffer from the ring. Under PolicyPoll
	// a nil buffer with a nil error means no frame was ready.
	Dequeue(policy Policy) (*Buffer, error)
	// Enqueue returns a buffer to the ring.
	Enqueue(buf *Buffer) error

	// SetTransmission starts or stops continuous transmission.
	SetTransmission(on bool) error
	// Transmission reports whether continuous transmission is active.
	Transmission() (bool, error)
	// SetOneShot arms or clears a single-frame trigger.
	SetOneShot(on bool) error
	// SetMultiShot arms or clears an n-frame burst.
	SetMultiShot(n uint32, on bool) error

	Close() error
}
