//go:build linux

package v4l2

import "time"

// DeviceInfo contains information about a V4L2 device.
type DeviceInfo struct {
	DevicePath string
	DeviceName string
	DeviceID   string // Stable identifier (from /dev/v4l/by-id/ or synthetic)
	Driver     string
	Caps       uint32
}

// Streaming reports whether the device supports mmap streaming I/O.
func (d DeviceInfo) Streaming() bool {
	return d.Caps&v4l2CapStreaming != 0
}

// Format is the negotiated single-plane capture format.
type Format struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	BytesPerLine uint32
	SizeImage    uint32
}

// ControlInfo describes an integer control as reported by the driver.
type ControlInfo struct {
	ID       uint32
	Name     string
	Minimum  int32
	Maximum  int32
	Step     int32
	Default  int32
	Disabled bool
}

// Frame is a dequeued capture buffer. Data aliases the driver mapping and
// is only valid until the buffer is queued again.
type Frame struct {
	Index     int
	Data      []byte
	Sequence  uint32
	Timestamp time.Time
}

// Pixel formats.
const (
	PixelFormatGrey  uint32 = 0x59455247 // 'GREY'
	PixelFormatRGB24 uint32 = 0x33424752 // 'RGB3'
)

// Camera-class control IDs.
const (
	CIDExposureAuto     uint32 = 0x009a0901
	CIDExposureAbsolute uint32 = 0x009a0902
)

// Values of CIDExposureAuto.
const (
	ExposureAuto             int32 = 0
	ExposureManual           int32 = 1
	ExposureShutterPriority  int32 = 2
	ExposureAperturePriority int32 = 3
)

// ExposureAbsoluteUnit is the time step of CIDExposureAbsolute.
const ExposureAbsoluteUnit = 100 * time.Microsecond

// Capability flags.
const (
	v4l2CapVideoCapture = 0x00000001
	v4l2CapStreaming    = 0x04000000
	v4l2CapDeviceCaps   = 0x80000000
)

const (
	v4l2BufTypeVideoCapture = 1
	v4l2MemoryMMAP          = 1
	v4l2FieldNone           = 1
	v4l2CtrlFlagDisabled    = 0x0001
	v4l2ChipMatchBridge     = 0
)
