// Package v4l2cam drives a Linux V4L2 capture node as a camera.Camera.
//
// The shutter code is the exposure_absolute control (100 µs steps) and the
// HDR bank registers are reached through the debug register ioctls.
// Trigger modes are emulated on top of streaming I/O: the stream runs only
// while transmission, a one-shot or a burst is armed, and stopping it
// returns every unread buffer to the driver so no stale frame survives
// into the next capture.
package v4l2cam

import (
	"errors"
	"time"

	"github.com/smazurov/hdrnode/internal/camera"
)

var (
	// ErrNotArmed is returned by a wait-policy Dequeue with nothing armed.
	ErrNotArmed = errors.New("v4l2cam: dequeue with no trigger armed")
	// ErrTimeout is returned when a wait-policy Dequeue sees no frame in time.
	ErrTimeout = errors.New("v4l2cam: timed out waiting for frame")
	// ErrUnsupported is returned by Open on platforms without V4L2.
	ErrUnsupported = errors.New("v4l2cam: V4L2 is only available on Linux")
)

// Config selects the device and capture format.
type Config struct {
	// Device is a /dev path or a stable /dev/v4l/by-id name.
	Device  string
	Width   uint32
	Height  uint32
	Format  camera.PixelFormat
	Buffers int
	// WaitTimeout bounds a wait-policy Dequeue.
	WaitTimeout time.Duration
	// AutoExposureMode is the exposure_auto menu value used for
	// camera.ShutterAuto. UVC devices usually only offer aperture priority.
	AutoExposureMode int32
}

// DefaultConfig returns a mono capture at the sensor's preferred size.
func DefaultConfig() Config {
	return Config{
		Device:           "/dev/video0",
		Width:            1280,
		Height:           1024,
		Format:           camera.FormatMono8,
		Buffers:          4,
		WaitTimeout:      2 * time.Second,
		AutoExposureMode: 3,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Device == "" {
		c.Device = def.Device
	}
	if c.Width == 0 {
		c.Width = def.Width
	}
	if c.Height == 0 {
		c.Height = def.Height
	}
	if c.Buffers <= 0 {
		c.Buffers = def.Buffers
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = def.WaitTimeout
	}
	return c
}
