//go:build linux

package v4l2cam

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"syscall"

	"github.com/smazurov/hdrnode/internal/camera"
	"github.com/smazurov/hdrnode/pkg/linuxav/v4l2"
)

// device is the part of *v4l2.Device the adapter drives.
type device interface {
	Format() v4l2.Format
	QueryControl(id uint32) (v4l2.ControlInfo, error)
	Control(id uint32) (int32, error)
	SetControl(id uint32, value int32) error
	ReadRegister(addr uint64) (uint32, error)
	WriteRegister(addr uint64, value uint32) error
	Buffers() int
	Queue(index int) error
	Dequeue() (v4l2.Frame, error)
	Wait(timeoutMs int) (bool, error)
	StreamOn() error
	StreamOff() error
	Streaming() bool
	Close() error
}

var _ camera.Camera = (*Camera)(nil)

// Camera is a V4L2 capture node behind the camera.Camera interface.
type Camera struct {
	mu     sync.Mutex
	dev    device
	cfg    Config
	logger *slog.Logger

	codeMin, codeMax uint32

	width, height int
	stride        int
	scratch       map[int][]byte
	lent          map[int]bool

	transmitting bool
	oneShot      bool
	burstLeft    uint32
}

// Open opens the node, negotiates the format, maps the buffer ring and
// reads the exposure control range.
func Open(cfg Config, logger *slog.Logger) (camera.Camera, error) {
	cfg = cfg.withDefaults()

	path, err := v4l2.ResolveDevice(cfg.Device)
	if err != nil {
		return nil, err
	}
	dev, err := v4l2.Open(path)
	if err != nil {
		return nil, err
	}

	pixfmt := v4l2.PixelFormatGrey
	if cfg.Format == camera.FormatRGB8 {
		pixfmt = v4l2.PixelFormatRGB24
	}
	format, err := dev.SetFormat(cfg.Width, cfg.Height, pixfmt)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	n, err := dev.RequestBuffers(cfg.Buffers)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}

	logger.Info("V4L2 camera opened",
		"device", path,
		"card", dev.Info().DeviceName,
		"driver", dev.Info().Driver,
		"format", v4l2.FormatFourCC(format.PixelFormat),
		"width", format.Width,
		"height", format.Height,
		"buffers", n)

	c, err := newCamera(dev, cfg, logger)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	return c, nil
}

func newCamera(dev device, cfg Config, logger *slog.Logger) (*Camera, error) {
	info, err := dev.QueryControl(v4l2.CIDExposureAbsolute)
	if err != nil {
		return nil, fmt.Errorf("exposure_absolute unavailable: %w", err)
	}
	if info.Maximum <= 0 || info.Maximum < info.Minimum {
		return nil, fmt.Errorf("exposure_absolute range [%d, %d] unusable", info.Minimum, info.Maximum)
	}

	format := dev.Format()
	c := &Camera{
		dev:     dev,
		cfg:     cfg,
		logger:  logger,
		codeMin: uint32(max(info.Minimum, 0)),
		codeMax: uint32(info.Maximum),
		width:   int(format.Width),
		height:  int(format.Height),
		stride:  int(format.BytesPerLine),
		scratch: make(map[int][]byte),
		lent:    make(map[int]bool),
	}
	if c.stride == 0 {
		c.stride = c.width * cfg.Format.BytesPerPixel()
	}
	return c, nil
}

func codeSeconds(code uint32) float64 {
	return float64(code) * v4l2.ExposureAbsoluteUnit.Seconds()
}

func (c *Camera) SetShutter(code uint32) error {
	if code < c.codeMin || code > c.codeMax {
		return fmt.Errorf("v4l2cam: shutter code %d outside [%d, %d]", code, c.codeMin, c.codeMax)
	}
	return c.dev.SetControl(v4l2.CIDExposureAbsolute, int32(code))
}

func (c *Camera) Shutter() (uint32, error) {
	v, err := c.dev.Control(v4l2.CIDExposureAbsolute)
	if err != nil {
		return 0, err
	}
	return uint32(max(v, 0)), nil
}

// SetAbsoluteShutter programs the shortest code whose time is at least
// seconds.
func (c *Camera) SetAbsoluteShutter(seconds float64) error {
	if seconds > codeSeconds(c.codeMax) {
		return fmt.Errorf("v4l2cam: absolute shutter %g s above maximum", seconds)
	}
	code := uint32(math.Ceil(seconds/v4l2.ExposureAbsoluteUnit.Seconds() - 1e-9))
	code = max(code, c.codeMin)
	return c.dev.SetControl(v4l2.CIDExposureAbsolute, int32(code))
}

func (c *Camera) AbsoluteShutter() (float64, error) {
	code, err := c.Shutter()
	if err != nil {
		return 0, err
	}
	return codeSeconds(code), nil
}

func (c *Camera) ShutterCodeRange() (uint32, uint32, error) {
	return c.codeMin, c.codeMax, nil
}

func (c *Camera) ShutterBounds() (float64, float64, error) {
	return codeSeconds(c.codeMin), codeSeconds(c.codeMax), nil
}

func (c *Camera) SetShutterMode(mode camera.ShutterMode) error {
	value := v4l2.ExposureManual
	if mode == camera.ShutterAuto {
		value = c.cfg.AutoExposureMode
	}
	return c.dev.SetControl(v4l2.CIDExposureAuto, value)
}

func (c *Camera) WriteRegister(addr uint64, value uint32) error {
	return c.dev.WriteRegister(addr, value)
}

func (c *Camera) ReadRegister(addr uint64) (uint32, error) {
	return c.dev.ReadRegister(addr)
}

func (c *Camera) SetTransmission(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transmitting = on
	return c.syncStreamLocked()
}

func (c *Camera) Transmission() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transmitting, nil
}

func (c *Camera) SetOneShot(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.oneShot = on
	return c.syncStreamLocked()
}

func (c *Camera) SetMultiShot(n uint32, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.burstLeft = n
	} else {
		c.burstLeft = 0
	}
	return c.syncStreamLocked()
}

func (c *Camera) armedLocked() bool {
	return c.transmitting || c.oneShot || c.burstLeft > 0
}

// syncStreamLocked runs the stream exactly while something is armed.
func (c *Camera) syncStreamLocked() error {
	if c.armedLocked() {
		return c.dev.StreamOn()
	}
	return c.stopLocked()
}

// stopLocked stops the stream and requeues every buffer not held by the
// caller, discarding frames nobody read.
func (c *Camera) stopLocked() error {
	if !c.dev.Streaming() {
		return nil
	}
	if err := c.dev.StreamOff(); err != nil {
		return err
	}
	for i := 0; i < c.dev.Buffers(); i++ {
		if c.lent[i] {
			continue
		}
		if err := c.dev.Queue(i); err != nil {
			return err
		}
	}
	return nil
}

func (c *Camera) Dequeue(policy camera.Policy) (*camera.Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.armedLocked() {
		if policy == camera.PolicyPoll {
			return nil, nil
		}
		return nil, ErrNotArmed
	}

	for {
		frame, err := c.dev.Dequeue()
		if err == nil {
			return c.deliverLocked(frame)
		}
		if !errors.Is(err, syscall.EAGAIN) {
			return nil, err
		}
		if policy == camera.PolicyPoll {
			return nil, nil
		}
		ready, err := c.dev.Wait(int(c.cfg.WaitTimeout.Milliseconds()))
		if err != nil {
			return nil, err
		}
		if !ready {
			return nil, ErrTimeout
		}
	}
}

func (c *Camera) deliverLocked(frame v4l2.Frame) (*camera.Buffer, error) {
	c.lent[frame.Index] = true

	switch {
	case c.burstLeft > 0:
		c.burstLeft--
	case c.oneShot:
		c.oneShot = false
	}
	if !c.armedLocked() {
		if err := c.stopLocked(); err != nil {
			c.logger.Warn("Failed to stop stream after trigger", "error", err)
		}
	}

	return &camera.Buffer{
		Index:     frame.Index,
		Data:      c.packLocked(frame),
		Width:     c.width,
		Height:    c.height,
		Format:    c.cfg.Format,
		Sequence:  uint64(frame.Sequence),
		Timestamp: frame.Timestamp,
	}, nil
}

// packLocked strips line padding so Data is width*height pixels.
func (c *Camera) packLocked(frame v4l2.Frame) []byte {
	row := c.width * c.cfg.Format.BytesPerPixel()
	if c.stride == row {
		return frame.Data
	}
	dst, ok := c.scratch[frame.Index]
	if !ok {
		dst = make([]byte, row*c.height)
		c.scratch[frame.Index] = dst
	}
	for y := 0; y < c.height; y++ {
		start := y * c.stride
		if start+row > len(frame.Data) {
			break
		}
		copy(dst[y*row:(y+1)*row], frame.Data[start:start+row])
	}
	return dst
}

func (c *Camera) Enqueue(buf *camera.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if buf == nil || !c.lent[buf.Index] {
		return errors.New("v4l2cam: enqueue of a buffer that was not dequeued")
	}
	delete(c.lent, buf.Index)
	return c.dev.Queue(buf.Index)
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transmitting, c.oneShot, c.burstLeft = false, false, 0
	return c.dev.Close()
}
