// Package sim provides an in-memory camera that implements camera.Camera.
//
// The simulated device has a quantized shutter with a non-linear
// code-to-time curve, a register file with the HDR bracket banks, a fixed
// ring of frame buffers and a scene model that turns exposure into pixel
// values. It never blocks: a wait-policy dequeue that could not be satisfied
// returns ErrWouldBlock instead of hanging.
package sim

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/smazurov/hdrnode/internal/camera"
)

// ErrWouldBlock is returned by a wait-policy Dequeue when nothing is armed
// and no frame is queued. A real device would block forever.
var ErrWouldBlock = errors.New("sim: dequeue would block forever")

// Scene returns the relative radiance (0..1) of pixel (x, y).
type Scene func(x, y, width, height int) float64

// GradientScene is a left-to-right ramp covering the full radiance range.
func GradientScene(x, _, width, _ int) float64 {
	if width <= 1 {
		return 0
	}
	return float64(x) / float64(width-1)
}

// UniformScene returns a scene with constant radiance.
func UniformScene(r float64) Scene {
	return func(_, _, _, _ int) float64 { return r }
}

// Config describes the simulated device.
type Config struct {
	Width      int
	Height     int
	Format     camera.PixelFormat
	CodeMin    uint32
	CodeMax    uint32
	AbsMin     float64 // seconds at CodeMin
	AbsMax     float64 // seconds at CodeMax
	Resolution float64 // realized times are rounded to this step, in seconds
	NumBuffers int
	// SceneExposure is the exposure in seconds that maps radiance 1.0 to
	// full scale.
	SceneExposure float64
	Scene         Scene
	// PollLatency is the number of poll-policy dequeues that report absence
	// before an armed frame becomes available.
	PollLatency int
}

// DefaultConfig returns a small RGB device suitable for tests.
func DefaultConfig() Config {
	return Config{
		Width:         32,
		Height:        24,
		Format:        camera.FormatRGB8,
		CodeMin:       0,
		CodeMax:       511,
		AbsMin:        20e-6,
		AbsMax:        0.5,
		Resolution:    1e-6,
		NumBuffers:    4,
		SceneExposure: 0.01,
		Scene:         GradientScene,
	}
}

// RegisterWrite records one register write.
type RegisterWrite struct {
	Addr  uint64
	Value uint32
}

// Camera is the simulated device.
type Camera struct {
	mu sync.Mutex

	cfg       Config
	code      uint32
	mode      camera.ShutterMode
	registers map[uint64]uint32
	writes    []RegisterWrite

	buffers []*camera.Buffer
	free    []int
	filled  []int
	lent    map[int]bool

	transmitting bool
	oneShot      bool
	multiShot    uint32
	shotIndex    uint32
	pollsWaited  int
	sequence     uint64
	frameCounter uint32

	failures map[string]error
	failRegs map[uint64]error
	closed   bool
}

// New creates a simulated camera. Zero-valued fields of cfg take the
// defaults from DefaultConfig.
func New(cfg Config) *Camera {
	def := DefaultConfig()
	if cfg.Width <= 0 {
		cfg.Width = def.Width
	}
	if cfg.Height <= 0 {
		cfg.Height = def.Height
	}
	if cfg.CodeMax == 0 {
		cfg.CodeMax = def.CodeMax
	}
	if cfg.AbsMin <= 0 {
		cfg.AbsMin = def.AbsMin
	}
	if cfg.AbsMax <= cfg.AbsMin {
		cfg.AbsMax = def.AbsMax
	}
	if cfg.Resolution <= 0 {
		cfg.Resolution = def.Resolution
	}
	if cfg.NumBuffers <= 0 {
		cfg.NumBuffers = def.NumBuffers
	}
	if cfg.SceneExposure <= 0 {
		cfg.SceneExposure = def.SceneExposure
	}
	if cfg.Scene == nil {
		cfg.Scene = def.Scene
	}

	c := &Camera{
		cfg:       cfg,
		code:      cfg.CodeMin,
		mode:      camera.ShutterAuto,
		registers: map[uint64]uint32{camera.RegMetadataFlags: camera.MetadataPresent},
		lent:      make(map[int]bool),
		failures:  make(map[string]error),
		failRegs:  make(map[uint64]error),
	}
	size := cfg.Width * cfg.Height * cfg.Format.BytesPerPixel()
	for i := 0; i < cfg.NumBuffers; i++ {
		c.buffers = append(c.buffers, &camera.Buffer{
			Index:  i,
			Data:   make([]byte, size),
			Width:  cfg.Width,
			Height: cfg.Height,
			Format: cfg.Format,
		})
		c.free = append(c.free, i)
	}
	return c
}

// Fail makes every subsequent call of op fail with err until cleared with
// a nil err. Op names match the Camera method names.
func (c *Camera) Fail(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failures, op)
		return
	}
	c.failures[op] = err
}

// FailRegister makes writes to addr fail with err until cleared with nil.
func (c *Camera) FailRegister(addr uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failRegs, addr)
		return
	}
	c.failRegs[addr] = err
}

// SetScene replaces the scene model.
func (c *Camera) SetScene(s Scene) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Scene = s
}

// Writes returns a copy of the register write log.
func (c *Camera) Writes() []RegisterWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RegisterWrite, len(c.writes))
	copy(out, c.writes)
	return out
}

// ResetWrites clears the register write log.
func (c *Camera) ResetWrites() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = nil
}

// Queued returns the number of filled buffers waiting to be dequeued.
func (c *Camera) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.filled)
}

// Lent returns the number of buffers handed out and not yet enqueued.
func (c *Camera) Lent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lent)
}

// MultiShot returns the armed burst length, zero when disarmed.
func (c *Camera) MultiShot() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.multiShot
}

// Mode returns the current shutter mode.
func (c *Camera) Mode() camera.ShutterMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// AbsForCode returns the realized exposure time for a code.
func (c *Camera) AbsForCode(code uint32) float64 {
	return c.absFor(code)
}

func (c *Camera) absFor(code uint32) float64 {
	span := float64(c.cfg.CodeMax - c.cfg.CodeMin)
	t := 0.0
	if span > 0 {
		t = float64(code-c.cfg.CodeMin) / span
	}
	abs := c.cfg.AbsMin * math.Pow(c.cfg.AbsMax/c.cfg.AbsMin, t)
	return math.Round(abs/c.cfg.Resolution) * c.cfg.Resolution
}

func (c *Camera) fail(op string) error {
	if c.closed {
		return fmt.Errorf("sim: %s on closed camera", op)
	}
	return c.failures[op]
}

func (c *Camera) SetShutter(code uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("SetShutter"); err != nil {
		return err
	}
	if c.mode == camera.ShutterAuto {
		return errors.New("sim: shutter is under automatic control")
	}
	if code < c.cfg.CodeMin || code > c.cfg.CodeMax {
		return fmt.Errorf("sim: shutter code %d outside [%d, %d]", code, c.cfg.CodeMin, c.cfg.CodeMax)
	}
	c.code = code
	return nil
}

func (c *Camera) Shutter() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("Shutter"); err != nil {
		return 0, err
	}
	return c.code, nil
}

func (c *Camera) SetAbsoluteShutter(seconds float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("SetAbsoluteShutter"); err != nil {
		return err
	}
	if c.mode == camera.ShutterAuto {
		return errors.New("sim: shutter is under automatic control")
	}
	for code := c.cfg.CodeMin; code <= c.cfg.CodeMax; code++ {
		if c.absFor(code) >= seconds {
			c.code = code
			return nil
		}
	}
	return fmt.Errorf("sim: absolute shutter %g s above maximum", seconds)
}

func (c *Camera) AbsoluteShutter() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("AbsoluteShutter"); err != nil {
		return 0, err
	}
	return c.absFor(c.code), nil
}

func (c *Camera) ShutterCodeRange() (uint32, uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("ShutterCodeRange"); err != nil {
		return 0, 0, err
	}
	return c.cfg.CodeMin, c.cfg.CodeMax, nil
}

func (c *Camera) ShutterBounds() (float64, float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("ShutterBounds"); err != nil {
		return 0, 0, err
	}
	return c.absFor(c.cfg.CodeMin), c.absFor(c.cfg.CodeMax), nil
}

func (c *Camera) SetShutterMode(mode camera.ShutterMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("SetShutterMode"); err != nil {
		return err
	}
	c.mode = mode
	return nil
}

func (c *Camera) WriteRegister(addr uint64, value uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("WriteRegister"); err != nil {
		return err
	}
	if err := c.failRegs[addr]; err != nil {
		return err
	}
	c.registers[addr] = value
	c.writes = append(c.writes, RegisterWrite{Addr: addr, Value: value})
	return nil
}

func (c *Camera) ReadRegister(addr uint64) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("ReadRegister"); err != nil {
		return 0, err
	}
	return c.registers[addr], nil
}

func (c *Camera) SetTransmission(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("SetTransmission"); err != nil {
		return err
	}
	c.transmitting = on
	c.shotIndex = 0
	return nil
}

func (c *Camera) Transmission() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("Transmission"); err != nil {
		return false, err
	}
	return c.transmitting, nil
}

func (c *Camera) SetOneShot(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("SetOneShot"); err != nil {
		return err
	}
	c.oneShot = on
	c.pollsWaited = 0
	return nil
}

func (c *Camera) SetMultiShot(n uint32, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("SetMultiShot"); err != nil {
		return err
	}
	if on {
		c.multiShot = n
	} else {
		c.multiShot = 0
	}
	c.shotIndex = 0
	return nil
}

func (c *Camera) Dequeue(policy camera.Policy) (*camera.Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("Dequeue"); err != nil {
		return nil, err
	}

	c.produce(policy)

	if len(c.filled) == 0 {
		if policy == camera.PolicyPoll {
			return nil, nil
		}
		return nil, ErrWouldBlock
	}
	idx := c.filled[0]
	c.filled = c.filled[1:]
	c.lent[idx] = true
	return c.buffers[idx], nil
}

func (c *Camera) Enqueue(buf *camera.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("Enqueue"); err != nil {
		return err
	}
	if buf == nil || buf.Index < 0 || buf.Index >= len(c.buffers) || !c.lent[buf.Index] {
		return errors.New("sim: enqueue of a buffer that was not dequeued")
	}
	delete(c.lent, buf.Index)
	c.free = append(c.free, buf.Index)
	return nil
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// produce fills free buffers according to what is armed. Continuous
// transmission without a burst outruns the consumer and fills every free
// buffer, which is how stale frames end up in the queue.
func (c *Camera) produce(policy camera.Policy) {
	switch {
	case c.multiShot > 0 && c.shotIndex < c.multiShot:
		if len(c.filled) == 0 && len(c.free) > 0 {
			c.fill()
			c.shotIndex++
		}
	case c.oneShot:
		if policy == camera.PolicyPoll && c.pollsWaited < c.cfg.PollLatency {
			c.pollsWaited++
			return
		}
		if len(c.free) > 0 {
			c.fill()
			c.oneShot = false
		}
	case c.transmitting && c.multiShot == 0:
		for len(c.free) > 0 {
			c.fill()
		}
	}
}

func (c *Camera) fill() {
	idx := c.free[0]
	c.free = c.free[1:]
	buf := c.buffers[idx]

	code, gain := c.code, uint32(0)
	if c.registers[camera.RegHDRControl] == camera.HDREnablePattern {
		bank := c.bankFor(c.shotIndex)
		code = c.registers[camera.RegShutterBank[bank]] & camera.BankValueMask
		gain = c.registers[camera.RegGainBank[bank]] & camera.BankValueMask
	}
	exposure := c.absFor(code) * math.Pow(10, float64(gain)/200)

	c.render(buf, exposure)

	c.sequence++
	c.frameCounter++
	buf.Sequence = c.sequence
	buf.Timestamp = time.Unix(0, int64(c.sequence)*int64(time.Millisecond))

	flags := camera.MetadataFlags(c.registers[camera.RegMetadataFlags]) & camera.MetaAll
	camera.EncodeMetadata(buf.Data, camera.Metadata{
		Flags:        flags,
		Timestamp:    uint32(c.sequence),
		Gain:         camera.BankValue(gain),
		Shutter:      camera.BankValue(code),
		Brightness:   camera.RegisterMarker,
		Exposure:     camera.RegisterMarker,
		WhiteBalance: camera.RegisterMarker,
		FrameCounter: c.frameCounter,
	})

	c.filled = append(c.filled, idx)
}

// bankFor spreads a burst evenly across the four banks: a two-frame burst
// reads banks 0 and 2, a four-frame burst reads all of them in order.
func (c *Camera) bankFor(shot uint32) int {
	n := c.multiShot
	if n == 0 || camera.NumBanks%int(n) != 0 {
		return int(shot) % camera.NumBanks
	}
	stride := camera.NumBanks / int(n)
	return (int(shot) * stride) % camera.NumBanks
}

func (c *Camera) render(buf *camera.Buffer, exposure float64) {
	w, h := c.cfg.Width, c.cfg.Height
	bpp := c.cfg.Format.BytesPerPixel()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r := c.cfg.Scene(x, y, w, h)
			v := 255 * r * exposure / c.cfg.SceneExposure
			var px byte
			switch {
			case v >= 255:
				px = 255
			case v <= 0:
				px = 0
			default:
				px = byte(v)
			}
			off := (y*w + x) * bpp
			for i := 0; i < bpp; i++ {
				buf.Data[off+i] = px
			}
		}
	}
}
