//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"
	"unsafe"
)

// ErrNotCapture is returned by Open for nodes without streaming capture.
var ErrNotCapture = errors.New("not a streaming video capture device")

// Device is an open capture node with an optional mmap buffer ring.
// Methods are safe for concurrent use.
type Device struct {
	mu        sync.Mutex
	fd        int
	info      DeviceInfo
	format    Format
	buffers   [][]byte
	streaming bool
}

// Open opens a capture node in non-blocking mode.
func Open(devicePath string) (*Device, error) {
	fd, err := open(devicePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}

	cap := v4l2Capability{}
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&cap)); err != nil {
		close(fd)
		return nil, fmt.Errorf("failed to query capabilities: %w", err)
	}
	caps := cap.caps()
	if caps&v4l2CapVideoCapture == 0 || caps&v4l2CapStreaming == 0 {
		close(fd)
		return nil, fmt.Errorf("%s: %w", devicePath, ErrNotCapture)
	}

	return &Device{
		fd: fd,
		info: DeviceInfo{
			DevicePath: devicePath,
			DeviceName: cstr(cap.card[:]),
			Driver:     cstr(cap.driver[:]),
			Caps:       caps,
		},
	}, nil
}

// Info returns what the driver reported at open.
func (d *Device) Info() DeviceInfo {
	return d.info
}

// Format returns the last negotiated format.
func (d *Device) Format() Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.format
}

// SetFormat negotiates a progressive capture format. The driver may adjust
// the size; the returned Format is what it accepted.
func (d *Device) SetFormat(width, height, pixelFormat uint32) (Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f := v4l2Format{typ: v4l2BufTypeVideoCapture}
	f.pix.width = width
	f.pix.height = height
	f.pix.pixelformat = pixelFormat
	f.pix.field = v4l2FieldNone
	if err := ioctl(d.fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return Format{}, fmt.Errorf("failed to set format: %w", err)
	}
	if f.pix.pixelformat != pixelFormat {
		return Format{}, fmt.Errorf("driver chose %s instead of %s",
			FormatFourCC(f.pix.pixelformat), FormatFourCC(pixelFormat))
	}

	d.format = Format{
		Width:        f.pix.width,
		Height:       f.pix.height,
		PixelFormat:  f.pix.pixelformat,
		BytesPerLine: f.pix.bytesperline,
		SizeImage:    f.pix.sizeimage,
	}
	return d.format, nil
}

// RequestBuffers allocates and maps up to count driver buffers and queues
// all of them. It returns the number the driver granted.
func (d *Device) RequestBuffers(count int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.streaming {
		return 0, errors.New("cannot reallocate buffers while streaming")
	}
	d.unmapLocked()

	req := v4l2RequestBuffers{
		count:  uint32(count),
		typ:    v4l2BufTypeVideoCapture,
		memory: v4l2MemoryMMAP,
	}
	if err := ioctl(d.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("failed to request buffers: %w", err)
	}
	if req.count == 0 {
		return 0, errors.New("driver granted no buffers")
	}

	for i := uint32(0); i < req.count; i++ {
		buf := v4l2Buffer{index: i, typ: v4l2BufTypeVideoCapture, memory: v4l2MemoryMMAP}
		if err := ioctl(d.fd, vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
			d.unmapLocked()
			return 0, fmt.Errorf("failed to query buffer %d: %w", i, err)
		}
		data, err := syscall.Mmap(d.fd, int64(buf.offset), int(buf.length),
			syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
		if err != nil {
			d.unmapLocked()
			return 0, fmt.Errorf("failed to map buffer %d: %w", i, err)
		}
		d.buffers = append(d.buffers, data)
	}

	for i := range d.buffers {
		if err := d.queueLocked(i); err != nil {
			return 0, err
		}
	}
	return len(d.buffers), nil
}

// Queue hands buffer index back to the driver.
func (d *Device) Queue(index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queueLocked(index)
}

func (d *Device) queueLocked(index int) error {
	if index < 0 || index >= len(d.buffers) {
		return fmt.Errorf("buffer index %d out of range", index)
	}
	buf := v4l2Buffer{index: uint32(index), typ: v4l2BufTypeVideoCapture, memory: v4l2MemoryMMAP}
	if err := ioctl(d.fd, vidiocQbuf, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("failed to queue buffer %d: %w", index, err)
	}
	return nil
}

// Dequeue takes the oldest filled buffer without blocking. It returns
// syscall.EAGAIN when none is ready.
func (d *Device) Dequeue() (Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := v4l2Buffer{typ: v4l2BufTypeVideoCapture, memory: v4l2MemoryMMAP}
	if err := ioctl(d.fd, vidiocDqbuf, unsafe.Pointer(&buf)); err != nil {
		return Frame{}, err
	}
	if int(buf.index) >= len(d.buffers) {
		return Frame{}, fmt.Errorf("driver returned unknown buffer %d", buf.index)
	}
	data := d.buffers[buf.index]
	if n := int(buf.bytesused); n > 0 && n <= len(data) {
		data = data[:n]
	}
	return Frame{
		Index:     int(buf.index),
		Data:      data,
		Sequence:  buf.sequence,
		Timestamp: time.Unix(0, buf.timestamp.Nano()),
	}, nil
}

// Wait blocks until a buffer can be dequeued or the timeout elapses. A
// non-positive timeout waits forever.
func (d *Device) Wait(timeoutMs int) (bool, error) {
	var tv *syscall.Timeval
	if timeoutMs > 0 {
		tv = makeTimeval(timeoutMs)
	}
	for {
		n, err := syscall.Select(d.fd+1, fdSet(d.fd), nil, nil, tv)
		if errors.Is(err, syscall.EINTR) {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0, nil
	}
}

// StreamOn starts capture into the queued buffers.
func (d *Device) StreamOn() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.streaming {
		return nil
	}
	typ := uint32(v4l2BufTypeVideoCapture)
	if err := ioctl(d.fd, vidiocStreamon, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("failed to start streaming: %w", err)
	}
	d.streaming = true
	return nil
}

// StreamOff stops capture. The driver returns every buffer to user space,
// filled or not; they must be queued again before the next StreamOn.
func (d *Device) StreamOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.streaming {
		return nil
	}
	typ := uint32(v4l2BufTypeVideoCapture)
	if err := ioctl(d.fd, vidiocStreamoff, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("failed to stop streaming: %w", err)
	}
	d.streaming = false
	return nil
}

// Streaming reports whether capture is running.
func (d *Device) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming
}

// Buffers returns the number of mapped buffers.
func (d *Device) Buffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

// Close stops streaming, unmaps the ring and closes the node.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return nil
	}
	if d.streaming {
		typ := uint32(v4l2BufTypeVideoCapture)
		_ = ioctl(d.fd, vidiocStreamoff, unsafe.Pointer(&typ))
		d.streaming = false
	}
	d.unmapLocked()
	err := close(d.fd)
	d.fd = -1
	return err
}

func (d *Device) unmapLocked() {
	for _, b := range d.buffers {
		_ = syscall.Munmap(b)
	}
	d.buffers = nil
}
