//go:build linux

package v4l2

import "unsafe"

// Layouts shared by every supported architecture.
var (
	_ [104]byte = [unsafe.Sizeof(v4l2Capability{})]byte{}
	_ [48]byte  = [unsafe.Sizeof(v4l2PixFormat{})]byte{}
	_ [20]byte  = [unsafe.Sizeof(v4l2RequestBuffers{})]byte{}
	_ [8]byte   = [unsafe.Sizeof(v4l2Control{})]byte{}
	_ [68]byte  = [unsafe.Sizeof(v4l2Queryctrl{})]byte{}
	_ [56]byte  = [unsafe.Sizeof(v4l2DbgRegister{})]byte{}
)

// IOCTL constants whose argument has the same size everywhere.
const (
	vidiocQuerycap     = 0x80685600
	vidiocReqbufs      = 0xc0145608
	vidiocStreamon     = 0x40045612
	vidiocStreamoff    = 0x40045613
	vidiocGCtrl        = 0xc008561b
	vidiocSCtrl        = 0xc008561c
	vidiocQueryctrl    = 0xc0445624
	vidiocDbgSRegister = 0x4038564f
	vidiocDbgGRegister = 0xc0385650
)

// v4l2Capability has size 104 bytes.
type v4l2Capability struct {
	driver       [16]byte  // offset 0
	card         [32]byte  // offset 16
	busInfo      [32]byte  // offset 48
	version      uint32    // offset 80
	capabilities uint32    // offset 84
	deviceCaps   uint32    // offset 88
	reserved     [3]uint32 // offset 92
}

// caps returns the capabilities of the opened node.
func (c *v4l2Capability) caps() uint32 {
	if c.capabilities&v4l2CapDeviceCaps != 0 {
		return c.deviceCaps
	}
	return c.capabilities
}

// v4l2PixFormat has size 48 bytes.
type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

// v4l2RequestBuffers has size 20 bytes.
type v4l2RequestBuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	reserved     [3]uint8
}

// v4l2Control has size 8 bytes.
type v4l2Control struct {
	id    uint32
	value int32
}

// v4l2Queryctrl has size 68 bytes.
type v4l2Queryctrl struct {
	id           uint32    // offset 0
	typ          uint32    // offset 4
	name         [32]byte  // offset 8
	minimum      int32     // offset 40
	maximum      int32     // offset 44
	step         int32     // offset 48
	defaultValue int32     // offset 52
	flags        uint32    // offset 56
	reserved     [2]uint32 // offset 60
}

// v4l2DbgRegister is packed in the kernel; the natural Go layout matches
// because reg already falls on an 8-byte boundary.
type v4l2DbgRegister struct {
	matchType uint32   // offset 0
	matchAddr [32]byte // offset 4, union with the chip name
	size      uint32   // offset 36
	reg       uint64   // offset 40
	val       uint64   // offset 48
}
