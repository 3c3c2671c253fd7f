//go:build linux

package v4l2

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"unsafe"
)

func TestFormatFourCC(t *testing.T) {
	tests := []struct {
		name     string
		format   uint32
		expected string
	}{
		{
			name:     "grey format",
			format:   PixelFormatGrey,
			expected: "GREY",
		},
		{
			name:     "rgb24 format",
			format:   PixelFormatRGB24,
			expected: "RGB3",
		},
		{
			name:     "null bytes",
			format:   0x00000000,
			expected: "\x00\x00\x00\x00",
		},
		{
			name:     "mixed bytes",
			format:   0x01020304,
			expected: "\x04\x03\x02\x01",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatFourCC(tt.format)
			if result != tt.expected {
				t.Errorf("FormatFourCC(0x%08X) = %q, want %q", tt.format, result, tt.expected)
			}
		})
	}
}

// TestIoctlNumbers checks the hard-coded request numbers against the
// kernel encoding and the Go struct sizes.
func TestIoctlNumbers(t *testing.T) {
	tests := []struct {
		name string
		got  uint
		want uint
	}{
		{"QUERYCAP", vidiocQuerycap, ioc(iocRead, 0, unsafe.Sizeof(v4l2Capability{}))},
		{"G_FMT", vidiocGFmt, ioc(iocRead|iocWrite, 4, unsafe.Sizeof(v4l2Format{}))},
		{"S_FMT", vidiocSFmt, ioc(iocRead|iocWrite, 5, unsafe.Sizeof(v4l2Format{}))},
		{"REQBUFS", vidiocReqbufs, ioc(iocRead|iocWrite, 8, unsafe.Sizeof(v4l2RequestBuffers{}))},
		{"QUERYBUF", vidiocQuerybuf, ioc(iocRead|iocWrite, 9, unsafe.Sizeof(v4l2Buffer{}))},
		{"QBUF", vidiocQbuf, ioc(iocRead|iocWrite, 15, unsafe.Sizeof(v4l2Buffer{}))},
		{"DQBUF", vidiocDqbuf, ioc(iocRead|iocWrite, 17, unsafe.Sizeof(v4l2Buffer{}))},
		{"STREAMON", vidiocStreamon, ioc(iocWrite, 18, unsafe.Sizeof(int32(0)))},
		{"STREAMOFF", vidiocStreamoff, ioc(iocWrite, 19, unsafe.Sizeof(int32(0)))},
		{"G_CTRL", vidiocGCtrl, ioc(iocRead|iocWrite, 27, unsafe.Sizeof(v4l2Control{}))},
		{"S_CTRL", vidiocSCtrl, ioc(iocRead|iocWrite, 28, unsafe.Sizeof(v4l2Control{}))},
		{"QUERYCTRL", vidiocQueryctrl, ioc(iocRead|iocWrite, 36, unsafe.Sizeof(v4l2Queryctrl{}))},
		{"DBG_S_REGISTER", vidiocDbgSRegister, ioc(iocWrite, 79, unsafe.Sizeof(v4l2DbgRegister{}))},
		{"DBG_G_REGISTER", vidiocDbgGRegister, ioc(iocRead|iocWrite, 80, unsafe.Sizeof(v4l2DbgRegister{}))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("0x%08x, want 0x%08x", tt.got, tt.want)
			}
		})
	}
}

func TestCapsPrefersDeviceCaps(t *testing.T) {
	tests := []struct {
		name string
		cap  v4l2Capability
		want uint32
	}{
		{
			name: "driver caps only",
			cap:  v4l2Capability{capabilities: v4l2CapVideoCapture | v4l2CapStreaming},
			want: v4l2CapVideoCapture | v4l2CapStreaming,
		},
		{
			name: "device caps",
			cap: v4l2Capability{
				capabilities: v4l2CapVideoCapture | v4l2CapStreaming | v4l2CapDeviceCaps,
				deviceCaps:   v4l2CapStreaming,
			},
			want: v4l2CapStreaming,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cap.caps(); got != tt.want {
				t.Errorf("caps() = 0x%x, want 0x%x", got, tt.want)
			}
		})
	}
}

func TestSyntheticID(t *testing.T) {
	tests := []struct {
		busInfo string
		index   int
		want    string
	}{
		{"usb-0000:00:14.0-1", 0, "usb-0000:00:14.0-1-video-index0"},
		{"fe801000.csi", 1, "platform-fe801000.csi-video-index1"},
	}
	for _, tt := range tests {
		if got := syntheticID(tt.busInfo, tt.index); got != tt.want {
			t.Errorf("syntheticID(%q, %d) = %q, want %q", tt.busInfo, tt.index, got, tt.want)
		}
	}
}

func TestCstr(t *testing.T) {
	if got := cstr([]byte{'u', 'v', 'c', 0, 'x'}); got != "uvc" {
		t.Errorf("cstr = %q, want uvc", got)
	}
	if got := cstr([]byte("full")); got != "full" {
		t.Errorf("cstr = %q, want full", got)
	}
}

func TestReadSysfsInt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index")
	if err := os.WriteFile(path, []byte("3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := readSysfsInt(path); got != 3 {
		t.Errorf("readSysfsInt = %d, want 3", got)
	}
	if got := readSysfsInt(filepath.Join(t.TempDir(), "missing")); got != 0 {
		t.Errorf("missing file = %d, want 0", got)
	}
}

func TestOpenRejectsNonVideoNode(t *testing.T) {
	_, err := Open("/dev/null")
	if err == nil {
		t.Fatal("expected error opening /dev/null")
	}
	if !errors.Is(err, syscall.ENOTTY) && !errors.Is(err, syscall.EINVAL) {
		t.Errorf("error = %v, want ENOTTY or EINVAL", err)
	}
}

func TestResolveDevicePath(t *testing.T) {
	got, err := ResolveDevice("/dev/video7")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/dev/video7" {
		t.Errorf("ResolveDevice = %q", got)
	}
}

func TestFdSet(t *testing.T) {
	set := fdSet(70)
	words := unsafe.Sizeof(set.Bits[0]) * 8
	word, bit := 70/int(words), 70%int(words)
	if set.Bits[word]>>bit&1 != 1 {
		t.Errorf("bit for fd 70 not set: %v", set.Bits)
	}
}
