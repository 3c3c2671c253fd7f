package camera

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMetadataRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		flags MetadataFlags
	}{
		{"none", 0},
		{"shutter only", MetaShutter},
		{"timestamp and counter", MetaTimestamp | MetaFrameCounter},
		{"all", MetaAll},
	}

	in := Metadata{
		Timestamp:    1,
		Gain:         BankValue(2),
		Shutter:      BankValue(300),
		Brightness:   4,
		Exposure:     5,
		WhiteBalance: 6,
		FrameCounter: 7,
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 64)
			in.Flags = tt.flags
			if n := EncodeMetadata(buf, in); n != tt.flags.PrefixBytes() {
				t.Fatalf("wrote %d bytes, want %d", n, tt.flags.PrefixBytes())
			}
			out, ok := DecodeMetadata(buf, tt.flags)
			if !ok {
				t.Fatal("decode failed")
			}
			if code, present := out.ShutterCode(); present != tt.flags.Has(MetaShutter) || (present && code != 300) {
				t.Errorf("ShutterCode() = %d, %v", code, present)
			}
			if tt.flags.Has(MetaFrameCounter) && out.FrameCounter != 7 {
				t.Errorf("FrameCounter = %d, want 7", out.FrameCounter)
			}
		})
	}
}

func TestMetadataWordOrder(t *testing.T) {
	buf := make([]byte, 8)
	EncodeMetadata(buf, Metadata{Flags: MetaGain | MetaExposure, Gain: 0x01020304, Exposure: 0x0A0B0C0D})
	want := []byte{1, 2, 3, 4, 0x0A, 0x0B, 0x0C, 0x0D}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("prefix = % x, want % x", buf, want)
		}
	}
}

func TestMetadataShortBuffer(t *testing.T) {
	if n := EncodeMetadata(make([]byte, 4), Metadata{Flags: MetaAll}); n != 0 {
		t.Errorf("EncodeMetadata into short buffer wrote %d bytes", n)
	}
	if _, ok := DecodeMetadata(make([]byte, 4), MetaAll); ok {
		t.Error("DecodeMetadata of short buffer should fail")
	}
}

func TestCopyFrameIsPrivate(t *testing.T) {
	buf := &Buffer{Data: make([]byte, 12), Width: 2, Height: 2, Format: FormatRGB8, Sequence: 9}
	EncodeMetadata(buf.Data, Metadata{Flags: MetaShutter, Shutter: BankValue(42)})

	f := CopyFrame(buf, MetaShutter)
	buf.Data[0] = 0xFF

	if f.Data[0] == 0xFF {
		t.Error("frame shares memory with the device buffer")
	}
	if code, _ := f.Metadata.ShutterCode(); code != 42 {
		t.Errorf("shutter = %d, want 42", code)
	}
	if f.Sequence != 9 || f.Pixels() != 4 {
		t.Errorf("frame = %+v", f)
	}
	// 4 prefix bytes cover pixel 0 and part of pixel 1
	if got := f.FirstPixel(); got != 2 {
		t.Errorf("FirstPixel() = %d, want 2", got)
	}
}

func TestGray(t *testing.T) {
	rgb := Frame{Data: []byte{255, 255, 255, 255, 0, 0, 0, 255, 0}, Width: 3, Height: 1, Format: FormatRGB8}
	want := []byte{255, 76, 149}
	got := rgb.Gray()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Gray()[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	mono := Frame{Data: []byte{1, 2, 3}, Width: 3, Height: 1, Format: FormatMono8}
	g := mono.Gray()
	g[0] = 99
	if mono.Data[0] != 1 {
		t.Error("Gray() of mono frame aliases the frame data")
	}
}

func TestErrorSentinels(t *testing.T) {
	cause := errors.New("EIO")
	tests := []struct {
		err      error
		sentinel error
		text     string
	}{
		{ProtocolError("dequeue", cause), ErrProtocol, "DEVICE_PROTOCOL: dequeue: EIO"},
		{RegisterError("write", RegHDRControl, cause), ErrProtocol, "[0x1800]"},
		{ConfigurationError("capture", "burst of %d", 3), ErrConfiguration, "burst of 3"},
		{DegenerateError("evaluate", "zero proportion"), ErrDegenerate, "ARITHMETIC_DEGENERATE"},
	}

	for _, tt := range tests {
		if !errors.Is(tt.err, tt.sentinel) {
			t.Errorf("%v does not match %v", tt.err, tt.sentinel)
		}
		if !strings.Contains(tt.err.Error(), tt.text) {
			t.Errorf("%q missing %q", tt.err.Error(), tt.text)
		}
	}

	if errors.Is(ConfigurationError("x", "y"), ErrProtocol) {
		t.Error("configuration error matched ErrProtocol")
	}
	if !errors.Is(ProtocolError("dequeue", cause), cause) {
		t.Error("cause not reachable through Unwrap")
	}
}

func TestBankIndexes(t *testing.T) {
	for i := 0; i < NumBanks; i++ {
		if got := ShutterBankIndex(RegShutterBank[i]); got != i {
			t.Errorf("ShutterBankIndex(bank %d) = %d", i, got)
		}
		if got := GainBankIndex(RegGainBank[i]); got != i {
			t.Errorf("GainBankIndex(bank %d) = %d", i, got)
		}
	}
	if ShutterBankIndex(RegHDRControl) != -1 || GainBankIndex(RegShutterBank[0]) != -1 {
		t.Error("non-bank registers should map to -1")
	}
	if BankValue(0x1FFF) != RegisterMarker|0xFFF {
		t.Errorf("BankValue masks to 12 bits, got %#x", BankValue(0x1FFF))
	}
}

type closeCounter struct {
	Camera
	closed atomic.Int32
}

func (c *closeCounter) Close() error {
	c.closed.Add(1)
	return nil
}

func TestChannelIsExclusive(t *testing.T) {
	cam := &closeCounter{}
	ch := NewChannel(cam)

	var inside, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ch.Do(context.Background(), func(h *Handle) error {
				n := inside.Add(1)
				if n > peak.Load() {
					peak.Store(n)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if peak.Load() != 1 {
		t.Errorf("%d sections ran at once", peak.Load())
	}

	if err := ch.Close(); err != nil || cam.closed.Load() != 1 {
		t.Errorf("Close() = %v, closed %d times", err, cam.closed.Load())
	}
}

func TestChannelChecksContext(t *testing.T) {
	ch := NewChannel(&closeCounter{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := ch.Do(ctx, func(*Handle) error {
		ran = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || ran {
		t.Errorf("Do on cancelled ctx = %v, ran = %v", err, ran)
	}
}

func TestStringers(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{PolicyWait.String(), "wait"},
		{PolicyPoll.String(), "poll"},
		{Policy(9).String(), "unknown"},
		{FormatMono8.String(), "mono8"},
		{FormatRGB8.String(), "rgb8"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
	if FormatRGB8.BytesPerPixel() != 3 || FormatMono8.BytesPerPixel() != 1 {
		t.Error("unexpected bytes per pixel")
	}
}
