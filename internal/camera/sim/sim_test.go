package sim

import (
	"errors"
	"testing"

	"github.com/smazurov/hdrnode/internal/camera"
)

func manual(t *testing.T, cfg Config) *Camera {
	t.Helper()
	c := New(cfg)
	if err := c.SetShutterMode(camera.ShutterManual); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestShutterCurveIsMonotonic(t *testing.T) {
	c := New(Config{CodeMax: 127})
	prev := 0.0
	for code := uint32(0); code <= 127; code++ {
		abs := c.AbsForCode(code)
		if abs < prev {
			t.Fatalf("code %d: %g < %g", code, abs, prev)
		}
		prev = abs
	}
	lo, hi, err := c.ShutterBounds()
	if err != nil {
		t.Fatal(err)
	}
	if lo != c.AbsForCode(0) || hi != c.AbsForCode(127) {
		t.Errorf("bounds = %g..%g", lo, hi)
	}
}

func TestShutterRejectedInAutoMode(t *testing.T) {
	c := New(DefaultConfig())
	if err := c.SetShutter(10); err == nil {
		t.Error("SetShutter should fail while the shutter is automatic")
	}
	if err := c.SetAbsoluteShutter(0.001); err == nil {
		t.Error("SetAbsoluteShutter should fail while the shutter is automatic")
	}
}

func TestSetShutter(t *testing.T) {
	c := manual(t, DefaultConfig())

	tests := []struct {
		code    uint32
		wantErr bool
	}{
		{0, false},
		{511, false},
		{512, true},
	}
	for _, tt := range tests {
		err := c.SetShutter(tt.code)
		if (err != nil) != tt.wantErr {
			t.Errorf("SetShutter(%d) err = %v", tt.code, err)
		}
	}

	if err := c.SetAbsoluteShutter(0.01); err != nil {
		t.Fatal(err)
	}
	abs, _ := c.AbsoluteShutter()
	if abs < 0.01 {
		t.Errorf("realized %g below request", abs)
	}
	if err := c.SetAbsoluteShutter(10); err == nil {
		t.Error("request above maximum should fail")
	}
}

func TestDequeueWhenIdle(t *testing.T) {
	c := New(DefaultConfig())

	buf, err := c.Dequeue(camera.PolicyPoll)
	if buf != nil || err != nil {
		t.Errorf("poll = %v, %v; want nil, nil", buf, err)
	}
	if _, err := c.Dequeue(camera.PolicyWait); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("wait err = %v, want ErrWouldBlock", err)
	}
}

func TestOneShotPollLatency(t *testing.T) {
	c := New(Config{PollLatency: 2})
	if err := c.SetOneShot(true); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if buf, _ := c.Dequeue(camera.PolicyPoll); buf != nil {
			t.Fatalf("poll %d delivered early", i)
		}
	}
	buf, err := c.Dequeue(camera.PolicyPoll)
	if err != nil || buf == nil {
		t.Fatalf("third poll = %v, %v", buf, err)
	}
	if c.Lent() != 1 {
		t.Errorf("Lent() = %d", c.Lent())
	}
	if err := c.Enqueue(buf); err != nil {
		t.Fatal(err)
	}
	if err := c.Enqueue(buf); err == nil {
		t.Error("second enqueue of the same buffer should fail")
	}
}

func TestContinuousTransmissionFillsRing(t *testing.T) {
	c := New(DefaultConfig())
	if err := c.SetTransmission(true); err != nil {
		t.Fatal(err)
	}
	buf, err := c.Dequeue(camera.PolicyPoll)
	if err != nil || buf == nil {
		t.Fatalf("dequeue = %v, %v", buf, err)
	}
	if got := c.Queued(); got != 3 {
		t.Errorf("Queued() = %d, want 3 stale frames", got)
	}
}

func TestBurstReadsBanks(t *testing.T) {
	c := manual(t, Config{Format: camera.FormatMono8})
	for bank, code := range []uint32{5, 6, 7, 8} {
		if err := c.WriteRegister(camera.RegShutterBank[bank], camera.BankValue(code)); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.WriteRegister(camera.RegMetadataFlags, uint32(camera.MetaShutter)); err != nil {
		t.Fatal(err)
	}
	if err := c.WriteRegister(camera.RegHDRControl, camera.HDREnablePattern); err != nil {
		t.Fatal(err)
	}
	if err := c.SetMultiShot(2, true); err != nil {
		t.Fatal(err)
	}
	if err := c.SetTransmission(true); err != nil {
		t.Fatal(err)
	}

	for i, want := range []uint32{5, 7} {
		buf, err := c.Dequeue(camera.PolicyWait)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		md, ok := camera.DecodeMetadata(buf.Data, camera.MetaShutter)
		if !ok {
			t.Fatalf("frame %d: no metadata", i)
		}
		if code, _ := md.ShutterCode(); code != want {
			t.Errorf("frame %d shutter = %d, want %d", i, code, want)
		}
		if err := c.Enqueue(buf); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := c.Dequeue(camera.PolicyWait); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("after burst err = %v, want ErrWouldBlock", err)
	}
}

func TestFailureInjection(t *testing.T) {
	c := New(DefaultConfig())
	boom := errors.New("link down")

	c.FailRegister(camera.RegHDRControl, boom)
	if err := c.WriteRegister(camera.RegHDRControl, camera.HDREnablePattern); !errors.Is(err, boom) {
		t.Errorf("register err = %v", err)
	}
	if err := c.WriteRegister(camera.RegShutterBank[0], 1); err != nil {
		t.Errorf("other register err = %v", err)
	}
	if len(c.Writes()) != 1 {
		t.Errorf("writes = %v", c.Writes())
	}

	c.Fail("Shutter", boom)
	if _, err := c.Shutter(); !errors.Is(err, boom) {
		t.Errorf("Shutter err = %v", err)
	}
	c.Fail("Shutter", nil)
	if _, err := c.Shutter(); err != nil {
		t.Errorf("cleared err = %v", err)
	}

	_ = c.Close()
	if _, err := c.Shutter(); err == nil {
		t.Error("closed camera should fail")
	}
}
