package bracket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/smazurov/hdrnode/internal/camera"
	"github.com/smazurov/hdrnode/internal/camera/sim"
)

func newTestProtocol(t *testing.T) (*Protocol, *sim.Camera) {
	t.Helper()
	cam := sim.New(sim.DefaultConfig())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewProtocol(camera.NewChannel(cam), logger), cam
}

func TestSetBracketRoundTrip(t *testing.T) {
	p, cam := newTestProtocol(t)
	ctx := context.Background()
	want := Bracket{100, 100, 300, 300}

	if err := p.SetBracket(ctx, want); err != nil {
		t.Fatalf("SetBracket failed: %v", err)
	}

	got, err := p.GetBracket(ctx)
	if err != nil {
		t.Fatalf("GetBracket failed: %v", err)
	}
	if got != want {
		t.Errorf("GetBracket() = %v, want %v", got, want)
	}

	for _, w := range cam.Writes() {
		if camera.ShutterBankIndex(w.Addr) < 0 {
			continue
		}
		if w.Value&camera.RegisterMarker != camera.RegisterMarker {
			t.Errorf("write to 0x%04X = 0x%08X, missing marker", w.Addr, w.Value)
		}
	}
}

func TestRegisterValues(t *testing.T) {
	p, cam := newTestProtocol(t)

	if err := p.SetBracket(context.Background(), Bracket{0x10, 0x20, 0x30, 0xFFF}); err != nil {
		t.Fatal(err)
	}

	want := []sim.RegisterWrite{
		{Addr: 0x1820, Value: 0x82000010},
		{Addr: 0x1840, Value: 0x82000020},
		{Addr: 0x1860, Value: 0x82000030},
		{Addr: 0x1880, Value: 0x82000FFF},
	}
	got := cam.Writes()
	if len(got) != len(want) {
		t.Fatalf("got %d writes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("write %d = {0x%04X 0x%08X}, want {0x%04X 0x%08X}",
				i, got[i].Addr, got[i].Value, want[i].Addr, want[i].Value)
		}
	}
}

func TestOversizedValueRejectedBeforeWrite(t *testing.T) {
	p, cam := newTestProtocol(t)

	err := p.SetBracket(context.Background(), Bracket{1, 2, 0x1000, 4})
	if !errors.Is(err, camera.ErrConfiguration) {
		t.Fatalf("SetBracket error = %v, want configuration error", err)
	}
	if n := len(cam.Writes()); n != 0 {
		t.Errorf("got %d register writes, want none", n)
	}
}

func TestBadBankIndexRejectedBeforeWrite(t *testing.T) {
	p, cam := newTestProtocol(t)
	ch := camera.NewChannel(cam)

	for _, bank := range []int{4, -1} {
		err := ch.Do(context.Background(), func(h *camera.Handle) error {
			return p.WriteBanks(h, Bracket{1, 2, 3, 4}, 0, 1, bank)
		})
		if !errors.Is(err, camera.ErrConfiguration) {
			t.Fatalf("bank %d: error = %v, want configuration error", bank, err)
		}
	}
	if n := len(cam.Writes()); n != 0 {
		t.Errorf("got %d register writes, want none", n)
	}
}

func TestDisableZeroesBanks(t *testing.T) {
	p, _ := newTestProtocol(t)
	ctx := context.Background()

	if err := p.SetBracket(ctx, Bracket{5, 6, 7, 8}); err != nil {
		t.Fatal(err)
	}
	if err := p.SetEnabled(ctx, true); err != nil {
		t.Fatal(err)
	}
	on, err := p.Enabled(ctx)
	if err != nil || !on {
		t.Fatalf("Enabled() = %v, %v, want true", on, err)
	}

	if err := p.SetEnabled(ctx, false); err != nil {
		t.Fatalf("SetEnabled(false) failed: %v", err)
	}
	got, err := p.GetBracket(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != (Bracket{}) {
		t.Errorf("GetBracket() after disable = %v, want zeros", got)
	}
	if on, _ := p.Enabled(ctx); on {
		t.Error("Enabled() = true after disable")
	}
}

func TestPerBankFailuresAreJoined(t *testing.T) {
	p, cam := newTestProtocol(t)
	cam.FailRegister(camera.RegShutterBank[1], errors.New("nak"))
	cam.FailRegister(camera.RegShutterBank[3], errors.New("nak"))

	err := p.SetBracket(context.Background(), Bracket{1, 2, 3, 4})
	if !errors.Is(err, camera.ErrProtocol) {
		t.Fatalf("SetBracket error = %v, want protocol error", err)
	}

	var failed []int
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		t.Fatalf("error %T is not a joined error", err)
	}
	for _, e := range joined.Unwrap() {
		var be *BankError
		if errors.As(e, &be) {
			failed = append(failed, be.Bank)
		}
	}
	if len(failed) != 2 || failed[0] != 1 || failed[1] != 3 {
		t.Errorf("failed banks = %v, want [1 3]", failed)
	}

	// Banks that did not fail were still written.
	got, err := p.GetBracket(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 1 || got[2] != 3 {
		t.Errorf("GetBracket() = %v, want banks 0 and 2 written", got)
	}
}

func TestWriteBanksOnlyTouchesPair(t *testing.T) {
	p, cam := newTestProtocol(t)
	ch := camera.NewChannel(cam)

	err := ch.Do(context.Background(), func(h *camera.Handle) error {
		if err := p.Write(h, Bracket{10, 10, 30, 30}); err != nil {
			return err
		}
		return p.WriteBanks(h, Bracket{11, 11, 99, 99}, UnderBanks...)
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := p.GetBracket(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if want := (Bracket{11, 11, 30, 30}); got != want {
		t.Errorf("GetBracket() = %v, want %v", got, want)
	}
}

func TestMetadataFlags(t *testing.T) {
	p, cam := newTestProtocol(t)
	ctx := context.Background()
	want := camera.MetaShutter | camera.MetaFrameCounter

	if err := p.SetMetadataFlags(ctx, want); err != nil {
		t.Fatalf("SetMetadataFlags failed: %v", err)
	}
	got, err := p.MetadataFlags(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("MetadataFlags() = %b, want %b", got, want)
	}

	w := cam.Writes()
	if last := w[len(w)-1]; last.Value != camera.MetadataPresent|uint32(want) {
		t.Errorf("metadata register = 0x%08X, want presence bit kept", last.Value)
	}
}

func TestMetadataUnsupported(t *testing.T) {
	p, cam := newTestProtocol(t)
	// Clearing the register removes the presence bit.
	if err := cam.WriteRegister(camera.RegMetadataFlags, 0); err != nil {
		t.Fatal(err)
	}
	cam.ResetWrites()

	err := p.SetMetadataFlags(context.Background(), camera.MetaShutter)
	if !errors.Is(err, camera.ErrProtocol) {
		t.Fatalf("SetMetadataFlags error = %v, want protocol error", err)
	}
	if n := len(cam.Writes()); n != 0 {
		t.Errorf("got %d writes on unsupported device, want none", n)
	}
}

func TestSetGains(t *testing.T) {
	p, cam := newTestProtocol(t)

	if err := p.SetGains(context.Background(), Gains{0, 10, 20, 30}); err != nil {
		t.Fatal(err)
	}
	for _, w := range cam.Writes() {
		bank := camera.GainBankIndex(w.Addr)
		if bank < 0 {
			t.Errorf("unexpected write to 0x%04X", w.Addr)
			continue
		}
		if want := camera.BankValue(uint32(bank * 10)); w.Value != want {
			t.Errorf("gain bank %d = 0x%08X, want 0x%08X", bank, w.Value, want)
		}
	}
}
