// Package acquisition sequences single-frame and bracketed burst captures
// on a camera.
//
// A Sequencer owns no device state of its own; every operation runs inside
// one exclusive section of the camera channel and hands back private frame
// copies. Device buffers never leave a call.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/smazurov/hdrnode/internal/bracket"
	"github.com/smazurov/hdrnode/internal/camera"
	"github.com/smazurov/hdrnode/internal/metrics"
)

// State is the acquisition state.
type State string

// Acquisition states.
const (
	Idle          State = "idle"
	Armed         State = "armed"
	Captured      State = "captured"
	MultiArmed    State = "multi_armed"
	MultiCaptured State = "multi_captured"
)

// Capture kinds used for metrics labels.
const (
	KindOneShot = "oneshot"
	KindHDR     = "hdr"
)

// maxFlush bounds a flush so a device that never stops producing cannot
// hang the caller.
const maxFlush = 256

// Options configures a Sequencer.
type Options struct {
	CameraID string
	// CodeMin and CodeMax bound burst shutter codes. A zero range only
	// enforces the register value field.
	CodeMin uint32
	CodeMax uint32
	// Metadata selects the prefix fields decoded from each frame.
	Metadata camera.MetadataFlags
	Logger   *slog.Logger
}

// Sequencer drives one-shot and multi-shot acquisition.
type Sequencer struct {
	ch       *camera.Channel
	proto    *bracket.Protocol
	cameraID string
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	codeMin  uint32
	codeMax  uint32
	metadata camera.MetadataFlags
}

// New creates a sequencer that programs brackets through proto.
func New(ch *camera.Channel, proto *bracket.Protocol, opts Options) *Sequencer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		ch:       ch,
		proto:    proto,
		cameraID: opts.CameraID,
		logger:   logger,
		state:    Idle,
		codeMin:  opts.CodeMin,
		codeMax:  opts.CodeMax,
		metadata: opts.Metadata,
	}
}

// State returns the current acquisition state.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetCodeRange replaces the accepted shutter code range, typically after
// the shutter map was rebuilt.
func (s *Sequencer) SetCodeRange(min, max uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codeMin, s.codeMax = min, max
}

// SetMetadata selects the prefix fields decoded from captured frames.
func (s *Sequencer) SetMetadata(flags camera.MetadataFlags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = flags
}

func (s *Sequencer) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Sequencer) snapshot() (State, uint32, uint32, camera.MetadataFlags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.codeMin, s.codeMax, s.metadata
}

// StopForOneShot halts continuous transmission, clears any pending
// one-shot and discards every queued buffer so the next capture cannot
// return a stale frame.
func (s *Sequencer) StopForOneShot(ctx context.Context) error {
	return s.ch.Do(ctx, func(h *camera.Handle) error {
		_, err := s.stop(h)
		return err
	})
}

func (s *Sequencer) stop(h *camera.Handle) (int, error) {
	on, err := h.Transmission()
	if err != nil {
		return 0, camera.ProtocolError("read transmission", err)
	}
	if on {
		if err := h.SetTransmission(false); err != nil {
			return 0, camera.ProtocolError("stop transmission", err)
		}
	}
	if err := h.SetOneShot(false); err != nil {
		return 0, camera.ProtocolError("clear one-shot", err)
	}
	s.setState(Idle)

	n, err := flush(h)
	if err != nil {
		return n, err
	}
	metrics.RecordFlushed(s.cameraID, n)
	if n > 0 {
		s.logger.Debug("Flushed stale buffers", "count", n)
	}
	return n, nil
}

// flush returns every queued buffer to the ring.
func flush(h *camera.Handle) (int, error) {
	for n := 0; n < maxFlush; n++ {
		buf, err := h.Dequeue(camera.PolicyPoll)
		if err != nil {
			return n, camera.ProtocolError("flush dequeue", err)
		}
		if buf == nil {
			return n, nil
		}
		if err := h.Enqueue(buf); err != nil {
			return n, camera.ProtocolError("flush enqueue", err)
		}
	}
	return maxFlush, camera.ProtocolError("flush", fmt.Errorf("queue not drained after %d buffers", maxFlush))
}

// GrabOneShot triggers a single frame and returns a private copy. Under
// PolicyPoll a frame that is not ready yet is reported as absent, and the
// trigger stays armed so the next call picks it up without re-arming.
func (s *Sequencer) GrabOneShot(ctx context.Context, policy camera.Policy) (camera.Frame, bool, error) {
	var (
		frame   camera.Frame
		present bool
	)
	err := s.ch.Do(ctx, func(h *camera.Handle) error {
		state, _, _, flags := s.snapshot()

		if state != Armed {
			if err := h.SetOneShot(true); err != nil {
				s.setState(Idle)
				return camera.ProtocolError("arm one-shot", err)
			}
			s.setState(Armed)
		}

		buf, err := h.Dequeue(policy)
		if err != nil {
			s.setState(Idle)
			return errors.Join(camera.ProtocolError("dequeue one-shot", err), clearOneShot(h))
		}
		if buf == nil {
			return nil
		}

		frame = camera.CopyFrame(buf, flags)
		present = true
		if err := h.Enqueue(buf); err != nil {
			s.setState(Idle)
			return camera.ProtocolError("enqueue one-shot", err)
		}
		s.setState(Captured)
		return nil
	})
	if err != nil {
		metrics.RecordCaptureFailure(s.cameraID, KindOneShot)
		return camera.Frame{}, false, err
	}
	if present {
		metrics.RecordCapture(s.cameraID, KindOneShot, 1)
	}
	return frame, present, nil
}

func clearOneShot(h *camera.Handle) error {
	if err := h.SetOneShot(false); err != nil {
		return camera.ProtocolError("clear one-shot", err)
	}
	return nil
}

// ExpandBracket maps n burst shutter codes onto the four banks: one code
// fills every bank, two codes fill the under and over pairs, four codes are
// used as given.
func ExpandBracket(shutters []uint32) (bracket.Bracket, error) {
	var b bracket.Bracket
	switch len(shutters) {
	case 1:
		b = bracket.Bracket{shutters[0], shutters[0], shutters[0], shutters[0]}
	case 2:
		b = bracket.Bracket{shutters[0], shutters[0], shutters[1], shutters[1]}
	case 4:
		copy(b[:], shutters)
	default:
		return b, camera.ConfigurationError("expand bracket", "burst of %d frames not supported, want 1, 2 or 4", len(shutters))
	}
	return b, nil
}

func (s *Sequencer) validate(n int, shutters []uint32, codeMin, codeMax uint32) error {
	if n != 1 && n != 2 && n != 4 {
		return camera.ConfigurationError("capture HDR", "burst of %d frames not supported, want 1, 2 or 4", n)
	}
	if len(shutters) != n {
		return camera.ConfigurationError("capture HDR", "%d shutter codes for a burst of %d", len(shutters), n)
	}
	for i, code := range shutters {
		if code > camera.BankValueMask {
			return camera.ConfigurationError("capture HDR", "shutter %d code %d exceeds 0x%X", i, code, camera.BankValueMask)
		}
		if codeMax > 0 && (code < codeMin || code > codeMax) {
			return camera.ConfigurationError("capture HDR", "shutter %d code %d outside [%d, %d]", i, code, codeMin, codeMax)
		}
	}
	return nil
}

// CaptureHDRFrame captures a burst of n frames, one per requested shutter
// code, using the on-camera bracket. Parameters are validated before any
// register is written. On return the bracket is disabled and transmission
// is off, whether or not the capture succeeded.
func (s *Sequencer) CaptureHDRFrame(ctx context.Context, n int, shutters []uint32) ([]camera.Frame, error) {
	_, codeMin, codeMax, flags := s.snapshot()
	if err := s.validate(n, shutters, codeMin, codeMax); err != nil {
		return nil, err
	}
	b, err := ExpandBracket(shutters)
	if err != nil {
		return nil, err
	}

	var frames []camera.Frame
	err = s.ch.Do(ctx, func(h *camera.Handle) (err error) {
		defer func() {
			if err != nil {
				err = errors.Join(err, s.abort(h, n))
				s.setState(Idle)
			}
		}()

		if _, err := s.stop(h); err != nil {
			return err
		}
		if err := s.proto.Write(h, b); err != nil {
			return err
		}
		if err := s.proto.Enable(h, true); err != nil {
			return err
		}
		if err := h.SetMultiShot(uint32(n), true); err != nil {
			return camera.ProtocolError("arm multi-shot", err)
		}
		s.setState(MultiArmed)
		if err := h.SetTransmission(true); err != nil {
			return camera.ProtocolError("start transmission", err)
		}

		frames = make([]camera.Frame, 0, n)
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("capture interrupted after %d of %d frames: %w", i, n, err)
			}
			buf, err := h.Dequeue(camera.PolicyWait)
			if err != nil {
				return camera.ProtocolError(fmt.Sprintf("dequeue frame %d", i), err)
			}
			if buf == nil {
				return camera.ProtocolError(fmt.Sprintf("dequeue frame %d", i), errors.New("no frame returned"))
			}
			frames = append(frames, camera.CopyFrame(buf, flags))
			if err := h.Enqueue(buf); err != nil {
				return camera.ProtocolError(fmt.Sprintf("enqueue frame %d", i), err)
			}
		}
		s.setState(MultiCaptured)

		if err := h.SetMultiShot(uint32(n), false); err != nil {
			return camera.ProtocolError("disarm multi-shot", err)
		}
		if err := h.SetTransmission(false); err != nil {
			return camera.ProtocolError("stop transmission", err)
		}
		if err := s.proto.Enable(h, false); err != nil {
			return err
		}
		s.setState(Idle)
		return nil
	})
	if err != nil {
		metrics.RecordCaptureFailure(s.cameraID, KindHDR)
		s.logger.Warn("HDR capture failed", "frames", n, "error", err)
		return nil, err
	}

	metrics.RecordCapture(s.cameraID, KindHDR, len(frames))
	s.logger.Debug("HDR capture complete", "frames", len(frames), "shutters", shutters)
	return frames, nil
}

// abort makes a best effort to leave the device disarmed and the bracket
// disabled after a failed capture.
func (s *Sequencer) abort(h *camera.Handle, n int) error {
	var errs []error
	if err := h.SetMultiShot(uint32(n), false); err != nil {
		errs = append(errs, camera.ProtocolError("cleanup multi-shot", err))
	}
	if err := h.SetTransmission(false); err != nil {
		errs = append(errs, camera.ProtocolError("cleanup transmission", err))
	}
	if err := s.proto.Enable(h, false); err != nil {
		errs = append(errs, fmt.Errorf("cleanup bracket: %w", err))
	}
	return errors.Join(errs...)
}
