// Package session runs the HDR control loop for one camera.
//
// Each cycle applies pending mode transitions, flips the exposure
// direction, lets the auto-exposure controller revise that direction from
// its most recent frame, and acquires the next frame or burst. Only the
// goroutine running a cycle touches the device; everything else reads
// snapshots.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/smazurov/hdrnode/internal/acquisition"
	"github.com/smazurov/hdrnode/internal/aec"
	"github.com/smazurov/hdrnode/internal/bracket"
	"github.com/smazurov/hdrnode/internal/camera"
	"github.com/smazurov/hdrnode/internal/events"
	"github.com/smazurov/hdrnode/internal/metrics"
	"github.com/smazurov/hdrnode/internal/shutter"
	"github.com/smazurov/hdrnode/internal/sink"
)

// Modes are the operator-controlled switches.
type Modes struct {
	HDR         bool `json:"hdr" toml:"hdr" doc:"Capture bracketed bursts instead of single frames"`
	AEC         bool `json:"aec" toml:"aec" doc:"Retune the bracket from captured frames"`
	AutoShutter bool `json:"auto_shutter" toml:"auto_shutter" doc:"Let the device control the shutter"`
}

// Publisher receives session events. *events.Bus satisfies it.
type Publisher interface {
	Publish(ev events.Event)
}

// Submitter hands captures downstream without blocking.
// *sink.Dispatcher satisfies it.
type Submitter interface {
	Submit(c sink.Capture) bool
}

// Options wires a Session.
type Options struct {
	CameraID   string
	Channel    *camera.Channel
	Map        *shutter.Map
	Protocol   *bracket.Protocol
	Sequencer  *acquisition.Sequencer
	Controller *aec.Controller
	Bus        Publisher
	Sink       Submitter
	// Bracket is the initial bank programming.
	Bracket bracket.Bracket
	Modes   Modes
	Logger  *slog.Logger
}

// latch remembers the last applied value of a mode so its action fires
// once per transition.
type latch struct {
	valid bool
	on    bool
}

func (l latch) differs(on bool) bool {
	return !l.valid || l.on != on
}

// Session is the single owner of a camera's control state.
type Session struct {
	runID    string
	cameraID string
	ch       *camera.Channel
	proto    *bracket.Protocol
	seq      *acquisition.Sequencer
	ctrl     *aec.Controller
	bus      Publisher
	sink     Submitter
	logger   *slog.Logger
	limiter  *rate.Limiter

	// run serializes cycles and everything else that drives the device.
	run sync.Mutex

	mu        sync.RWMutex
	m         *shutter.Map
	requested Modes
	hdr       latch
	aecOn     latch
	auto      latch
	bracket   bracket.Bracket
	state     aec.State
	last      [2]*camera.Frame
	cycle     uint64
	lastErr   error
	lastErrAt time.Time
	closer    func() error
}

// New creates a session. The first cycle applies every mode.
func New(opts Options) (*Session, error) {
	if opts.Channel == nil || opts.Map == nil || opts.Protocol == nil || opts.Sequencer == nil || opts.Controller == nil {
		return nil, camera.ConfigurationError("new session", "channel, map, protocol, sequencer and controller are required")
	}
	if err := validateBracket(opts.Bracket); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		runID:     uuid.NewString(),
		cameraID:  opts.CameraID,
		ch:        opts.Channel,
		proto:     opts.Protocol,
		seq:       opts.Sequencer,
		ctrl:      opts.Controller,
		bus:       opts.Bus,
		sink:      opts.Sink,
		logger:    logger,
		limiter:   newFailureLogLimiter(),
		m:         opts.Map,
		requested: opts.Modes,
		bracket:   opts.Bracket,
		// The first Toggle makes the first cycle an under cycle.
		state: aec.State{Direction: aec.Over},
	}
	s.seedState()
	metrics.SetShutterMapEntries(s.cameraID, opts.Map.Len())
	return s, nil
}

// RunID identifies this session instance in sink output.
func (s *Session) RunID() string { return s.runID }

// CameraID returns the camera the session drives.
func (s *Session) CameraID() string { return s.cameraID }

// Map returns the active shutter map.
func (s *Session) Map() *shutter.Map {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m
}

// RequestModes sets the desired modes. They take effect at the start of
// the next cycle. Safe for concurrent use.
func (s *Session) RequestModes(m Modes) {
	s.mu.Lock()
	s.requested = m
	s.mu.Unlock()
	s.logger.Info("Modes requested", "hdr", m.HDR, "aec", m.AEC, "auto_shutter", m.AutoShutter)
}

// Modes returns the requested modes.
func (s *Session) Modes() Modes {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requested
}

// newFailureLogLimiter lets cycle failures through at error level in a
// burst of 3, refilling at 3 per 10s.
func newFailureLogLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(10*time.Second/3), 3)
}

// validateBracket accepts the brackets a session can capture: each
// direction has one code, shared by both banks of its pair.
func validateBracket(b bracket.Bracket) error {
	if err := b.Validate(); err != nil {
		return err
	}
	under, over := bracket.UnderBanks, bracket.OverBanks
	if b[under[0]] != b[under[1]] || b[over[0]] != b[over[1]] {
		return camera.ConfigurationError("validate bracket", "bank pairs must share a code, got %v", b)
	}
	return nil
}

// SetBracket replaces the session bracket. Registers are programmed by the
// next capture.
func (s *Session) SetBracket(b bracket.Bracket) error {
	if err := validateBracket(b); err != nil {
		return err
	}
	s.mu.Lock()
	s.bracket = b
	s.mu.Unlock()
	s.seedState()
	return nil
}

// Tune hot-applies controller parameters.
func (s *Session) Tune(t aec.Tuning) error {
	if err := s.ctrl.SetTuning(t); err != nil {
		return err
	}
	s.logger.Info("AEC tuning updated", "target", t.Target, "threshold", t.Threshold, "clamp", t.ClampToBounds)
	return nil
}

// seedState derives the per-direction exposure times from the bracket.
func (s *Session) seedState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dir := range []aec.Direction{aec.Under, aec.Over} {
		code := s.bracket[dir.Banks()[0]]
		abs, err := s.m.ToAbs(code)
		if err != nil {
			s.logger.Warn("Bracket code outside shutter map", "direction", dir, "code", code)
			continue
		}
		s.state.SetTime(dir, abs)
		metrics.SetExposure(s.cameraID, dir.String(), abs)
	}
}

// applyModes fires the action of every mode whose requested value differs
// from the last applied one.
func (s *Session) applyModes(ctx context.Context) error {
	s.mu.RLock()
	want := s.requested
	hdr, aecOn, auto := s.hdr, s.aecOn, s.auto
	s.mu.RUnlock()

	changed := false

	if auto.differs(want.AutoShutter) {
		mode := camera.ShutterManual
		if want.AutoShutter {
			mode = camera.ShutterAuto
		}
		err := s.ch.Do(ctx, func(h *camera.Handle) error {
			if err := h.SetShutterMode(mode); err != nil {
				return camera.ProtocolError("set shutter mode", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.auto = latch{valid: true, on: want.AutoShutter}
		s.mu.Unlock()
		changed = true
	}

	if hdr.differs(want.HDR) {
		if !want.HDR {
			if err := s.proto.SetEnabled(ctx, false); err != nil {
				return err
			}
			if err := s.seq.StopForOneShot(ctx); err != nil {
				return err
			}
		}
		s.mu.Lock()
		s.hdr = latch{valid: true, on: want.HDR}
		s.mu.Unlock()
		changed = true
	}

	if aecOn.differs(want.AEC) {
		if want.AEC {
			s.seedState()
		}
		s.mu.Lock()
		s.aecOn = latch{valid: true, on: want.AEC}
		s.mu.Unlock()
		changed = true
	}

	if changed {
		s.logger.Info("Modes applied", "hdr", want.HDR, "aec", want.AEC, "auto_shutter", want.AutoShutter)
		s.publish(events.ModesChangedEvent{
			CameraID:    s.cameraID,
			HDR:         want.HDR,
			AEC:         want.AEC,
			AutoShutter: want.AutoShutter,
			Timestamp:   timestamp(),
		})
	}
	return nil
}

// Cycle runs one control cycle.
func (s *Session) Cycle(ctx context.Context) error {
	s.run.Lock()
	defer s.run.Unlock()

	if err := s.applyModes(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.cycle++
	cycle := s.cycle
	dir := s.state.Toggle()
	evaluate := s.aecOn.on && s.last[dir] != nil
	s.mu.Unlock()

	if evaluate {
		if _, err := s.evaluate(ctx, cycle, dir); err != nil {
			if !errors.Is(err, camera.ErrDegenerate) {
				return err
			}
			s.logger.Debug("Exposure update skipped", "direction", dir, "error", err)
		}
	}

	if err := s.acquire(ctx, cycle, dir); err != nil {
		return err
	}
	metrics.RecordCycle(s.cameraID)
	return nil
}

// Evaluate runs the controller on the most recent frame for dir and
// reprograms that direction's banks if the result is usable. It reports
// whether the bracket changed.
func (s *Session) Evaluate(ctx context.Context, dir aec.Direction) (bool, error) {
	s.run.Lock()
	defer s.run.Unlock()
	s.mu.RLock()
	cycle := s.cycle
	s.mu.RUnlock()
	return s.evaluate(ctx, cycle, dir)
}

func (s *Session) evaluate(ctx context.Context, cycle uint64, dir aec.Direction) (bool, error) {
	s.mu.RLock()
	frame := s.last[dir]
	current := s.state.Time(dir)
	m := s.m
	b := s.bracket
	hdrOn := s.hdr.valid && s.hdr.on
	s.mu.RUnlock()

	if frame == nil {
		return false, nil
	}

	banks := dir.Banks()
	ev := events.ExposureUpdatedEvent{
		CameraID:  s.cameraID,
		Cycle:     cycle,
		Direction: dir.String(),
		Previous:  current,
		Time:      current,
		Code:      b[banks[0]],
		Timestamp: timestamp(),
	}
	skip := func(outcome string) {
		metrics.RecordEvaluation(s.cameraID, outcome)
		ev.Reason = outcome
		s.publish(ev)
	}

	res, err := s.ctrl.Evaluate(*frame, dir, current)
	ev.Proportion = res.Proportion
	ev.Saturated = int(res.Saturated)
	if err != nil {
		if errors.Is(err, camera.ErrDegenerate) {
			skip(metrics.OutcomeDegenerate)
		}
		return false, err
	}
	if res.Converged {
		skip(metrics.OutcomeConverged)
		return false, nil
	}
	if !res.InBounds {
		s.logger.Debug("Exposure outside device bounds", "direction", dir, "time", res.Time)
		skip(metrics.OutcomeOutOfRange)
		return false, nil
	}

	code, err := m.ToCode(res.Time)
	if errors.Is(err, shutter.ErrOutOfRange) {
		skip(metrics.OutcomeOutOfRange)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if code == b[banks[0]] {
		skip(metrics.OutcomeUnchanged)
		return false, nil
	}

	next := b
	for _, bank := range banks {
		next[bank] = code
	}
	if hdrOn {
		err := s.ch.Do(ctx, func(h *camera.Handle) error {
			if err := s.proto.WriteBanks(h, next, banks...); err != nil {
				return errors.Join(err, s.proto.Enable(h, false))
			}
			return nil
		})
		if err != nil {
			return false, fmt.Errorf("program %s banks: %w", dir, err)
		}
	}

	abs, err := m.ToAbs(code)
	if err != nil {
		abs = res.Time
	}
	s.mu.Lock()
	s.bracket = next
	s.state.SetTime(dir, abs)
	s.mu.Unlock()

	metrics.SetExposure(s.cameraID, dir.String(), abs)
	metrics.RecordEvaluation(s.cameraID, metrics.OutcomeApplied)
	s.logger.Debug("Exposure updated", "direction", dir, "previous", current, "time", abs, "code", code, "clamped", res.Clamped)

	ev.Time = abs
	ev.Code = code
	ev.Applied = true
	s.publish(ev)
	return true, nil
}

// Acquire captures the next frame or burst for the active direction.
func (s *Session) Acquire(ctx context.Context) error {
	s.run.Lock()
	defer s.run.Unlock()
	s.mu.RLock()
	cycle, dir := s.cycle, s.state.Direction
	s.mu.RUnlock()
	return s.acquire(ctx, cycle, dir)
}

func (s *Session) acquire(ctx context.Context, cycle uint64, dir aec.Direction) error {
	s.mu.RLock()
	b := s.bracket
	hdrOn := s.hdr.valid && s.hdr.on
	autoOn := s.auto.valid && s.auto.on
	under, over := s.state.Under, s.state.Over
	s.mu.RUnlock()

	var (
		frames []camera.Frame
		kind   string
	)
	if hdrOn {
		kind = acquisition.KindHDR
		var err error
		frames, err = s.seq.CaptureHDRFrame(ctx, 2, []uint32{b[bracket.UnderBanks[0]], b[bracket.OverBanks[0]]})
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.last[aec.Under] = &frames[0]
		s.last[aec.Over] = &frames[1]
		s.mu.Unlock()
	} else {
		kind = acquisition.KindOneShot
		if !autoOn {
			code := b[dir.Banks()[0]]
			err := s.ch.Do(ctx, func(h *camera.Handle) error {
				if err := h.SetShutter(code); err != nil {
					return camera.ProtocolError("set shutter", err)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		if err := s.seq.StopForOneShot(ctx); err != nil {
			return err
		}
		frame, ok, err := s.seq.GrabOneShot(ctx, camera.PolicyWait)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		frames = []camera.Frame{frame}
		s.mu.Lock()
		s.last[dir] = &frame
		s.mu.Unlock()
	}

	shutters := make([]uint32, len(frames))
	for i, f := range frames {
		shutters[i], _ = f.Metadata.ShutterCode()
	}
	s.publish(events.CaptureCompletedEvent{
		CameraID:  s.cameraID,
		Cycle:     cycle,
		Kind:      kind,
		Frames:    len(frames),
		Shutters:  shutters,
		Timestamp: timestamp(),
	})

	if s.sink != nil {
		s.sink.Submit(sink.Capture{
			RunID:    s.runID,
			CameraID: s.cameraID,
			Cycle:    cycle,
			Kind:     kind,
			Frames:   frames,
			Bracket:  b,
			Under:    under,
			Over:     over,
			Time:     time.Now(),
		})
	}
	return nil
}

// Run cycles every interval until ctx is done. A failed cycle is logged,
// counted and published; the loop continues with the next tick.
func (s *Session) Run(ctx context.Context, interval time.Duration) error {
	s.logger.Info("Session started", "camera_id", s.cameraID, "run_id", s.runID, "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.Cycle(ctx); err != nil && ctx.Err() == nil {
			s.recordFailure(err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("Session stopped", "camera_id", s.cameraID)
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Session) recordFailure(err error) {
	code := "UNKNOWN"
	var cerr *camera.Error
	if errors.As(err, &cerr) {
		code = cerr.Code
	}

	s.mu.Lock()
	cycle := s.cycle
	s.lastErr = err
	s.lastErrAt = time.Now()
	s.mu.Unlock()

	metrics.RecordCycleError(s.cameraID, code)
	if s.limiter.Allow() {
		s.logger.Error("Cycle failed", "cycle", cycle, "code", code, "error", err)
	} else {
		s.logger.Debug("Cycle failed", "cycle", cycle, "code", code, "error", err)
	}
	s.publish(events.CaptureFailedEvent{
		CameraID:  s.cameraID,
		Cycle:     cycle,
		Code:      code,
		Error:     err.Error(),
		Timestamp: timestamp(),
	})
}

// Rebuild sweeps the device for a fresh shutter map and installs it. Mode
// actions are re-applied on the next cycle since the sweep leaves the
// device in automatic shutter mode.
func (s *Session) Rebuild(ctx context.Context) (*shutter.Map, error) {
	s.run.Lock()
	defer s.run.Unlock()

	var m *shutter.Map
	err := s.ch.Do(ctx, func(h *camera.Handle) error {
		var err error
		m, err = shutter.Build(ctx, h, s.logger)
		return err
	})
	if err != nil {
		return nil, err
	}

	minAbs, maxAbs := m.Bounds()
	if err := s.ctrl.SetBounds(aec.Bounds{Min: minAbs, Max: maxAbs}); err != nil {
		return nil, err
	}
	codeMin, codeMax := m.CodeRange()
	s.seq.SetCodeRange(codeMin, codeMax)

	s.mu.Lock()
	s.m = m
	for i, code := range s.bracket {
		s.bracket[i] = min(max(code, codeMin), codeMax)
	}
	s.hdr, s.aecOn, s.auto = latch{}, latch{}, latch{}
	s.mu.Unlock()
	s.seedState()

	metrics.SetShutterMapEntries(s.cameraID, m.Len())
	s.publish(events.ShutterMapBuiltEvent{
		CameraID:  s.cameraID,
		Entries:   m.Len(),
		MinAbs:    minAbs,
		MaxAbs:    maxAbs,
		Timestamp: timestamp(),
	})
	return m, nil
}

// Snapshot is a copy of the session state.
type Snapshot struct {
	RunID       string            `json:"run_id"`
	CameraID    string            `json:"camera_id"`
	Modes       Modes             `json:"modes"`
	Bracket     [4]uint32         `json:"bracket"`
	Exposure    aec.State         `json:"exposure"`
	Tuning      aec.Tuning        `json:"tuning"`
	Bounds      aec.Bounds        `json:"bounds"`
	Acquisition acquisition.State `json:"acquisition"`
	Cycle       uint64            `json:"cycle"`
	LastError   string            `json:"last_error,omitempty"`
	LastErrorAt *time.Time        `json:"last_error_at,omitempty"`
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	snap := Snapshot{
		RunID:    s.runID,
		CameraID: s.cameraID,
		Modes:    s.requested,
		Bracket:  s.bracket,
		Exposure: s.state,
		Cycle:    s.cycle,
	}
	if s.lastErr != nil {
		at := s.lastErrAt
		snap.LastError = s.lastErr.Error()
		snap.LastErrorAt = &at
	}
	s.mu.RUnlock()

	snap.Tuning = s.ctrl.Tuning()
	snap.Bounds = s.ctrl.Bounds()
	snap.Acquisition = s.seq.State()
	return snap
}

// Close disables the bracket and releases the camera if the session
// opened it.
func (s *Session) Close() error {
	s.run.Lock()
	defer s.run.Unlock()

	err := s.proto.SetEnabled(context.Background(), false)
	if s.closer != nil {
		err = errors.Join(err, s.closer())
	}
	metrics.DeleteCameraMetrics(s.cameraID)
	return err
}

func (s *Session) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
