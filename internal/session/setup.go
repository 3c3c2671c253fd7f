package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/smazurov/hdrnode/internal/acquisition"
	"github.com/smazurov/hdrnode/internal/aec"
	"github.com/smazurov/hdrnode/internal/bracket"
	"github.com/smazurov/hdrnode/internal/camera"
	"github.com/smazurov/hdrnode/internal/shutter"
)

// Config describes how to bring up a session on a device.
type Config struct {
	CameraID string
	// Device names the camera in a saved calibration.
	Device string
	// Calibration is a shutter map file. It is loaded when present and
	// written after a fresh sweep otherwise. Empty always sweeps.
	Calibration string
	Metadata    camera.MetadataFlags
	Bracket     bracket.Bracket
	Modes       Modes
	Tuning      aec.Tuning
}

// Open takes ownership of cam and assembles a session around it. Closing
// the session closes the camera.
func Open(ctx context.Context, cam camera.Camera, cfg Config, bus Publisher, sink Submitter, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ch := camera.NewChannel(cam)

	s, err := open(ctx, ch, cfg, bus, sink, logger)
	if err != nil {
		return nil, errors.Join(err, ch.Close())
	}
	s.closer = ch.Close
	return s, nil
}

func open(ctx context.Context, ch *camera.Channel, cfg Config, bus Publisher, sink Submitter, logger *slog.Logger) (*Session, error) {
	if err := validateBracket(cfg.Bracket); err != nil {
		return nil, err
	}
	m, err := loadOrBuild(ctx, ch, cfg, logger)
	if err != nil {
		return nil, err
	}

	proto := bracket.NewProtocol(ch, logger)
	if cfg.Metadata != 0 {
		if err := proto.SetMetadataFlags(ctx, cfg.Metadata); err != nil {
			return nil, fmt.Errorf("enable frame metadata: %w", err)
		}
	}

	codeMin, codeMax := m.CodeRange()
	seq := acquisition.New(ch, proto, acquisition.Options{
		CameraID: cfg.CameraID,
		CodeMin:  codeMin,
		CodeMax:  codeMax,
		Metadata: cfg.Metadata,
		Logger:   logger,
	})

	minAbs, maxAbs := m.Bounds()
	ctrl, err := aec.NewController(aec.Bounds{Min: minAbs, Max: maxAbs}, cfg.Tuning)
	if err != nil {
		return nil, err
	}

	return New(Options{
		CameraID:   cfg.CameraID,
		Channel:    ch,
		Map:        m,
		Protocol:   proto,
		Sequencer:  seq,
		Controller: ctrl,
		Bus:        bus,
		Sink:       sink,
		Bracket:    cfg.Bracket,
		Modes:      cfg.Modes,
		Logger:     logger,
	})
}

func loadOrBuild(ctx context.Context, ch *camera.Channel, cfg Config, logger *slog.Logger) (*shutter.Map, error) {
	if cfg.Calibration != "" {
		m, cal, err := shutter.LoadFile(cfg.Calibration)
		switch {
		case err == nil:
			logger.Info("Shutter map loaded", "path", cfg.Calibration, "entries", m.Len(), "measured", cal.Measured)
			return m, nil
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("load calibration: %w", err)
		}
	}

	var m *shutter.Map
	err := ch.Do(ctx, func(h *camera.Handle) error {
		var err error
		m, err = shutter.Build(ctx, h, logger)
		return err
	})
	if err != nil {
		return nil, err
	}

	if cfg.Calibration != "" {
		if err := shutter.SaveFile(cfg.Calibration, m, cfg.Device); err != nil {
			logger.Warn("Failed to save calibration", "path", cfg.Calibration, "error", err)
		}
	}
	return m, nil
}
