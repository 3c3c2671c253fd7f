package shutter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/smazurov/hdrnode/internal/camera"
)

// Build sweeps every shutter code on the device and records the realized
// time for each. It drives live hardware: run it once, before any capture,
// while holding the channel. The shutter is handed back to automatic control
// whether or not the sweep succeeds, and a partial sweep never yields a map.
func Build(ctx context.Context, h camera.Camera, logger *slog.Logger) (m *Map, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	minCode, maxCode, err := h.ShutterCodeRange()
	if err != nil {
		return nil, camera.ProtocolError("shutter code range", err)
	}
	if maxCode < minCode {
		return nil, camera.ConfigurationError("shutter code range", "max %d below min %d", maxCode, minCode)
	}

	defer func() {
		if restoreErr := h.SetShutterMode(camera.ShutterAuto); restoreErr != nil {
			m = nil
			err = errors.Join(err, camera.ProtocolError("restore auto shutter", restoreErr))
		}
	}()

	if err := h.SetShutterMode(camera.ShutterManual); err != nil {
		return nil, camera.ProtocolError("manual shutter", err)
	}

	logger.Info("Sweeping shutter codes", "min", minCode, "max", maxCode)

	entries := make([]Entry, 0, int(maxCode-minCode)+1)
	for code := minCode; ; code++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("shutter sweep interrupted at code %d: %w", code, err)
		}
		if err := h.SetShutter(code); err != nil {
			return nil, camera.ProtocolError(fmt.Sprintf("set shutter %d", code), err)
		}
		abs, err := h.AbsoluteShutter()
		if err != nil {
			return nil, camera.ProtocolError(fmt.Sprintf("read absolute shutter at %d", code), err)
		}
		entries = append(entries, Entry{Code: code, Abs: abs})
		logger.Debug("Shutter code measured", "code", code, "abs", abs)

		if code == maxCode {
			break
		}
	}

	m, err = NewMap(entries)
	if err != nil {
		return nil, err
	}
	lo, hi := m.Bounds()
	logger.Info("Shutter map built", "entries", m.Len(), "min_abs", lo, "max_abs", hi)
	return m, nil
}
