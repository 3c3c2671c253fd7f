//go:build !linux

package v4l2cam

import (
	"context"
	"log/slog"

	"github.com/smazurov/hdrnode/internal/camera"
)

// Open returns ErrUnsupported on platforms without V4L2.
func Open(_ Config, _ *slog.Logger) (camera.Camera, error) {
	return nil, ErrUnsupported
}

// WatchPresence returns ErrUnsupported on platforms without V4L2.
func WatchPresence(_ context.Context, _ string, _ *slog.Logger) error {
	return ErrUnsupported
}
