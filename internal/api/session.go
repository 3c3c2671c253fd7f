package api

import (
	"context"
	"errors"
	"math"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/hdrnode/internal/api/models"
	"github.com/smazurov/hdrnode/internal/camera"
	"github.com/smazurov/hdrnode/internal/session"
	"github.com/smazurov/hdrnode/internal/shutter"
)

func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/session",
		Summary:     "Get Session",
		Description: "Current modes, bracket, exposure state and last failure of the camera session",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.SessionResponse, error) {
		return &models.SessionResponse{Body: toSessionData(s.session.Snapshot())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-session-modes",
		Method:      http.MethodPut,
		Path:        "/api/session/modes",
		Summary:     "Set Modes",
		Description: "Request HDR, auto-exposure and automatic shutter modes. Changes apply at the start of the next cycle.",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401, 422},
	}, func(_ context.Context, input *models.ModesRequest) (*models.ModesResponse, error) {
		m := session.Modes{
			HDR:         input.Body.HDR,
			AEC:         input.Body.AEC,
			AutoShutter: input.Body.AutoShutter,
		}
		s.session.RequestModes(m)
		return &models.ModesResponse{Body: toModesData(m)}, nil
	})
}

func (s *Server) registerShutterRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-shutter-map",
		Method:      http.MethodGet,
		Path:        "/api/shutter",
		Summary:     "Get Shutter Map",
		Description: "Summary of the measured code to exposure time table, optionally with every entry",
		Tags:        []string{"shutter"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, input *models.ShutterMapRequest) (*models.ShutterMapResponse, error) {
		return &models.ShutterMapResponse{Body: toShutterMapData(s.session.Map(), input.Entries)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "lookup-shutter",
		Method:      http.MethodGet,
		Path:        "/api/shutter/lookup",
		Summary:     "Convert Shutter Value",
		Description: "Convert a code to seconds when code is given, otherwise seconds to the smallest code reaching them",
		Tags:        []string{"shutter"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 422},
	}, func(_ context.Context, input *models.ShutterLookupRequest) (*models.ShutterLookupResponse, error) {
		m := s.session.Map()

		if input.Code > math.MaxUint32 {
			return nil, huma.Error422UnprocessableEntity("code exceeds 32 bits")
		}
		if input.Code >= 0 {
			code := uint32(input.Code)
			abs, err := m.ToAbs(code)
			if err != nil {
				return nil, lookupError(err)
			}
			return &models.ShutterLookupResponse{Body: models.ShutterLookupData{Code: code, Abs: abs}}, nil
		}

		code, err := m.ToCode(input.Abs)
		if err != nil {
			return nil, lookupError(err)
		}
		abs, err := m.ToAbs(code)
		if err != nil {
			return nil, lookupError(err)
		}
		return &models.ShutterLookupResponse{Body: models.ShutterLookupData{Code: code, Abs: abs}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "rebuild-shutter-map",
		Method:      http.MethodPost,
		Path:        "/api/shutter/rebuild",
		Summary:     "Rebuild Shutter Map",
		Description: "Sweep every shutter code on the device and install the fresh table. Required after a video mode change.",
		Tags:        []string{"shutter"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 502, 503},
	}, func(ctx context.Context, _ *struct{}) (*models.ShutterRebuildResponse, error) {
		m, err := s.session.Rebuild(ctx)
		if err != nil {
			s.logger.Error("Shutter map rebuild failed", "camera_id", s.session.CameraID(), "error", err)
			return nil, deviceError(err)
		}
		return &models.ShutterRebuildResponse{Body: toShutterMapData(m, false)}, nil
	})
}

func lookupError(err error) error {
	if errors.Is(err, shutter.ErrOutOfRange) {
		return huma.Error404NotFound("Value outside the shutter map", err)
	}
	return huma.Error422UnprocessableEntity("Invalid shutter lookup", err)
}

// deviceError maps camera failures onto HTTP statuses.
func deviceError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.Error503ServiceUnavailable("Device busy", err)
	case errors.Is(err, camera.ErrConfiguration):
		return huma.Error409Conflict("Device configuration rejected", err)
	case errors.Is(err, camera.ErrProtocol):
		return huma.Error502BadGateway("Device protocol failure", err)
	}
	return huma.Error500InternalServerError("Device operation failed", err)
}

func toModesData(m session.Modes) models.ModesData {
	return models.ModesData{HDR: m.HDR, AEC: m.AEC, AutoShutter: m.AutoShutter}
}

func toSessionData(snap session.Snapshot) models.SessionData {
	return models.SessionData{
		RunID:    snap.RunID,
		CameraID: snap.CameraID,
		Modes:    toModesData(snap.Modes),
		Bracket:  snap.Bracket[:],
		Exposure: models.ExposureData{
			Under:     snap.Exposure.Under,
			Over:      snap.Exposure.Over,
			Direction: snap.Exposure.Direction.String(),
		},
		Tuning: models.TuningData{
			Target:        snap.Tuning.Target,
			Threshold:     snap.Tuning.Threshold,
			ClampToBounds: snap.Tuning.ClampToBounds,
		},
		MinExposure: snap.Bounds.Min,
		MaxExposure: snap.Bounds.Max,
		Acquisition: string(snap.Acquisition),
		Cycle:       snap.Cycle,
		LastError:   snap.LastError,
		LastErrorAt: snap.LastErrorAt,
	}
}

func toShutterMapData(m *shutter.Map, withEntries bool) models.ShutterMapData {
	minCode, maxCode := m.CodeRange()
	minAbs, maxAbs := m.Bounds()
	data := models.ShutterMapData{
		Entries: m.Len(),
		MinCode: minCode,
		MaxCode: maxCode,
		MinAbs:  minAbs,
		MaxAbs:  maxAbs,
	}
	if withEntries {
		data.Table = m.Entries()
	}
	return data
}
