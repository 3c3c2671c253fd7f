package models

import (
	"time"

	"github.com/smazurov/hdrnode/internal/shutter"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2026-01-27T10:30:00Z" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"42" doc:"Build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go toolchain version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Target platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Session models
type ModesData struct {
	HDR         bool `json:"hdr" doc:"Capture bracketed bursts instead of single frames"`
	AEC         bool `json:"aec" doc:"Retune the bracket from captured frames"`
	AutoShutter bool `json:"auto_shutter" doc:"Let the device control the shutter"`
}

type ExposureData struct {
	Under     float64 `json:"under" example:"0.0002" doc:"Under-exposure time in seconds"`
	Over      float64 `json:"over" example:"0.004" doc:"Over-exposure time in seconds"`
	Direction string  `json:"direction" example:"under" enum:"under,over" doc:"Direction evaluated last"`
}

type TuningData struct {
	Target        float64 `json:"target" example:"0.0005" doc:"Desired fraction of pixels in the evaluated half range"`
	Threshold     float64 `json:"threshold" example:"0.00001" doc:"Smallest change in seconds treated as a new exposure"`
	ClampToBounds bool    `json:"clamp_to_bounds" doc:"Clamp out-of-bounds results instead of rejecting them"`
}

type SessionData struct {
	RunID       string       `json:"run_id" example:"3f1c9a3e-7c55-4d1b-9f7e-0f2b1b6c2d11" doc:"Session instance identifier"`
	CameraID    string       `json:"camera_id" example:"cam0" doc:"Camera identifier"`
	Modes       ModesData    `json:"modes" doc:"Requested modes"`
	Bracket     []uint32     `json:"bracket" minItems:"4" maxItems:"4" doc:"Shutter code per bank"`
	Exposure    ExposureData `json:"exposure" doc:"Current exposure times"`
	Tuning      TuningData   `json:"tuning" doc:"Auto-exposure parameters"`
	MinExposure float64      `json:"min_exposure" example:"0.00002" doc:"Shortest exposure accepted in seconds"`
	MaxExposure float64      `json:"max_exposure" example:"0.5" doc:"Longest exposure accepted in seconds"`
	Acquisition string       `json:"acquisition" example:"armed" doc:"Acquisition state"`
	Cycle       uint64       `json:"cycle" example:"42" doc:"Completed cycles"`
	LastError   string       `json:"last_error,omitempty" doc:"Most recent cycle failure"`
	LastErrorAt *time.Time   `json:"last_error_at,omitempty" doc:"When the most recent failure happened"`
}

type SessionResponse struct {
	Body SessionData
}

type ModesRequest struct {
	Body ModesData
}

type ModesResponse struct {
	Body ModesData
}

// Shutter map models
type ShutterMapData struct {
	Entries int     `json:"entries" example:"512" doc:"Number of measured codes"`
	MinCode uint32  `json:"min_code" example:"0" doc:"Smallest shutter code"`
	MaxCode uint32  `json:"max_code" example:"511" doc:"Largest shutter code"`
	MinAbs  float64 `json:"min_abs" example:"0.00002" doc:"Shortest exposure in seconds"`
	MaxAbs  float64 `json:"max_abs" example:"0.5" doc:"Longest exposure in seconds"`
	// Table is omitted unless requested with ?entries=true.
	Table []shutter.Entry `json:"table,omitempty" doc:"Measured (code, seconds) pairs ordered by code"`
}

type ShutterMapRequest struct {
	Entries bool `query:"entries" doc:"Include the full table"`
}

type ShutterMapResponse struct {
	Body ShutterMapData
}

type ShutterLookupRequest struct {
	Abs  float64 `query:"abs" minimum:"0" doc:"Exposure time in seconds to convert to a code"`
	Code int64   `query:"code" default:"-1" minimum:"-1" maximum:"4294967295" doc:"Shutter code to convert to seconds"`
}

type ShutterLookupData struct {
	Code uint32  `json:"code" example:"180" doc:"Shutter code"`
	Abs  float64 `json:"abs" example:"0.0025" doc:"Exposure time in seconds"`
}

type ShutterLookupResponse struct {
	Body ShutterLookupData
}

type ShutterRebuildResponse struct {
	Body ShutterMapData
}
