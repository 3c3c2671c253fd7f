package events

// Event type constants for kelindar/event.
const (
	TypeCaptureCompleted uint32 = iota + 1
	TypeCaptureFailed
	TypeExposureUpdated
	TypeModesChanged
	TypeShutterMapBuilt
	TypeExposureMetrics
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// CaptureCompletedEvent is published after every acquisition that returned frames.
type CaptureCompletedEvent struct {
	CameraID  string   `json:"camera_id" example:"cam0" doc:"Camera identifier"`
	Cycle     uint64   `json:"cycle" example:"42" doc:"Session cycle number"`
	Kind      string   `json:"kind" example:"hdr" enum:"hdr,oneshot" doc:"Acquisition kind"`
	Frames    int      `json:"frames" example:"2" doc:"Number of frames captured"`
	Shutters  []uint32 `json:"shutters" doc:"Embedded shutter code per frame, 0 when not embedded"`
	Timestamp string   `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Capture timestamp"`
}

// Type returns the event type identifier for CaptureCompletedEvent.
func (e CaptureCompletedEvent) Type() uint32 { return TypeCaptureCompleted }

// CaptureFailedEvent is published when a cycle is aborted by a device error.
type CaptureFailedEvent struct {
	CameraID  string `json:"camera_id" example:"cam0" doc:"Camera identifier"`
	Cycle     uint64 `json:"cycle" example:"42" doc:"Session cycle number"`
	Code      string `json:"code" example:"DEVICE_PROTOCOL" doc:"Error code"`
	Error     string `json:"error" doc:"Detailed error description"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Error timestamp"`
}

// Type returns the event type identifier for CaptureFailedEvent.
func (e CaptureFailedEvent) Type() uint32 { return TypeCaptureFailed }

// ExposureUpdatedEvent reports one auto-exposure evaluation.
type ExposureUpdatedEvent struct {
	CameraID   string  `json:"camera_id" example:"cam0" doc:"Camera identifier"`
	Cycle      uint64  `json:"cycle" example:"42" doc:"Session cycle number"`
	Direction  string  `json:"direction" example:"under" enum:"under,over" doc:"Exposure direction evaluated"`
	Previous   float64 `json:"previous" example:"0.002" doc:"Exposure time before evaluation in seconds"`
	Time       float64 `json:"time" example:"0.0025" doc:"Exposure time after evaluation in seconds"`
	Code       uint32  `json:"code" example:"180" doc:"Shutter code programmed for the direction"`
	Proportion float64 `json:"proportion" example:"0.12" doc:"Fraction of unsaturated pixels in the evaluated half range"`
	Saturated  int     `json:"saturated" example:"310" doc:"Number of saturated pixels"`
	Applied    bool    `json:"applied" doc:"Whether the bracket was reprogrammed"`
	Reason     string  `json:"reason,omitempty" example:"converged" doc:"Why the bracket was left unchanged"`
	Timestamp  string  `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Evaluation timestamp"`
}

// Type returns the event type identifier for ExposureUpdatedEvent.
func (e ExposureUpdatedEvent) Type() uint32 { return TypeExposureUpdated }

// ModesChangedEvent is published when the session applies a mode transition.
type ModesChangedEvent struct {
	CameraID    string `json:"camera_id" example:"cam0" doc:"Camera identifier"`
	HDR         bool   `json:"hdr" doc:"Bracket capture enabled"`
	AEC         bool   `json:"aec" doc:"Auto-exposure control enabled"`
	AutoShutter bool   `json:"auto_shutter" doc:"Device-controlled shutter enabled"`
	Timestamp   string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ModesChangedEvent.
func (e ModesChangedEvent) Type() uint32 { return TypeModesChanged }

// ShutterMapBuiltEvent is published after a successful shutter sweep.
type ShutterMapBuiltEvent struct {
	CameraID  string  `json:"camera_id" example:"cam0" doc:"Camera identifier"`
	Entries   int     `json:"entries" example:"512" doc:"Number of measured codes"`
	MinAbs    float64 `json:"min_abs" example:"0.00002" doc:"Shortest exposure in seconds"`
	MaxAbs    float64 `json:"max_abs" example:"0.5" doc:"Longest exposure in seconds"`
	Timestamp string  `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ShutterMapBuiltEvent.
func (e ShutterMapBuiltEvent) Type() uint32 { return TypeShutterMapBuilt }

// ExposureMetricsEvent carries periodic exposure metrics for SSE clients.
type ExposureMetricsEvent struct {
	EventType string `json:"type"`
	CameraID  string `json:"camera_id"`
	Under     string `json:"under"`
	Over      string `json:"over"`
	Cycles    string `json:"cycles"`
	Failures  string `json:"failures"`
}

// Type returns the event type identifier for ExposureMetricsEvent.
func (e ExposureMetricsEvent) Type() uint32 { return TypeExposureMetrics }
