package nats

import (
	"encoding/json"
	"fmt"
)

// Subject prefixes for NATS topics.
const (
	SubjectCamerasPrefix = "hdrnode.cameras"
	SubjectControlPrefix = "hdrnode.control"
)

// SubjectCaptures returns the subject for completed captures of a camera.
func SubjectCaptures(cameraID string) string {
	return fmt.Sprintf("%s.%s.captures", SubjectCamerasPrefix, cameraID)
}

// SubjectExposure returns the subject for exposure updates of a camera.
func SubjectExposure(cameraID string) string {
	return fmt.Sprintf("%s.%s.exposure", SubjectCamerasPrefix, cameraID)
}

// SubjectFailures returns the subject for failed cycles of a camera.
func SubjectFailures(cameraID string) string {
	return fmt.Sprintf("%s.%s.failures", SubjectCamerasPrefix, cameraID)
}

// SubjectControlModes returns the subject for mode change requests.
func SubjectControlModes(cameraID string) string {
	return fmt.Sprintf("%s.%s.modes", SubjectControlPrefix, cameraID)
}

// CaptureMessage announces a completed acquisition. It never carries pixels.
type CaptureMessage struct {
	CameraID  string   `json:"camera_id"`
	Timestamp string   `json:"timestamp"`
	Cycle     uint64   `json:"cycle"`
	Kind      string   `json:"kind"`
	Frames    int      `json:"frames"`
	Shutters  []uint32 `json:"shutters"`
}

// Marshal serializes the message to JSON.
func (m CaptureMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// ExposureMessage reports one auto-exposure evaluation.
type ExposureMessage struct {
	CameraID   string  `json:"camera_id"`
	Timestamp  string  `json:"timestamp"`
	Cycle      uint64  `json:"cycle"`
	Direction  string  `json:"direction"` // under, over
	Previous   float64 `json:"previous"`
	Time       float64 `json:"time"`
	Code       uint32  `json:"code"`
	Proportion float64 `json:"proportion"`
	Applied    bool    `json:"applied"`
	Reason     string  `json:"reason,omitempty"`
}

// Marshal serializes the message to JSON.
func (m ExposureMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// FailureMessage reports an aborted cycle.
type FailureMessage struct {
	CameraID  string `json:"camera_id"`
	Timestamp string `json:"timestamp"`
	Cycle     uint64 `json:"cycle"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}

// Marshal serializes the message to JSON.
func (m FailureMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// ModesMessage requests a mode change on a camera node.
type ModesMessage struct {
	CameraID    string `json:"camera_id"`
	Timestamp   string `json:"timestamp"`
	HDR         bool   `json:"hdr"`
	AEC         bool   `json:"aec"`
	AutoShutter bool   `json:"auto_shutter"`
	Reason      string `json:"reason,omitempty"`
}

// Marshal serializes the message to JSON.
func (m ModesMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalCapture deserializes a CaptureMessage from JSON.
func UnmarshalCapture(data []byte) (CaptureMessage, error) {
	var m CaptureMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// UnmarshalExposure deserializes an ExposureMessage from JSON.
func UnmarshalExposure(data []byte) (ExposureMessage, error) {
	var m ExposureMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// UnmarshalFailure deserializes a FailureMessage from JSON.
func UnmarshalFailure(data []byte) (FailureMessage, error) {
	var m FailureMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// UnmarshalModes deserializes a ModesMessage from JSON.
func UnmarshalModes(data []byte) (ModesMessage, error) {
	var m ModesMessage
	err := json.Unmarshal(data, &m)
	return m, err
}
