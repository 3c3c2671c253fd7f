// Package metrics provides Prometheus metrics for HDR acquisition and auto-exposure.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	capturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hdrnode",
		Subsystem: "acquisition",
		Name:      "captures_total",
		Help:      "Completed acquisitions",
	}, []string{"camera_id", "kind"})

	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hdrnode",
		Subsystem: "acquisition",
		Name:      "frames_total",
		Help:      "Frames copied out of the device ring",
	}, []string{"camera_id"})

	flushedBuffers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hdrnode",
		Subsystem: "acquisition",
		Name:      "flushed_buffers_total",
		Help:      "Stale buffers discarded before a capture",
	}, []string{"camera_id"})

	acquisitionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hdrnode",
		Subsystem: "acquisition",
		Name:      "failures_total",
		Help:      "Acquisitions aborted by an error",
	}, []string{"camera_id", "kind"})

	exposureSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hdrnode",
		Subsystem: "aec",
		Name:      "exposure_seconds",
		Help:      "Current exposure time per direction",
	}, []string{"camera_id", "direction"})

	evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hdrnode",
		Subsystem: "aec",
		Name:      "evaluations_total",
		Help:      "Auto-exposure evaluations by outcome",
	}, []string{"camera_id", "outcome"})

	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hdrnode",
		Subsystem: "session",
		Name:      "cycles_total",
		Help:      "Session cycles run",
	}, []string{"camera_id"})

	cycleErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hdrnode",
		Subsystem: "session",
		Name:      "errors_total",
		Help:      "Session cycles aborted by an error",
	}, []string{"camera_id", "code"})

	shutterMapEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hdrnode",
		Subsystem: "shutter",
		Name:      "map_entries",
		Help:      "Entries in the active shutter map",
	}, []string{"camera_id"})

	sinkWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hdrnode",
		Subsystem: "sink",
		Name:      "written_total",
		Help:      "Frame sets handled by a sink",
	}, []string{"sink"})

	sinkDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hdrnode",
		Subsystem: "sink",
		Name:      "dropped_total",
		Help:      "Frame sets dropped because the queue was full",
	}, []string{"sink"})

	sinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hdrnode",
		Subsystem: "sink",
		Name:      "errors_total",
		Help:      "Frame sets a sink failed to handle",
	}, []string{"sink"})

	// Local cache for SSE exporter access.
	exposureCache   = make(map[string]*ExposureMetrics)
	exposureCacheMu sync.RWMutex
)

// ExposureMetrics holds current exposure values for a camera.
type ExposureMetrics struct {
	Under    float64
	Over     float64
	Cycles   uint64
	Failures uint64
}

// Evaluation outcomes.
const (
	OutcomeApplied    = "applied"
	OutcomeConverged  = "converged"
	OutcomeUnchanged  = "unchanged"
	OutcomeOutOfRange = "out_of_bounds"
	OutcomeDegenerate = "degenerate"
)

// RecordCapture counts a completed acquisition of n frames.
func RecordCapture(cameraID, kind string, frames int) {
	capturesTotal.WithLabelValues(cameraID, kind).Inc()
	framesTotal.WithLabelValues(cameraID).Add(float64(frames))
}

// RecordCaptureFailure counts an aborted acquisition.
func RecordCaptureFailure(cameraID, kind string) {
	acquisitionFailures.WithLabelValues(cameraID, kind).Inc()
}

// RecordFlushed counts buffers discarded by a flush.
func RecordFlushed(cameraID string, n int) {
	if n > 0 {
		flushedBuffers.WithLabelValues(cameraID).Add(float64(n))
	}
}

// SetExposure sets the current exposure time of a direction.
func SetExposure(cameraID, direction string, seconds float64) {
	exposureSeconds.WithLabelValues(cameraID, direction).Set(seconds)
	updateCache(cameraID, func(m *ExposureMetrics) {
		if direction == "under" {
			m.Under = seconds
		} else {
			m.Over = seconds
		}
	})
}

// RecordEvaluation counts one auto-exposure evaluation.
func RecordEvaluation(cameraID, outcome string) {
	evaluations.WithLabelValues(cameraID, outcome).Inc()
}

// RecordCycle counts one session cycle.
func RecordCycle(cameraID string) {
	cyclesTotal.WithLabelValues(cameraID).Inc()
	updateCache(cameraID, func(m *ExposureMetrics) { m.Cycles++ })
}

// RecordCycleError counts a cycle aborted with the given error code.
func RecordCycleError(cameraID, code string) {
	cycleErrors.WithLabelValues(cameraID, code).Inc()
	updateCache(cameraID, func(m *ExposureMetrics) { m.Failures++ })
}

// SetShutterMapEntries sets the size of the active shutter map.
func SetShutterMapEntries(cameraID string, n int) {
	shutterMapEntries.WithLabelValues(cameraID).Set(float64(n))
}

// RecordSinkWritten counts a frame set handled by a sink.
func RecordSinkWritten(sink string) {
	sinkWritten.WithLabelValues(sink).Inc()
}

// RecordSinkDropped counts a frame set dropped before reaching a sink.
func RecordSinkDropped(sink string) {
	sinkDropped.WithLabelValues(sink).Inc()
}

// RecordSinkError counts a frame set a sink failed to handle.
func RecordSinkError(sink string) {
	sinkErrors.WithLabelValues(sink).Inc()
}

// DeleteCameraMetrics removes all per-camera series.
func DeleteCameraMetrics(cameraID string) {
	labels := prometheus.Labels{"camera_id": cameraID}
	capturesTotal.DeletePartialMatch(labels)
	framesTotal.DeletePartialMatch(labels)
	flushedBuffers.DeletePartialMatch(labels)
	acquisitionFailures.DeletePartialMatch(labels)
	exposureSeconds.DeletePartialMatch(labels)
	evaluations.DeletePartialMatch(labels)
	cyclesTotal.DeletePartialMatch(labels)
	cycleErrors.DeletePartialMatch(labels)
	shutterMapEntries.DeletePartialMatch(labels)

	exposureCacheMu.Lock()
	delete(exposureCache, cameraID)
	exposureCacheMu.Unlock()
}

// GetExposureMetrics returns current values for a camera.
func GetExposureMetrics(cameraID string) *ExposureMetrics {
	exposureCacheMu.RLock()
	defer exposureCacheMu.RUnlock()
	if m, ok := exposureCache[cameraID]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllExposureMetrics returns values for all active cameras.
func GetAllExposureMetrics() map[string]*ExposureMetrics {
	exposureCacheMu.RLock()
	defer exposureCacheMu.RUnlock()
	result := make(map[string]*ExposureMetrics, len(exposureCache))
	for id, m := range exposureCache {
		dup := *m
		result[id] = &dup
	}
	return result
}

func updateCache(cameraID string, update func(*ExposureMetrics)) {
	exposureCacheMu.Lock()
	defer exposureCacheMu.Unlock()
	m, ok := exposureCache[cameraID]
	if !ok {
		m = &ExposureMetrics{}
		exposureCache[cameraID] = m
	}
	update(m)
}
