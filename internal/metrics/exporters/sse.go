package exporters

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/smazurov/hdrnode/internal/events"
	"github.com/smazurov/hdrnode/internal/metrics"
)

// EventPublisher is where the exporter sends ExposureMetricsEvents.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter samples the per-camera exposure metrics once per interval and
// publishes an ExposureMetricsEvent for every camera whose values moved
// since the previous sample.
type SSEExporter struct {
	eventBus EventPublisher
	interval time.Duration

	last   map[string]metrics.ExposureMetrics
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSSEExporter creates an exporter publishing to eventBus.
func NewSSEExporter(eventBus EventPublisher) *SSEExporter {
	return &SSEExporter{
		eventBus: eventBus,
		interval: time.Second,
		last:     make(map[string]metrics.ExposureMetrics),
	}
}

// Start samples until ctx is done or Stop is called.
func (s *SSEExporter) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sample()
			}
		}
	}()
}

// Stop ends sampling and waits for the loop. It is safe to call twice or
// before Start.
func (s *SSEExporter) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) sample() {
	current := metrics.GetAllExposureMetrics()
	for cameraID := range s.last {
		if _, ok := current[cameraID]; !ok {
			delete(s.last, cameraID)
		}
	}

	for cameraID, m := range current {
		if prev, ok := s.last[cameraID]; ok && prev == *m {
			continue
		}
		s.last[cameraID] = *m
		s.eventBus.Publish(events.ExposureMetricsEvent{
			EventType: "exposure_metrics",
			CameraID:  cameraID,
			Under:     strconv.FormatFloat(m.Under, 'g', 6, 64),
			Over:      strconv.FormatFloat(m.Over, 'g', 6, 64),
			Cycles:    strconv.FormatUint(m.Cycles, 10),
			Failures:  strconv.FormatUint(m.Failures, 10),
		})
	}
}
