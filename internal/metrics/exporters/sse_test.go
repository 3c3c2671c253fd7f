package exporters

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/hdrnode/internal/events"
	"github.com/smazurov/hdrnode/internal/metrics"
)

type mockEventBus struct {
	mu        sync.Mutex
	events    []events.Event
	published chan struct{}
}

func newMockEventBus() *mockEventBus {
	return &mockEventBus{
		events:    make([]events.Event, 0),
		published: make(chan struct{}, 100),
	}
}

func (m *mockEventBus) Publish(ev events.Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	select {
	case m.published <- struct{}{}:
	default:
	}
}

func (m *mockEventBus) getEvents() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]events.Event, len(m.events))
	copy(result, m.events)
	return result
}

func TestSSEExporterPublishesMetrics(t *testing.T) {
	cameraID := "sse-test-cam"
	metrics.DeleteCameraMetrics(cameraID)
	defer metrics.DeleteCameraMetrics(cameraID)

	metrics.SetExposure(cameraID, "under", 0.002)
	metrics.SetExposure(cameraID, "over", 0.008)
	metrics.RecordCycle(cameraID)

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.interval = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	exporter.Start(ctx)

	select {
	case <-mock.published:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for metrics publish")
	}

	cancel()
	exporter.Stop()

	var found bool
	for _, ev := range mock.getEvents() {
		em, ok := ev.(events.ExposureMetricsEvent)
		if !ok || em.CameraID != cameraID {
			continue
		}
		found = true
		if em.Under != "0.002" {
			t.Errorf("Under = %q, want \"0.002\"", em.Under)
		}
		if em.Over != "0.008" {
			t.Errorf("Over = %q, want \"0.008\"", em.Over)
		}
		if em.Cycles != "1" {
			t.Errorf("Cycles = %q, want \"1\"", em.Cycles)
		}
		break
	}
	if !found {
		t.Error("expected ExposureMetricsEvent for test camera")
	}
}

func TestSSEExporterStopIdempotent(t *testing.T) {
	cameraID := "sse-idempotent-cam"
	metrics.SetExposure(cameraID, "under", 0.001)
	defer metrics.DeleteCameraMetrics(cameraID)

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.interval = 10 * time.Millisecond

	exporter.Start(context.Background())
	time.Sleep(30 * time.Millisecond)

	exporter.Stop()
	exporter.Stop()

	countAfterStop := len(mock.getEvents())
	time.Sleep(30 * time.Millisecond)
	if got := len(mock.getEvents()); got != countAfterStop {
		t.Errorf("events published after stop: got %d, want %d", got, countAfterStop)
	}
}

func TestSSEExporterStopBeforeStart(t *testing.T) {
	cameraID := "sse-stop-before-start-cam"
	metrics.SetExposure(cameraID, "over", 0.01)
	defer metrics.DeleteCameraMetrics(cameraID)

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.interval = 10 * time.Millisecond

	// Stop before start should not panic
	exporter.Stop()

	exporter.Start(t.Context())
	time.Sleep(30 * time.Millisecond)
	exporter.Stop()

	if len(mock.getEvents()) == 0 {
		t.Error("expected events after Start(), got none")
	}
}

func TestSSEExporterSkipsUnchangedCameras(t *testing.T) {
	cameraID := "sse-unchanged-cam"
	metrics.DeleteCameraMetrics(cameraID)
	defer metrics.DeleteCameraMetrics(cameraID)
	metrics.SetExposure(cameraID, "under", 0.004)

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)

	count := func() int {
		n := 0
		for _, ev := range mock.getEvents() {
			if em, ok := ev.(events.ExposureMetricsEvent); ok && em.CameraID == cameraID {
				n++
			}
		}
		return n
	}

	exporter.sample()
	exporter.sample()
	if got := count(); got != 1 {
		t.Fatalf("published %d times for unchanged metrics, want 1", got)
	}

	metrics.RecordCycle(cameraID)
	exporter.sample()
	if got := count(); got != 2 {
		t.Errorf("published %d times after a cycle, want 2", got)
	}
}
