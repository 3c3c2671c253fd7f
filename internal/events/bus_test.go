package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan CaptureCompletedEvent, 1)

	unsub := bus.Subscribe(func(e CaptureCompletedEvent) {
		received <- e
	})
	defer unsub()

	event := CaptureCompletedEvent{
		CameraID:  "cam0",
		Cycle:     7,
		Kind:      "hdr",
		Frames:    2,
		Shutters:  []uint32{100, 300},
		Timestamp: "2026-01-27T10:30:00Z",
	}
	bus.Publish(event)

	got := <-received
	if got.CameraID != event.CameraID || got.Cycle != event.Cycle {
		t.Errorf("got %+v, want %+v", got, event)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan ExposureUpdatedEvent, 1)
	received2 := make(chan ExposureUpdatedEvent, 1)

	unsub1 := bus.Subscribe(func(e ExposureUpdatedEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e ExposureUpdatedEvent) {
		received2 <- e
	})
	defer unsub2()

	bus.Publish(ExposureUpdatedEvent{CameraID: "cam0", Direction: "under"})

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan CaptureFailedEvent, 1)

	unsub := bus.Subscribe(func(e CaptureFailedEvent) {
		received <- e
	})

	bus.Publish(CaptureFailedEvent{CameraID: "cam0"})
	<-received

	unsub()

	bus.Publish(CaptureFailedEvent{CameraID: "cam1"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	captureReceived := make(chan bool, 1)
	modesReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ CaptureCompletedEvent) {
		captureReceived <- true
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(_ ModesChangedEvent) {
		modesReceived <- true
	})
	defer unsub2()

	bus.Publish(CaptureCompletedEvent{CameraID: "cam0"})
	<-captureReceived

	select {
	case <-modesReceived:
		t.Fatal("Modes subscriber should NOT have received CaptureCompletedEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}

	bus.Publish(ModesChangedEvent{CameraID: "cam0", HDR: true})
	<-modesReceived

	select {
	case <-captureReceived:
		t.Fatal("Capture subscriber should NOT have received ModesChangedEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ ExposureUpdatedEvent) {
		receivedCh <- true
	})
	defer unsub()

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range eventsPerGoroutine {
				bus.Publish(ExposureUpdatedEvent{
					Direction: "over",
					Timestamp: time.Now().Format(time.RFC3339),
				})
			}
		}()
	}

	wg.Wait()

	for range expected {
		<-receivedCh
	}
}

func TestBus_AllEventTypes(t *testing.T) {
	bus := New()

	tests := []struct {
		name  string
		event Event
	}{
		{"CaptureCompleted", CaptureCompletedEvent{CameraID: "cam0"}},
		{"CaptureFailed", CaptureFailedEvent{CameraID: "cam0"}},
		{"ExposureUpdated", ExposureUpdatedEvent{CameraID: "cam0"}},
		{"ModesChanged", ModesChangedEvent{CameraID: "cam0"}},
		{"ShutterMapBuilt", ShutterMapBuiltEvent{CameraID: "cam0"}},
		{"ExposureMetrics", ExposureMetricsEvent{EventType: "exposure_metrics"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(_ *testing.T) {
			received := make(chan Event, 1)

			var unsub func()
			switch tt.event.(type) {
			case CaptureCompletedEvent:
				unsub = bus.Subscribe(func(e CaptureCompletedEvent) { received <- e })
			case CaptureFailedEvent:
				unsub = bus.Subscribe(func(e CaptureFailedEvent) { received <- e })
			case ExposureUpdatedEvent:
				unsub = bus.Subscribe(func(e ExposureUpdatedEvent) { received <- e })
			case ModesChangedEvent:
				unsub = bus.Subscribe(func(e ModesChangedEvent) { received <- e })
			case ShutterMapBuiltEvent:
				unsub = bus.Subscribe(func(e ShutterMapBuiltEvent) { received <- e })
			case ExposureMetricsEvent:
				unsub = bus.Subscribe(func(e ExposureMetricsEvent) { received <- e })
			}
			defer unsub()

			bus.Publish(tt.event)
			<-received
		})
	}
}

func TestEventJSONFieldNames(t *testing.T) {
	data, err := json.Marshal(ExposureUpdatedEvent{
		CameraID:  "cam0",
		Direction: "under",
		Time:      0.0025,
		Applied:   true,
	})
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	for _, key := range []string{"camera_id", "direction", "time", "applied"} {
		if _, ok := result[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
	if _, ok := result["reason"]; ok {
		t.Error("empty reason should be omitted")
	}
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)

	unsub := SubscribeToChannel[ShutterMapBuiltEvent](bus, ch)
	defer unsub()

	event := ShutterMapBuiltEvent{CameraID: "cam0", Entries: 512}
	bus.Publish(event)

	received := <-ch
	built, ok := received.(ShutterMapBuiltEvent)
	if !ok {
		t.Fatalf("Expected ShutterMapBuiltEvent, got %T", received)
	}
	if built.Entries != event.Entries {
		t.Errorf("Entries = %d, want %d", built.Entries, event.Entries)
	}
}

func TestSubscribeToChannelDropsWhenFull(t *testing.T) {
	bus := New()
	ch := make(chan any) // No buffer

	unsub := SubscribeToChannel[ModesChangedEvent](bus, ch)
	defer unsub()

	done := make(chan bool, 1)
	go func() {
		bus.Publish(ModesChangedEvent{HDR: true})
		done <- true
	}()
	<-done

	deadline := time.Now().Add(time.Second)
	for bus.Dropped() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := bus.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := New()
	ch := make(chan any, 16)
	unsub := SubscribeAll(bus, ch)

	for _, ev := range Catalog() {
		bus.Publish(ev.(Event))
	}

	seen := make(map[string]bool)
	timeout := time.After(time.Second)
	for len(seen) < len(Catalog()) {
		select {
		case ev := <-ch:
			seen[Name(ev)] = true
		case <-timeout:
			t.Fatalf("received %v", seen)
		}
	}
	if seen[""] {
		t.Error("received an event without a catalog name")
	}

	unsub()
	bus.Publish(CaptureFailedEvent{})
	select {
	case ev := <-ch:
		t.Errorf("received %T after unsubscribe", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNameMatchesCatalog(t *testing.T) {
	for name, ev := range Catalog() {
		if got := Name(ev); got != name {
			t.Errorf("Name(%T) = %q, want %q", ev, got, name)
		}
	}
	if Name("other") != "" {
		t.Error("foreign values have no name")
	}
}
