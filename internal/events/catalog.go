package events

import "github.com/kelindar/event"

// Catalog maps the wire name of every event to its zero value. The names
// are used as SSE event types and in printed telemetry.
func Catalog() map[string]any {
	return map[string]any{
		"capture-completed": CaptureCompletedEvent{},
		"capture-failed":    CaptureFailedEvent{},
		"exposure-updated":  ExposureUpdatedEvent{},
		"modes-changed":     ModesChangedEvent{},
		"shutter-map-built": ShutterMapBuiltEvent{},
		"exposure-metrics":  ExposureMetricsEvent{},
	}
}

// Name returns the catalog name of ev, or "" for foreign values.
func Name(ev any) string {
	switch ev.(type) {
	case CaptureCompletedEvent:
		return "capture-completed"
	case CaptureFailedEvent:
		return "capture-failed"
	case ExposureUpdatedEvent:
		return "exposure-updated"
	case ModesChangedEvent:
		return "modes-changed"
	case ShutterMapBuiltEvent:
		return "shutter-map-built"
	case ExposureMetricsEvent:
		return "exposure-metrics"
	}
	return ""
}

// SubscribeToChannel forwards events of type T to ch without blocking the
// publisher. Events that find ch full are dropped and counted in
// Bus.Dropped.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
			bus.dropped.Add(1)
		}
	})
}

// SubscribeAll forwards every catalog event type to ch.
func SubscribeAll(bus *Bus, ch chan<- any) func() {
	unsubs := []func(){
		SubscribeToChannel[CaptureCompletedEvent](bus, ch),
		SubscribeToChannel[CaptureFailedEvent](bus, ch),
		SubscribeToChannel[ExposureUpdatedEvent](bus, ch),
		SubscribeToChannel[ModesChangedEvent](bus, ch),
		SubscribeToChannel[ShutterMapBuiltEvent](bus, ch),
		SubscribeToChannel[ExposureMetricsEvent](bus, ch),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
