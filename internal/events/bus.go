package events

import (
	"sync/atomic"

	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
	dropped    atomic.Uint64
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(CaptureCompletedEvent{...})
func (b *Bus) Publish(ev Event) {
	// kelindar/event is generic over the concrete type
	switch e := ev.(type) {
	case CaptureCompletedEvent:
		event.Publish(b.dispatcher, e)
	case CaptureFailedEvent:
		event.Publish(b.dispatcher, e)
	case ExposureUpdatedEvent:
		event.Publish(b.dispatcher, e)
	case ModesChangedEvent:
		event.Publish(b.dispatcher, e)
	case ShutterMapBuiltEvent:
		event.Publish(b.dispatcher, e)
	case ExposureMetricsEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function
// The handler type determines which events it receives
// Returns an unsubscribe function
// Usage: unsub := bus.Subscribe(func(e ExposureUpdatedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(CaptureCompletedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CaptureFailedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ExposureUpdatedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ModesChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ShutterMapBuiltEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ExposureMetricsEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}

// Dropped returns how many events channel subscribers missed because
// their channel was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
