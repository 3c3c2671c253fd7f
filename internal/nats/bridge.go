package nats

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/smazurov/hdrnode/internal/events"
)

// Bridge subscribes to camera subjects and forwards messages to the event
// bus, so a monitor can follow remote nodes through the same events as a
// local session.
type Bridge struct {
	url      string
	eventBus *events.Bus
	conn     *nats.Conn
	subs     []*nats.Subscription
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewBridge creates a new NATS-to-EventBus bridge.
func NewBridge(url string, eventBus *events.Bus, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		url:      url,
		eventBus: eventBus,
		logger:   logger.With("component", "nats-bridge"),
	}
}

// Start connects to NATS and subscribes to the subjects of every camera.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, err := nats.Connect(b.url,
		nats.Name("hdrnode-bridge"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("NATS bridge disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			b.logger.Info("NATS bridge reconnected")
		}),
	)
	if err != nil {
		return err
	}
	b.conn = conn
	b.logger.Info("NATS bridge connected", "url", b.url)

	handlers := []struct {
		suffix string
		fn     nats.MsgHandler
	}{
		{"captures", b.handleCapture},
		{"exposure", b.handleExposure},
		{"failures", b.handleFailure},
	}
	for _, h := range handlers {
		sub, err := conn.Subscribe(SubjectCamerasPrefix+".*."+h.suffix, h.fn)
		if err != nil {
			b.cleanup()
			return err
		}
		b.subs = append(b.subs, sub)
	}

	if err := conn.Flush(); err != nil {
		b.cleanup()
		return err
	}
	b.logger.Info("NATS bridge subscribed to camera subjects")
	return nil
}

func (b *Bridge) handleCapture(msg *nats.Msg) {
	m, err := UnmarshalCapture(msg.Data)
	if err != nil {
		b.logger.Warn("Failed to unmarshal capture", "error", err, "subject", msg.Subject)
		return
	}
	b.eventBus.Publish(events.CaptureCompletedEvent{
		CameraID:  m.CameraID,
		Cycle:     m.Cycle,
		Kind:      m.Kind,
		Frames:    m.Frames,
		Shutters:  m.Shutters,
		Timestamp: m.Timestamp,
	})
}

func (b *Bridge) handleExposure(msg *nats.Msg) {
	m, err := UnmarshalExposure(msg.Data)
	if err != nil {
		b.logger.Warn("Failed to unmarshal exposure", "error", err, "subject", msg.Subject)
		return
	}
	b.eventBus.Publish(events.ExposureUpdatedEvent{
		CameraID:   m.CameraID,
		Cycle:      m.Cycle,
		Direction:  m.Direction,
		Previous:   m.Previous,
		Time:       m.Time,
		Code:       m.Code,
		Proportion: m.Proportion,
		Applied:    m.Applied,
		Reason:     m.Reason,
		Timestamp:  m.Timestamp,
	})
}

func (b *Bridge) handleFailure(msg *nats.Msg) {
	m, err := UnmarshalFailure(msg.Data)
	if err != nil {
		b.logger.Warn("Failed to unmarshal failure", "error", err, "subject", msg.Subject)
		return
	}
	b.eventBus.Publish(events.CaptureFailedEvent{
		CameraID:  m.CameraID,
		Cycle:     m.Cycle,
		Code:      m.Code,
		Error:     m.Error,
		Timestamp: m.Timestamp,
	})
	b.logger.Debug("Forwarded failure", "camera_id", m.CameraID, "code", m.Code)
}

// cleanup unsubscribes and closes connection.
func (b *Bridge) cleanup() {
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil

	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

// Stop closes the bridge connection.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cleanup()
	b.logger.Info("NATS bridge stopped")
}

// IsConnected returns true if the bridge is connected to NATS.
func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && b.conn.IsConnected()
}
