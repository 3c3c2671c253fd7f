package nats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/nats-io/nats.go"

	"github.com/smazurov/hdrnode/internal/events"
)

type marshaler interface {
	Marshal() ([]byte, error)
}

// CameraClient publishes a camera node's telemetry and receives mode
// change requests. Gracefully degrades when NATS is unavailable.
type CameraClient struct {
	url       string
	cameraID  string
	conn      *nats.Conn
	sub       *nats.Subscription
	logger    *slog.Logger
	mu        sync.RWMutex
	onModes   func(ModesMessage)
	connected bool

	// ConnectTimeout bounds the initial connection attempts.
	ConnectTimeout time.Duration
}

// NewCameraClient creates a new NATS client for a camera node.
func NewCameraClient(url, cameraID string, logger *slog.Logger) *CameraClient {
	if logger == nil {
		logger = slog.Default()
	}

	return &CameraClient{
		url:            url,
		cameraID:       cameraID,
		logger:         logger.With("component", "nats-client", "camera_id", cameraID),
		ConnectTimeout: 5 * time.Second,
	}
}

// Connect establishes a connection to the NATS server, retrying with
// exponential backoff until ConnectTimeout elapses. On failure the client
// stays usable in offline mode and the error is returned for logging.
func (c *CameraClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	opts := []nats.Option{
		nats.Name("hdrnode-" + c.cameraID),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1), // Infinite reconnects
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			if err != nil {
				c.logger.Warn("NATS disconnected", "error", err)
			} else {
				c.logger.Debug("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.connected = true
			c.logger.Info("NATS reconnected")
			c.subscribeControlLocked()
		}),
	}

	var conn *nats.Conn
	attempts := 0
	op := func() error {
		attempts++
		var err error
		conn, err = nats.Connect(c.url, opts...)
		return err
	}
	policy := backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     100 * time.Millisecond,
		RandomizationFactor: 0.2,
		Multiplier:          2.,
		MaxInterval:         time.Second,
		MaxElapsedTime:      c.ConnectTimeout,
		Clock:               backoff.SystemClock,
	}, ctx)
	if err := backoff.Retry(op, policy); err != nil {
		c.logger.Warn("Failed to connect to NATS, running in offline mode", "error", err, "attempts", attempts)
		return err
	}

	c.conn = conn
	c.connected = true
	c.logger.Info("Connected to NATS", "url", c.url, "attempts", attempts)

	c.subscribeControlLocked()
	return nil
}

// subscribeControlLocked subscribes to mode requests (must hold lock).
func (c *CameraClient) subscribeControlLocked() {
	if c.conn == nil || c.onModes == nil {
		return
	}

	onModes := c.onModes
	sub, err := c.conn.Subscribe(SubjectControlModes(c.cameraID), func(msg *nats.Msg) {
		m, err := UnmarshalModes(msg.Data)
		if err != nil {
			c.logger.Warn("Failed to unmarshal modes request", "error", err)
			return
		}
		c.logger.Info("Received modes request", "hdr", m.HDR, "aec", m.AEC, "auto_shutter", m.AutoShutter, "reason", m.Reason)
		onModes(m)
	})
	if err != nil {
		c.logger.Warn("Failed to subscribe to mode requests", "error", err)
		return
	}

	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}
	c.sub = sub
	if err := c.conn.Flush(); err != nil {
		c.logger.Debug("Flush after subscribe failed", "error", err)
	}
}

// OnModes sets the callback for mode requests.
func (c *CameraClient) OnModes(fn func(ModesMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onModes = fn

	if c.conn != nil && c.connected {
		c.subscribeControlLocked()
	}
}

// publish sends m on subject. No-op if not connected.
func (c *CameraClient) publish(subject string, m marshaler) {
	c.mu.RLock()
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()

	if conn == nil || !connected {
		return
	}

	data, err := m.Marshal()
	if err != nil {
		c.logger.Warn("Failed to marshal message", "subject", subject, "error", err)
		return
	}
	if err := conn.Publish(subject, data); err != nil {
		c.logger.Warn("Failed to publish message", "subject", subject, "error", err)
	}
}

// PublishCapture publishes a capture announcement.
func (c *CameraClient) PublishCapture(m CaptureMessage) {
	c.publish(SubjectCaptures(c.cameraID), m)
}

// PublishExposure publishes an exposure evaluation.
func (c *CameraClient) PublishExposure(m ExposureMessage) {
	c.publish(SubjectExposure(c.cameraID), m)
}

// PublishFailure publishes an aborted cycle.
func (c *CameraClient) PublishFailure(m FailureMessage) {
	c.publish(SubjectFailures(c.cameraID), m)
}

// Attach forwards this camera's bus events to NATS. It returns a function
// that detaches all handlers.
func (c *CameraClient) Attach(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(func(e events.CaptureCompletedEvent) {
			if e.CameraID != c.cameraID {
				return
			}
			c.PublishCapture(CaptureMessage{
				CameraID:  e.CameraID,
				Timestamp: e.Timestamp,
				Cycle:     e.Cycle,
				Kind:      e.Kind,
				Frames:    e.Frames,
				Shutters:  e.Shutters,
			})
		}),
		bus.Subscribe(func(e events.ExposureUpdatedEvent) {
			if e.CameraID != c.cameraID {
				return
			}
			c.PublishExposure(ExposureMessage{
				CameraID:   e.CameraID,
				Timestamp:  e.Timestamp,
				Cycle:      e.Cycle,
				Direction:  e.Direction,
				Previous:   e.Previous,
				Time:       e.Time,
				Code:       e.Code,
				Proportion: e.Proportion,
				Applied:    e.Applied,
				Reason:     e.Reason,
			})
		}),
		bus.Subscribe(func(e events.CaptureFailedEvent) {
			if e.CameraID != c.cameraID {
				return
			}
			c.PublishFailure(FailureMessage{
				CameraID:  e.CameraID,
				Timestamp: e.Timestamp,
				Cycle:     e.Cycle,
				Code:      e.Code,
				Error:     e.Error,
			})
		}),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// IsConnected returns true if connected to NATS.
func (c *CameraClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.conn != nil
}

// Close closes the NATS connection.
func (c *CameraClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub != nil {
		_ = c.sub.Unsubscribe()
		c.sub = nil
	}

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	c.connected = false
	c.logger.Debug("NATS client closed")
}

// ControlPublisher sends mode requests to camera nodes.
type ControlPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewControlPublisher creates a publisher for mode requests.
func NewControlPublisher(url string, logger *slog.Logger) (*ControlPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(url,
		nats.Name("hdrnode-control"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(5),
	)
	if err != nil {
		return nil, err
	}

	return &ControlPublisher{
		conn:   conn,
		logger: logger.With("component", "nats-control"),
	}, nil
}

// SetModes asks a camera node to switch modes.
func (p *ControlPublisher) SetModes(m ModesMessage) error {
	if m.Timestamp == "" {
		m.Timestamp = time.Now().Format(time.RFC3339)
	}
	data, err := m.Marshal()
	if err != nil {
		return err
	}

	if err := p.conn.Publish(SubjectControlModes(m.CameraID), data); err != nil {
		return err
	}
	if err := p.conn.Flush(); err != nil {
		return err
	}

	p.logger.Info("Sent modes request", "camera_id", m.CameraID, "hdr", m.HDR, "aec", m.AEC, "auto_shutter", m.AutoShutter)
	return nil
}

// Close closes the control publisher connection.
func (p *ControlPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
