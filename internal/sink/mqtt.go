package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// FrameSummary is the per-frame part of a Summary.
type FrameSummary struct {
	Sequence uint64  `json:"sequence"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Shutter  *uint32 `json:"shutter,omitempty"`
	Mean     float64 `json:"mean"`
}

// Summary is the pixel-free description of a capture published to the
// broker.
type Summary struct {
	RunID    string         `json:"run_id"`
	CameraID string         `json:"camera_id"`
	Cycle    uint64         `json:"cycle"`
	Kind     string         `json:"kind"`
	Bracket  [4]uint32      `json:"bracket"`
	Under    float64        `json:"under"`
	Over     float64        `json:"over"`
	Frames   []FrameSummary `json:"frames"`
	Time     time.Time      `json:"time"`
}

// Summarize reduces c to a Summary.
func Summarize(c Capture) Summary {
	s := Summary{
		RunID:    c.RunID,
		CameraID: c.CameraID,
		Cycle:    c.Cycle,
		Kind:     c.Kind,
		Bracket:  c.Bracket,
		Under:    c.Under,
		Over:     c.Over,
		Time:     c.Time,
		Frames:   make([]FrameSummary, 0, len(c.Frames)),
	}
	for _, f := range c.Frames {
		fs := FrameSummary{Sequence: f.Sequence, Width: f.Width, Height: f.Height}
		if code, ok := f.Metadata.ShutterCode(); ok {
			fs.Shutter = &code
		}
		gray := f.Gray()
		first := f.FirstPixel()
		if first < len(gray) {
			var sum uint64
			for _, v := range gray[first:] {
				sum += uint64(v)
			}
			fs.Mean = float64(sum) / float64(len(gray)-first)
		}
		s.Frames = append(s.Frames, fs)
	}
	return s
}

// MQTTOptions configures an MQTTSink.
type MQTTOptions struct {
	Broker   string
	ClientID string
	// Topic prefix; summaries go to <Topic>/<camera>/captures.
	Topic   string
	QoS     byte
	Timeout time.Duration
	Logger  *slog.Logger
}

// MQTTSink publishes capture summaries as JSON.
type MQTTSink struct {
	client mqtt.Client
	opts   MQTTOptions
	logger *slog.Logger
}

// DialMQTT connects to the broker and returns a sink over the connection.
// The client reconnects on its own after the initial connect.
func DialMQTT(opts MQTTOptions) (*MQTTSink, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(2 * time.Second)
	co.SetMaxReconnectInterval(30 * time.Second)
	co.OnConnect = func(mqtt.Client) {
		logger.Info("MQTT connection established", "broker", opts.Broker)
	}
	co.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost, will auto-reconnect", "broker", opts.Broker, "error", err)
	}

	client := mqtt.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return NewMQTTSink(client, opts), nil
}

// NewMQTTSink wraps an existing client.
func NewMQTTSink(client mqtt.Client, opts MQTTOptions) *MQTTSink {
	if opts.Topic == "" {
		opts.Topic = "hdrnode"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTSink{client: client, opts: opts, logger: logger}
}

// Topic returns the summary topic for a camera.
func (s *MQTTSink) Topic(cameraID string) string {
	return fmt.Sprintf("%s/%s/captures", s.opts.Topic, cameraID)
}

// Name implements Sink.
func (s *MQTTSink) Name() string { return "mqtt" }

// Write implements Sink.
func (s *MQTTSink) Write(_ context.Context, c Capture) error {
	payload, err := json.Marshal(Summarize(c))
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	topic := s.Topic(c.CameraID)
	token := s.client.Publish(topic, s.opts.QoS, false, payload)
	if !token.WaitTimeout(s.opts.Timeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	s.logger.Debug("Summary published", "topic", topic, "size", len(payload))
	return nil
}

// Close implements Sink.
func (s *MQTTSink) Close() error {
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return nil
}
