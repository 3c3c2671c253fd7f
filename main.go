package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/hdrnode/cmd"
	"github.com/smazurov/hdrnode/internal/config"
	"github.com/smazurov/hdrnode/internal/logging"
	"github.com/smazurov/hdrnode/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"hdrnode.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Camera settings
	CameraId           string `help:"Camera identifier used in subjects, metrics and sink output" default:"cam0" toml:"camera.id" env:"CAMERA_ID"`
	CameraDriver       string `help:"Camera driver (sim, v4l2)" default:"sim" toml:"camera.driver" env:"CAMERA_DRIVER"`
	CameraDevice       string `help:"V4L2 device path or /dev/v4l/by-id name" default:"/dev/video0" toml:"camera.device" env:"CAMERA_DEVICE"`
	CameraWidth        int    `help:"Capture width in pixels" default:"1280" toml:"camera.width" env:"CAMERA_WIDTH"`
	CameraHeight       int    `help:"Capture height in pixels" default:"1024" toml:"camera.height" env:"CAMERA_HEIGHT"`
	CameraFormat       string `help:"Pixel format (mono8, rgb8)" default:"mono8" toml:"camera.format" env:"CAMERA_FORMAT"`
	CameraBuffers      int    `help:"Driver buffer count" default:"4" toml:"camera.buffers" env:"CAMERA_BUFFERS"`
	CameraWaitTimeout  string `help:"Frame wait timeout" default:"2s" toml:"camera.wait_timeout" env:"CAMERA_WAIT_TIMEOUT"`
	CameraAutoExposure int    `help:"exposure_auto menu value used for automatic shutter" default:"3" toml:"camera.auto_exposure" env:"CAMERA_AUTO_EXPOSURE"`
	CameraMetadata     bool   `help:"Embed frame metadata in the image prefix" default:"true" toml:"camera.metadata" env:"CAMERA_METADATA"`
	CameraCalibration  string `help:"Shutter map file, written after the first sweep" default:"shutter.toml" toml:"camera.calibration" env:"CAMERA_CALIBRATION"`

	// Session settings
	SessionBracket     string `help:"Initial shutter codes: one for all banks, or under,over" default:"100,300" toml:"session.bracket" env:"SESSION_BRACKET"`
	SessionInterval    string `help:"Cycle interval" default:"200ms" toml:"session.interval" env:"SESSION_INTERVAL"`
	SessionHdr         bool   `help:"Start in HDR mode" default:"true" toml:"session.hdr" env:"SESSION_HDR"`
	SessionAec         bool   `help:"Start with auto exposure enabled" default:"true" toml:"session.aec" env:"SESSION_AEC"`
	SessionAutoShutter bool   `help:"Start with device-controlled shutter" default:"false" toml:"session.auto_shutter" env:"SESSION_AUTO_SHUTTER"`

	// Sink settings
	SinksRawDir    string `help:"Directory for raw frame dumps (empty disables)" default:"" toml:"sinks.raw_dir" env:"SINKS_RAW_DIR"`
	SinksFitsDir   string `help:"Directory for FITS frames (empty disables)" default:"" toml:"sinks.fits_dir" env:"SINKS_FITS_DIR"`
	SinksQueueSize int    `help:"Per-sink capture backlog" default:"8" toml:"sinks.queue_size" env:"SINKS_QUEUE_SIZE"`
	MqttBroker     string `help:"MQTT broker URL for capture summaries (empty disables)" default:"" toml:"mqtt.broker" env:"MQTT_BROKER"`
	MqttTopic      string `help:"MQTT topic prefix" default:"hdrnode" toml:"mqtt.topic" env:"MQTT_TOPIC"`
	MqttQos        int    `help:"MQTT quality of service" default:"0" toml:"mqtt.qos" env:"MQTT_QOS"`

	// NATS settings
	NatsUrl      string `help:"NATS server URL (empty disables telemetry)" default:"" toml:"nats.url" env:"NATS_URL"`
	NatsEmbedded bool   `help:"Run an embedded NATS server" default:"false" toml:"nats.embedded" env:"NATS_EMBEDDED"`
	NatsPort     int    `help:"Embedded NATS server port" default:"4222" toml:"nats.port" env:"NATS_PORT"`

	// Metrics settings
	MetricsPrometheus bool `help:"Serve Prometheus metrics at /metrics" default:"true" toml:"metrics.prometheus" env:"METRICS_PROMETHEUS"`
	MetricsSse        bool `help:"Publish exposure metrics on the event stream" default:"true" toml:"metrics.sse" env:"METRICS_SSE"`

	// Status LED
	StatusLed string `help:"Status LED under /sys/class/leds, auto to detect the board, empty disables" default:"" toml:"status.led" env:"STATUS_LED"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel       string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat      string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCamera      string `help:"Camera logging level" default:"info" toml:"logging.camera" env:"LOGGING_CAMERA"`
	LoggingSession     string `help:"Session logging level" default:"info" toml:"logging.session" env:"LOGGING_SESSION"`
	LoggingAcquisition string `help:"Acquisition logging level" default:"info" toml:"logging.acquisition" env:"LOGGING_ACQUISITION"`
	LoggingSink        string `help:"Sink logging level" default:"info" toml:"logging.sink" env:"LOGGING_SINK"`
	LoggingNats        string `help:"NATS logging level" default:"info" toml:"logging.nats" env:"LOGGING_NATS"`
	LoggingApi         string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system
		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"camera":      opts.LoggingCamera,
				"session":     opts.LoggingSession,
				"acquisition": opts.LoggingAcquisition,
				"sink":        opts.LoggingSink,
				"nats":        opts.LoggingNats,
				"api":         opts.LoggingApi,
			},
		})

		logger := logging.GetLogger("main")
		logger.Info("hdrnode starting", "version", version.String())
		ctx, cancel := context.WithCancel(context.Background())
		n := &node{opts: opts, logger: logger}

		hooks.OnStart(func() {
			if startErr := n.start(ctx); startErr != nil {
				logger.Error("Failed to start node", "error", startErr)
				n.stop()
				os.Exit(1)
			}

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := n.server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				cancel()
				n.stop()
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down node")
			cancel()
			n.stop()
		})
	})

	cli.Root().Use = "hdrnode"
	cli.Root().Short = "HDR exposure control node for machine-vision cameras"
	cli.Root().Version = version.String()

	cli.Root().AddCommand(cmd.CreateCalibrateCmd())
	cli.Root().AddCommand(cmd.CreateCaptureCmd())
	cli.Root().AddCommand(cmd.CreateModesCmd())
	cli.Root().AddCommand(cmd.CreateWatchCmd())
	cli.Root().AddCommand(cmd.CreateDevicesCmd())

	// Run the CLI
	cli.Run()
}
