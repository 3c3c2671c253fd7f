package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/smazurov/hdrnode/cmd"
	"github.com/smazurov/hdrnode/internal/acquisition"
	"github.com/smazurov/hdrnode/internal/api"
	"github.com/smazurov/hdrnode/internal/camera"
	"github.com/smazurov/hdrnode/internal/camera/v4l2cam"
	"github.com/smazurov/hdrnode/internal/config"
	"github.com/smazurov/hdrnode/internal/events"
	"github.com/smazurov/hdrnode/internal/led"
	"github.com/smazurov/hdrnode/internal/logging"
	"github.com/smazurov/hdrnode/internal/metrics/exporters"
	natsint "github.com/smazurov/hdrnode/internal/nats"
	"github.com/smazurov/hdrnode/internal/session"
	"github.com/smazurov/hdrnode/internal/sink"
)

// node owns every long-lived component of a running camera node.
type node struct {
	opts   *Options
	logger *slog.Logger

	eventBus    *events.Bus
	sseExporter *exporters.SSEExporter
	dispatcher  *sink.Dispatcher
	session     *session.Session
	ledManager  *led.Manager
	natsServer  *natsint.Server
	natsClient  *natsint.CameraClient
	detachNats  func()
	watcher     *config.Watcher[config.Reloadable]
	server      *api.Server
	done        chan struct{}
}

func (n *node) start(ctx context.Context) error {
	opts := n.opts

	interval, err := time.ParseDuration(opts.SessionInterval)
	if err != nil {
		return fmt.Errorf("session interval: %w", err)
	}
	waitTimeout, err := time.ParseDuration(opts.CameraWaitTimeout)
	if err != nil {
		return fmt.Errorf("camera wait timeout: %w", err)
	}
	codes, err := cmd.ParseShutterCodes(opts.SessionBracket)
	if err != nil {
		return fmt.Errorf("session bracket: %w", err)
	}
	initial, err := acquisition.ExpandBracket(codes)
	if err != nil {
		return fmt.Errorf("session bracket: %w", err)
	}

	// Reloadable sections; a missing file keeps the defaults
	reloadable, err := config.LoadReloadable(opts.Config)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	n.eventBus = events.New()

	if opts.MetricsSse {
		n.sseExporter = exporters.NewSSEExporter(n.eventBus)
		n.sseExporter.Start(ctx)
	}

	n.dispatcher = sink.NewDispatcher(sink.Options{
		QueueSize: opts.SinksQueueSize,
		Logger:    logging.GetLogger("sink"),
	}, n.buildSinks()...)
	n.dispatcher.Start(ctx)

	flags := cmd.CameraFlags{
		Driver:       opts.CameraDriver,
		Device:       opts.CameraDevice,
		Width:        opts.CameraWidth,
		Height:       opts.CameraHeight,
		Format:       opts.CameraFormat,
		Buffers:      opts.CameraBuffers,
		WaitTimeout:  waitTimeout,
		AutoExposure: opts.CameraAutoExposure,
	}
	cam, err := flags.Open(logging.GetLogger("camera"))
	if err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	if flags.Driver == cmd.DriverV4L2 {
		go func() {
			if werr := v4l2cam.WatchPresence(ctx, flags.Device, logging.GetLogger("camera")); werr != nil {
				n.logger.Warn("Camera hotplug monitor unavailable", "error", werr)
			}
		}()
	}

	var metadata camera.MetadataFlags
	if opts.CameraMetadata {
		metadata = camera.MetaAll
	}
	n.session, err = session.Open(ctx, cam, session.Config{
		CameraID:    opts.CameraId,
		Device:      flags.Name(),
		Calibration: opts.CameraCalibration,
		Metadata:    metadata,
		Bracket:     initial,
		Modes: session.Modes{
			HDR:         opts.SessionHdr,
			AEC:         opts.SessionAec,
			AutoShutter: opts.SessionAutoShutter,
		},
		Tuning: reloadable.AEC,
	}, n.eventBus, n.dispatcher, logging.GetLogger("session"))
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	ledLogger := logging.GetLogger("led")
	n.ledManager = led.NewManager(led.New(opts.StatusLed, ledLogger), n.eventBus, ledLogger)
	n.ledManager.Start()

	n.startNats(ctx)
	n.startWatcher()

	apiOpts := &api.Options{
		AuthUsername: opts.AuthUsername,
		AuthPassword: opts.AuthPassword,
		Session:      n.session,
		EventBus:     n.eventBus,
	}
	if opts.MetricsPrometheus {
		apiOpts.PrometheusHandler = exporters.HTTPHandler()
	}
	n.server = api.NewServer(apiOpts)

	n.done = make(chan struct{})
	go func() {
		defer close(n.done)
		if runErr := n.session.Run(ctx, interval); runErr != nil {
			n.logger.Error("Session loop exited", "error", runErr)
		}
	}()
	return nil
}

func (n *node) buildSinks() []sink.Sink {
	opts := n.opts
	logger := logging.GetLogger("sink")
	var sinks []sink.Sink

	if opts.SinksRawDir != "" {
		raw, err := sink.NewRawSink(opts.SinksRawDir)
		if err != nil {
			logger.Warn("Raw sink disabled", "dir", opts.SinksRawDir, "error", err)
		} else {
			sinks = append(sinks, raw)
		}
	}
	if opts.SinksFitsDir != "" {
		fits, err := sink.NewFITSSink(opts.SinksFitsDir)
		if err != nil {
			logger.Warn("FITS sink disabled", "dir", opts.SinksFitsDir, "error", err)
		} else {
			sinks = append(sinks, fits)
		}
	}
	if opts.MqttBroker != "" {
		mq, err := sink.DialMQTT(sink.MQTTOptions{
			Broker:   opts.MqttBroker,
			ClientID: "hdrnode-" + opts.CameraId,
			Topic:    opts.MqttTopic,
			QoS:      byte(opts.MqttQos),
			Logger:   logger,
		})
		if err != nil {
			logger.Warn("MQTT sink disabled", "broker", opts.MqttBroker, "error", err)
		} else {
			sinks = append(sinks, mq)
		}
	}
	return sinks
}

// startNats brings up telemetry. Failures leave the node running offline.
func (n *node) startNats(ctx context.Context) {
	opts := n.opts
	logger := logging.GetLogger("nats")
	url := opts.NatsUrl

	if opts.NatsEmbedded {
		n.natsServer = natsint.NewServer(natsint.ServerOptions{Port: opts.NatsPort, Logger: logger})
		if err := n.natsServer.Start(); err != nil {
			logger.Warn("Embedded NATS server failed to start", "error", err)
			n.natsServer = nil
		} else if url == "" {
			url = n.natsServer.ClientURL()
		}
	}
	if url == "" {
		return
	}

	n.natsClient = natsint.NewCameraClient(url, opts.CameraId, logger)
	n.natsClient.OnModes(func(m natsint.ModesMessage) {
		n.session.RequestModes(session.Modes{HDR: m.HDR, AEC: m.AEC, AutoShutter: m.AutoShutter})
	})
	n.detachNats = n.natsClient.Attach(n.eventBus)
	go func() {
		// Connect logs its own failure; publishes are dropped until connected
		_ = n.natsClient.Connect(ctx)
	}()
}

func (n *node) startWatcher() {
	n.watcher = config.NewConfigWatcher(n.opts.Config, config.LoadReloadable, logging.GetLogger("config"))
	n.watcher.OnReload(func(r config.Reloadable) {
		if err := n.session.Tune(r.AEC); err != nil {
			n.logger.Warn("Rejected AEC tuning", "error", err)
		}
		logging.SetLevels(r.Logging.Level, r.Logging.Modules)
	})
	if err := n.watcher.Start(); err != nil {
		n.logger.Warn("Config reload disabled", "path", n.opts.Config, "error", err)
		n.watcher = nil
	}
}

// stop tears down in reverse start order. The caller cancels the context
// first so the session loop is already winding down.
func (n *node) stop() {
	if n.server != nil {
		if err := n.server.Stop(); err != nil {
			n.logger.Error("Error stopping HTTP server", "error", err)
		}
	}
	if n.done != nil {
		<-n.done
	}
	if n.watcher != nil {
		if err := n.watcher.Stop(); err != nil {
			n.logger.Warn("Error stopping config watcher", "error", err)
		}
	}
	if n.detachNats != nil {
		n.detachNats()
	}
	if n.natsClient != nil {
		n.natsClient.Close()
	}
	if n.natsServer != nil {
		n.natsServer.Stop()
	}
	if n.session != nil {
		if err := n.session.Close(); err != nil {
			n.logger.Error("Error closing session", "error", err)
		}
	}
	if n.ledManager != nil {
		n.ledManager.Stop()
	}
	if n.dispatcher != nil {
		if err := n.dispatcher.Stop(); err != nil {
			n.logger.Warn("Error stopping sinks", "error", err)
		}
	}
	if n.sseExporter != nil {
		n.sseExporter.Stop()
	}
}
