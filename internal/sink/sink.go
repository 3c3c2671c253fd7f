// Package sink hands captured frame sets to downstream consumers.
//
// The control loop must never wait on a consumer. The Dispatcher gives each
// sink its own bounded queue and worker; when a queue is full the capture is
// dropped for that sink and counted, so a slow disk or broker only loses
// data, never exposure cycles.
package sink

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/hdrnode/internal/camera"
	"github.com/smazurov/hdrnode/internal/metrics"
)

// ErrClosed is returned when submitting to a stopped dispatcher.
var ErrClosed = errors.New("sink: dispatcher closed")

// Capture is one acquisition handed downstream. Frames are private copies
// and must be treated as read-only; several sinks share them.
type Capture struct {
	RunID    string
	CameraID string
	Cycle    uint64
	Kind     string
	Frames   []camera.Frame
	Bracket  [camera.NumBanks]uint32
	Under    float64
	Over     float64
	Time     time.Time
}

// Sink consumes captures. Write is called from a single worker goroutine.
type Sink interface {
	Name() string
	Write(ctx context.Context, c Capture) error
	Close() error
}

// Options configures a Dispatcher.
type Options struct {
	// QueueSize is the per-sink backlog. Defaults to 8.
	QueueSize int
	Logger    *slog.Logger
}

type route struct {
	sink  Sink
	queue chan Capture
}

// Dispatcher fans captures out to sinks without blocking the caller.
type Dispatcher struct {
	routes []*route
	logger *slog.Logger

	mu      sync.RWMutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher over sinks.
func NewDispatcher(opts Options, sinks ...Sink) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 8
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{logger: logger}
	for _, s := range sinks {
		d.routes = append(d.routes, &route{sink: s, queue: make(chan Capture, opts.QueueSize)})
	}
	return d
}

// Start launches one worker per sink.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	ctx, d.cancel = context.WithCancel(ctx)
	for _, r := range d.routes {
		d.wg.Add(1)
		go d.run(ctx, r)
	}
	d.logger.Info("Sink dispatcher started", "sinks", len(d.routes))
}

func (d *Dispatcher) run(ctx context.Context, r *route) {
	defer d.wg.Done()
	name := r.sink.Name()
	for c := range r.queue {
		if err := r.sink.Write(ctx, c); err != nil {
			metrics.RecordSinkError(name)
			d.logger.Warn("Sink write failed", "sink", name, "cycle", c.Cycle, "error", err)
			continue
		}
		metrics.RecordSinkWritten(name)
	}
}

// Submit queues c for every sink. It never blocks; sinks whose queue is
// full drop the capture. It returns false if any sink dropped it.
func (d *Dispatcher) Submit(c Capture) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	delivered := true
	for _, r := range d.routes {
		select {
		case r.queue <- c:
		default:
			delivered = false
			metrics.RecordSinkDropped(r.sink.Name())
			d.logger.Debug("Sink queue full, capture dropped", "sink", r.sink.Name(), "cycle", c.Cycle)
		}
	}
	return delivered
}

// Stop drains the queues, waits for the workers and closes every sink.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.closed = true
	for _, r := range d.routes {
		close(r.queue)
	}
	started := d.started
	d.mu.Unlock()

	if started {
		d.wg.Wait()
		d.cancel()
	}

	var errs []error
	for _, r := range d.routes {
		if err := r.sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
