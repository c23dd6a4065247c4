package capture

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/clearmeat/go-scan-core/internal/domain"
)

// ErrBridgeActive is returned by Start when another bridge already holds the
// capture hardware in this process.
var ErrBridgeActive = errors.New("capture bridge already active")

// ErrAlreadyStarted is returned by Start on a bridge that was started before.
// A bridge is single-use: after Stop, construct a new one.
var ErrAlreadyStarted = errors.New("bridge already started")

var (
	detectionsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capture_detections_delivered_total",
		Help: "Detections forwarded to the session loop.",
	})
	detectionsSuppressed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capture_detections_suppressed_total",
		Help: "Detections dropped while the bridge was paused.",
	})
	detectionsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capture_detections_dropped_total",
		Help: "Detections dropped because the queue was full or the code was empty after normalization.",
	})
)

func init() {
	prometheus.MustRegister(detectionsDelivered, detectionsSuppressed, detectionsDropped)
}

// active guards the process-wide exclusive hardware resource: at most one
// bridge may be between Start and Stop at any time.
var active atomic.Bool

// Bridge adapts the device's push-style callbacks into a bounded channel of
// Detections with a single cancellation point (Stop closes the channel).
// Delivery can be paused and resumed without releasing the hardware, which
// is how a result view avoids re-triggering on the code still in front of
// the camera.
//
// Goroutine topology: none of its own. Callbacks run on the device's
// delivery thread and do a non-blocking send; the session loop is the sole
// consumer.
type Bridge struct {
	dev Device
	log zerolog.Logger

	queue chan Detection
	errs  chan error

	paused atomic.Bool

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewBridge returns an unstarted bridge over dev with the given queue depth.
func NewBridge(dev Device, queueSize int, log zerolog.Logger) *Bridge {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Bridge{
		dev:   dev,
		log:   log.With().Str("component", "capture_bridge").Logger(),
		queue: make(chan Detection, queueSize),
		errs:  make(chan error, 1),
	}
}

// Start acquires the hardware and begins delivering detections. It may be
// called only after the gate resolved to Granted; the bridge does not
// re-check permission. The returned channels are owned by the bridge: the
// detection channel closes on Stop, the error channel carries hardware
// faults and never closes.
func (b *Bridge) Start() (<-chan Detection, <-chan error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return nil, nil, ErrAlreadyStarted
	}
	if !active.CompareAndSwap(false, true) {
		return nil, nil, ErrBridgeActive
	}

	if err := b.dev.Open(b.onDetect, b.onError); err != nil {
		active.Store(false)
		return nil, nil, err
	}
	b.started = true
	b.log.Info().Msg("capture stream started")
	return b.queue, b.errs, nil
}

// Stop terminates delivery, releases the hardware, and closes the detection
// channel. Idempotent; safe to call on a never-started bridge.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}
	b.stopped = true

	if b.started {
		b.dev.Close()
		active.Store(false)
		b.log.Info().Msg("capture stream stopped")
	}
	close(b.queue)
}

// Pause suspends delivery without releasing the hardware. Detections
// observed while paused are dropped, not queued.
func (b *Bridge) Pause() {
	if b.paused.CompareAndSwap(false, true) {
		b.log.Debug().Msg("capture stream paused")
	}
}

// Resume re-enables delivery after Pause.
func (b *Bridge) Resume() {
	if b.paused.CompareAndSwap(true, false) {
		b.log.Debug().Msg("capture stream resumed")
	}
}

// Paused reports whether delivery is currently suppressed.
func (b *Bridge) Paused() bool { return b.paused.Load() }

// onDetect runs on the device's delivery thread. It must never block: a full
// queue drops the observation (the next hardware frame will re-deliver a
// code still in view).
func (b *Bridge) onDetect(raw string) {
	if b.paused.Load() {
		detectionsSuppressed.Inc()
		return
	}

	code := domain.NormalizeCode(raw)
	if code == "" {
		detectionsDropped.Inc()
		return
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	select {
	case b.queue <- Detection{Code: code, ObservedAt: time.Now()}:
		detectionsDelivered.Inc()
	default:
		detectionsDropped.Inc()
	}
	b.mu.Unlock()
}

// onError runs on the device's delivery thread. Only the most recent fault
// matters to the session loop, so an unread previous fault is replaced.
func (b *Bridge) onError(err error) {
	b.log.Warn().Err(err).Msg("capture device fault")
	select {
	case b.errs <- err:
	default:
		select {
		case <-b.errs:
		default:
		}
		select {
		case b.errs <- err:
		default:
		}
	}
}
