package session

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/clearmeat/go-scan-core/internal/capture"
	"github.com/clearmeat/go-scan-core/internal/lookup"
)

var phaseTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "session_phase_transitions_total",
		Help: "Session phase transitions by (from, to).",
	},
	[]string{"from", "to"},
)

func init() {
	prometheus.MustRegister(phaseTransitions)
}

// Presenter is the presentation adapter contract: it receives phase changes
// and settled lookup outcomes, and calls Pause/Resume on the runner when it
// opens or closes a detail view. Implementations must not block; both
// callbacks run on the session loop goroutine.
type Presenter interface {
	PhaseChanged(p Phase)
	ResultReady(code string, o lookup.Outcome)
}

// NopPresenter discards all notifications. Useful in tests and when the only
// consumer is the HTTP surface polling Phase().
type NopPresenter struct{}

// PhaseChanged implements Presenter.
func (NopPresenter) PhaseChanged(Phase) {}

// ResultReady implements Presenter.
func (NopPresenter) ResultReady(string, lookup.Outcome) {}

// BridgeFactory builds a fresh bridge per stream start. Bridges are
// single-use: every (re)prepare constructs a new one over the same device.
type BridgeFactory func() *capture.Bridge

// Runner owns the session event loop. A single goroutine (Run) consumes
// external commands, stream detections, and stream faults, reduces them
// through the pure machine, and executes the resulting effects. All other
// methods only post events or read a snapshot; the loop goroutine is the
// only writer of session state.
type Runner struct {
	gate       *capture.Gate
	newBridge  BridgeFactory
	coord      *lookup.Coordinator
	presenter  Presenter
	retryDelay time.Duration
	log        zerolog.Logger

	events chan Event

	// mu guards phase and bridge, the two fields read outside the loop.
	mu         sync.Mutex
	phase      Phase
	bridge     *capture.Bridge
	detections <-chan capture.Detection
	faults     <-chan error

	sessCtx    context.Context
	sessCancel context.CancelFunc
}

// NewRunner wires a runner. The presenter may be NopPresenter{}.
func NewRunner(gate *capture.Gate, newBridge BridgeFactory, coord *lookup.Coordinator, presenter Presenter, retryDelay time.Duration, log zerolog.Logger) *Runner {
	return &Runner{
		gate:       gate,
		newBridge:  newBridge,
		coord:      coord,
		presenter:  presenter,
		retryDelay: retryDelay,
		log:        log.With().Str("component", "session").Logger(),
		events:     make(chan Event, 32),
		phase:      Phase{Kind: PhaseIdle},
	}
}

// Run executes the session loop until ctx is cancelled. It must be called
// exactly once, typically as `go runner.Run(ctx)`.
func (r *Runner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.teardown()
			return

		case ev := <-r.events:
			r.dispatch(ctx, ev)

		case d, ok := <-r.detections:
			if !ok {
				// Bridge closed its channel; Stop owns the transition.
				r.setStream(nil, nil, nil)
				continue
			}
			r.dispatch(ctx, Detected{Code: d.Code})

		case err := <-r.faults:
			r.dispatch(ctx, StreamFailed{Err: err})
		}
	}
}

// Start begins a session (no-op unless Idle).
func (r *Runner) Start(ctx context.Context) { r.post(ctx, StartRequested{}) }

// End tears the session down from any phase.
func (r *Runner) End(ctx context.Context) { r.post(ctx, SessionEnded{}) }

// Pause suppresses detection delivery while a result is on screen.
func (r *Runner) Pause() {
	r.mu.Lock()
	b := r.bridge
	r.mu.Unlock()
	if b != nil {
		b.Pause()
	}
}

// Resume re-enables detection delivery.
func (r *Runner) Resume() {
	r.mu.Lock()
	b := r.bridge
	r.mu.Unlock()
	if b != nil {
		b.Resume()
	}
}

// Paused reports whether detection delivery is currently suppressed.
func (r *Runner) Paused() bool {
	r.mu.Lock()
	b := r.bridge
	r.mu.Unlock()
	return b != nil && b.Paused()
}

// Phase returns a snapshot of the current phase.
func (r *Runner) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// post delivers an event to the loop without blocking past ctx.
func (r *Runner) post(ctx context.Context, ev Event) {
	select {
	case r.events <- ev:
	case <-ctx.Done():
	}
}

// dispatch reduces one event and executes its effects. Loop goroutine only.
func (r *Runner) dispatch(ctx context.Context, ev Event) {
	prev := r.phase
	next, effects := Reduce(prev, ev)

	if next != prev {
		r.mu.Lock()
		r.phase = next
		r.mu.Unlock()

		phaseTransitions.WithLabelValues(prev.Kind.String(), next.Kind.String()).Inc()
		r.log.Info().
			Str("from", prev.Kind.String()).
			Str("to", next.Kind.String()).
			Str("code", next.Code).
			Msg("phase change")
		r.presenter.PhaseChanged(next)
	}

	for _, eff := range effects {
		r.apply(ctx, eff)
	}
}

// apply executes one effect. Loop goroutine only.
func (r *Runner) apply(ctx context.Context, eff Effect) {
	switch e := eff.(type) {
	case RequestPermission:
		if r.sessCtx == nil {
			r.sessCtx, r.sessCancel = context.WithCancel(context.Background())
		}
		go func() {
			status := r.gate.Request(ctx)
			r.post(ctx, PermissionResolved{Status: status})
		}()

	case StartStream:
		b := r.newBridge()
		det, faults, err := b.Start()
		if err != nil {
			r.dispatch(ctx, StreamFailed{Err: err})
			return
		}
		r.setStream(b, det, faults)
		r.dispatch(ctx, StreamReady{})

	case StopStream:
		r.mu.Lock()
		b := r.bridge
		r.mu.Unlock()
		if b != nil {
			b.Stop()
			r.setStream(nil, nil, nil)
		}

	case DetachWaiters:
		if r.sessCancel != nil {
			r.sessCancel()
			r.sessCtx, r.sessCancel = nil, nil
		}

	case BeginLookup:
		sessCtx := r.sessCtx
		if sessCtx == nil {
			sessCtx = ctx
		}
		go func() {
			o := r.coord.Lookup(sessCtx, e.Code)
			r.post(ctx, LookupSettled{Code: e.Code, Outcome: o})
		}()

	case PublishResult:
		r.presenter.ResultReady(e.Code, e.Outcome)

	case ScheduleRetry:
		time.AfterFunc(r.retryDelay, func() {
			r.post(ctx, RetryElapsed{})
		})
	}
}

// setStream swaps the bridge and its channels. Loop goroutine only; the
// mutex covers the Pause/Resume readers.
func (r *Runner) setStream(b *capture.Bridge, det <-chan capture.Detection, faults <-chan error) {
	r.mu.Lock()
	r.bridge = b
	r.mu.Unlock()
	r.detections = det
	r.faults = faults
}

// teardown releases resources when Run exits.
func (r *Runner) teardown() {
	r.mu.Lock()
	b := r.bridge
	r.mu.Unlock()
	if b != nil {
		b.Stop()
	}
	if r.sessCancel != nil {
		r.sessCancel()
	}
}
