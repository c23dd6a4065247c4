// Package session implements the capture-session state machine: the single
// source of truth for session phase, driven by permission, stream, and
// lookup events.
//
// The transition logic is a pure function (Reduce) over a closed set of
// events, returning the next phase plus a list of effects for the runner to
// execute. Unhandled (phase, event) pairs are deliberate no-ops, which keeps
// the machine total and the runner free of defensive branching.
package session

import (
	"fmt"

	"github.com/clearmeat/go-scan-core/internal/capture"
	"github.com/clearmeat/go-scan-core/internal/lookup"
)

// PhaseKind enumerates the session phases.
type PhaseKind int

const (
	// PhaseIdle is the rest state; no hardware is held.
	PhaseIdle PhaseKind = iota
	// PhaseRequestingPermission means the gate is being resolved.
	PhaseRequestingPermission
	// PhasePreparing means the stream is being brought up.
	PhasePreparing
	// PhaseScanning means detections are flowing.
	PhaseScanning
	// PhaseProcessing means one code's lookup is active for presentation.
	// The stream keeps running underneath; Processing is a sub-state of the
	// scanning loop, not a terminal state.
	PhaseProcessing
	// PhaseError holds a surfaced failure; retryable errors schedule one
	// automatic re-prepare.
	PhaseError
)

// String returns a stable lower-case name for logging and API payloads.
func (k PhaseKind) String() string {
	switch k {
	case PhaseRequestingPermission:
		return "requesting_permission"
	case PhasePreparing:
		return "preparing"
	case PhaseScanning:
		return "scanning"
	case PhaseProcessing:
		return "processing"
	case PhaseError:
		return "error"
	default:
		return "idle"
	}
}

// Phase is the tagged session state. Exactly one is active at a time and
// only the runner mutates it. Code is set while Processing; Message and
// Retryable while in Error. RetryUsed tracks that the single automatic
// retry after a stream fault has been spent; it clears once the stream is
// healthy again.
type Phase struct {
	Kind      PhaseKind
	Code      string
	Message   string
	Retryable bool
	RetryUsed bool
}

// Event is the closed set of inputs the machine reduces over.
type Event interface{ isEvent() }

// StartRequested begins a session from Idle.
type StartRequested struct{}

// PermissionResolved carries the gate's resolution.
type PermissionResolved struct{ Status capture.Permission }

// StreamReady means the bridge delivered its channels and the hardware is
// live.
type StreamReady struct{}

// Detected carries one normalized code from the stream.
type Detected struct{ Code string }

// LookupSettled carries the outcome for the code that was Processing.
type LookupSettled struct {
	Code    string
	Outcome lookup.Outcome
}

// StreamFailed carries a hardware-level fault.
type StreamFailed struct{ Err error }

// RetryElapsed fires when the scheduled auto-retry delay passes.
type RetryElapsed struct{}

// SessionEnded tears the session down (view disappeared).
type SessionEnded struct{}

func (StartRequested) isEvent()     {}
func (PermissionResolved) isEvent() {}
func (StreamReady) isEvent()        {}
func (Detected) isEvent()           {}
func (LookupSettled) isEvent()      {}
func (StreamFailed) isEvent()       {}
func (RetryElapsed) isEvent()       {}
func (SessionEnded) isEvent()       {}

// Effect is the closed set of side effects the runner executes after a
// transition. Effects are returned, never performed, by Reduce.
type Effect interface{ isEffect() }

// RequestPermission asks the gate to resolve.
type RequestPermission struct{}

// StartStream brings up a fresh bridge.
type StartStream struct{}

// StopStream tears the bridge down and releases the hardware.
type StopStream struct{}

// BeginLookup starts (or joins) the lookup for a code.
type BeginLookup struct{ Code string }

// PublishResult delivers a settled outcome to the presentation adapter.
type PublishResult struct {
	Code    string
	Outcome lookup.Outcome
}

// ScheduleRetry arms the one-shot auto-retry timer.
type ScheduleRetry struct{}

// DetachWaiters drops this session's lookup waiters; in-flight remote calls
// keep running to populate the cache.
type DetachWaiters struct{}

func (RequestPermission) isEffect() {}
func (StartStream) isEffect()      {}
func (StopStream) isEffect()       {}
func (BeginLookup) isEffect()      {}
func (PublishResult) isEffect()    {}
func (ScheduleRetry) isEffect()    {}
func (DetachWaiters) isEffect()    {}

// Reduce maps (phase, event) to the next phase and its effects. It is total:
// any pair not covered below returns the phase unchanged with no effects.
func Reduce(p Phase, ev Event) (Phase, []Effect) {
	// Teardown wins from every phase.
	if _, ok := ev.(SessionEnded); ok {
		if p.Kind == PhaseIdle {
			return p, nil
		}
		return Phase{Kind: PhaseIdle}, []Effect{StopStream{}, DetachWaiters{}}
	}

	switch p.Kind {
	case PhaseIdle:
		if _, ok := ev.(StartRequested); ok {
			return Phase{Kind: PhaseRequestingPermission}, []Effect{RequestPermission{}}
		}

	case PhaseRequestingPermission:
		if e, ok := ev.(PermissionResolved); ok {
			if e.Status == capture.PermissionGranted {
				return Phase{Kind: PhasePreparing}, []Effect{StartStream{}}
			}
			// Terminal for this session; the user must grant access in the
			// system settings and start over.
			return Phase{
				Kind:    PhaseError,
				Message: fmt.Sprintf("capture permission %s", e.Status),
			}, nil
		}

	case PhasePreparing:
		switch e := ev.(type) {
		case StreamReady:
			return Phase{Kind: PhaseScanning}, nil
		case StreamFailed:
			return failStream(p, e)
		}

	case PhaseScanning:
		switch e := ev.(type) {
		case Detected:
			return Phase{Kind: PhaseProcessing, Code: e.Code}, []Effect{BeginLookup{Code: e.Code}}
		case StreamFailed:
			return failStream(p, e)
		}

	case PhaseProcessing:
		switch e := ev.(type) {
		case LookupSettled:
			// A settle for a code no longer Processing is stale; ignore it.
			if e.Code != p.Code {
				return p, nil
			}
			return Phase{Kind: PhaseScanning}, []Effect{PublishResult{Code: e.Code, Outcome: e.Outcome}}
		case StreamFailed:
			return failStream(p, e)
		}

	case PhaseError:
		if _, ok := ev.(RetryElapsed); ok && p.Retryable {
			return Phase{Kind: PhasePreparing, RetryUsed: true}, []Effect{StartStream{}}
		}
	}

	return p, nil
}

// failStream maps a hardware fault onto the Error phase. The first fault of
// a session schedules one automatic re-prepare; a fault during or after the
// retry is terminal until the user starts over.
func failStream(p Phase, e StreamFailed) (Phase, []Effect) {
	next := Phase{
		Kind:      PhaseError,
		Message:   e.Err.Error(),
		Retryable: !p.RetryUsed,
		RetryUsed: p.RetryUsed,
	}
	effects := []Effect{StopStream{}}
	if next.Retryable {
		effects = append(effects, ScheduleRetry{})
	}
	return next, effects
}
