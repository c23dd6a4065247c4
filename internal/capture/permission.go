// Package capture adapts a callback-driven capture device into the
// channel-based detection stream the session loop consumes. It owns the
// permission gate, the device contract, and the stream bridge with its
// pause/resume gating and process-wide exclusivity.
package capture

import (
	"context"
	"sync"
)

// Permission is the resolved capture-permission state for this process run.
type Permission int

const (
	// PermissionNotRequested means the gate has not been asked yet.
	PermissionNotRequested Permission = iota
	// PermissionGranted allows the bridge to open the device.
	PermissionGranted
	// PermissionDenied means the user refused access; terminal for the run.
	PermissionDenied
	// PermissionRestricted means policy forbids access regardless of the user.
	PermissionRestricted
)

// String returns a stable lower-case name for logging and API payloads.
func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	case PermissionRestricted:
		return "restricted"
	default:
		return "not_requested"
	}
}

// Gate queries and caches the device's capture permission. The first Request
// resolves against the device (which may show a platform prompt); every later
// call returns the cached resolution without re-prompting. Request never
// fails: every call resolves to one of the four Permission values.
type Gate struct {
	mu       sync.Mutex
	dev      Device
	resolved bool
	status   Permission
}

// NewGate returns a gate over dev with no resolution yet.
func NewGate(dev Device) *Gate {
	return &Gate{dev: dev}
}

// Request resolves (or returns the cached) permission status.
func (g *Gate) Request(ctx context.Context) Permission {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resolved {
		return g.status
	}
	g.status = g.dev.RequestAccess(ctx)
	g.resolved = true
	return g.status
}

// Status returns the current resolution without triggering a prompt.
func (g *Gate) Status() Permission {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.resolved {
		return PermissionNotRequested
	}
	return g.status
}
