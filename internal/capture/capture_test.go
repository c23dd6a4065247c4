package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// countingDevice tracks RequestAccess calls to verify the gate caches its
// resolution.
type countingDevice struct {
	*ManualDevice
	requests int
}

func (d *countingDevice) RequestAccess(ctx context.Context) Permission {
	d.requests++
	return d.ManualDevice.RequestAccess(ctx)
}

func TestGateCachesFirstResolution(t *testing.T) {
	dev := &countingDevice{ManualDevice: NewManualDevice()}
	g := NewGate(dev)

	if got := g.Status(); got != PermissionNotRequested {
		t.Fatalf("Status before Request = %v, want not_requested", got)
	}

	ctx := context.Background()
	if got := g.Request(ctx); got != PermissionGranted {
		t.Fatalf("Request = %v, want granted", got)
	}
	if got := g.Request(ctx); got != PermissionGranted {
		t.Fatalf("second Request = %v, want granted", got)
	}
	if dev.requests != 1 {
		t.Fatalf("device prompted %d times, want 1", dev.requests)
	}
	if got := g.Status(); got != PermissionGranted {
		t.Fatalf("Status after Request = %v, want granted", got)
	}
}

func TestGateDeniedIsCachedToo(t *testing.T) {
	dev := &countingDevice{ManualDevice: NewManualDeviceWithPermission(PermissionDenied)}
	g := NewGate(dev)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if got := g.Request(ctx); got != PermissionDenied {
			t.Fatalf("Request #%d = %v, want denied", i, got)
		}
	}
	if dev.requests != 1 {
		t.Fatalf("device prompted %d times, want 1", dev.requests)
	}
}

func TestPermissionString(t *testing.T) {
	cases := map[Permission]string{
		PermissionNotRequested: "not_requested",
		PermissionGranted:      "granted",
		PermissionDenied:       "denied",
		PermissionRestricted:   "restricted",
	}
	for p, want := range cases {
		if got := p.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(p), got, want)
		}
	}
}

func newTestBridge(t *testing.T, dev Device, queueSize int) *Bridge {
	t.Helper()
	b := NewBridge(dev, queueSize, zerolog.Nop())
	t.Cleanup(b.Stop)
	return b
}

func TestBridgeDeliversNormalizedDetections(t *testing.T) {
	dev := NewManualDevice()
	b := newTestBridge(t, dev, 4)

	detections, _, err := b.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := dev.Inject(" 0002 0000 03197 "); err != nil {
		t.Fatalf("Inject: %v", err)
	}

	select {
	case d := <-detections:
		if d.Code != "0002000003197" {
			t.Fatalf("Code = %q, want normalized", d.Code)
		}
		if d.ObservedAt.IsZero() {
			t.Fatal("ObservedAt not set")
		}
	case <-time.After(time.Second):
		t.Fatal("no detection delivered")
	}
}

func TestBridgeDropsEmptyCodes(t *testing.T) {
	dev := NewManualDevice()
	b := newTestBridge(t, dev, 4)

	detections, _, err := b.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := dev.Inject("  --  "); err != nil {
		t.Fatalf("Inject: %v", err)
	}

	select {
	case d := <-detections:
		t.Fatalf("unexpected detection %+v for empty-after-normalization code", d)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBridgePauseSuppressesResumeRestores(t *testing.T) {
	dev := NewManualDevice()
	b := newTestBridge(t, dev, 4)

	detections, _, err := b.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	b.Pause()
	if !b.Paused() {
		t.Fatal("Paused() = false after Pause")
	}
	if err := dev.Inject("111"); err != nil {
		t.Fatalf("Inject while paused: %v", err)
	}

	b.Resume()
	if b.Paused() {
		t.Fatal("Paused() = true after Resume")
	}
	if err := dev.Inject("222"); err != nil {
		t.Fatalf("Inject after resume: %v", err)
	}

	// Only the post-resume detection arrives; the paused one was dropped,
	// not queued.
	select {
	case d := <-detections:
		if d.Code != "222" {
			t.Fatalf("Code = %q, want the post-resume detection only", d.Code)
		}
	case <-time.After(time.Second):
		t.Fatal("post-resume detection not delivered")
	}
	select {
	case d := <-detections:
		t.Fatalf("unexpected second detection %+v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBridgeFullQueueDropsNewest(t *testing.T) {
	dev := NewManualDevice()
	b := newTestBridge(t, dev, 1)

	detections, _, err := b.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Nobody is reading: the first fills the queue, the second is dropped.
	if err := dev.Inject("first"); err != nil {
		t.Fatalf("Inject first: %v", err)
	}
	if err := dev.Inject("second"); err != nil {
		t.Fatalf("Inject second: %v", err)
	}

	d := <-detections
	if d.Code != "first" {
		t.Fatalf("Code = %q, want first", d.Code)
	}
	select {
	case d := <-detections:
		t.Fatalf("unexpected queued detection %+v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBridgeStopClosesChannelAndIsIdempotent(t *testing.T) {
	dev := NewManualDevice()
	b := newTestBridge(t, dev, 4)

	detections, _, err := b.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	b.Stop()
	b.Stop() // second Stop must not panic

	if _, open := <-detections; open {
		t.Fatal("detection channel still open after Stop")
	}

	// The device released its callbacks; injecting now fails.
	if err := dev.Inject("123"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Inject after Stop: err = %v, want ErrNotOpen", err)
	}
}

func TestBridgeIsSingleUse(t *testing.T) {
	dev := NewManualDevice()
	b := newTestBridge(t, dev, 4)

	if _, _, err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, _, err := b.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start: err = %v, want ErrAlreadyStarted", err)
	}
}

func TestBridgeExclusivity(t *testing.T) {
	dev1 := NewManualDevice()
	dev2 := NewManualDevice()
	b1 := newTestBridge(t, dev1, 4)
	b2 := newTestBridge(t, dev2, 4)

	if _, _, err := b1.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if _, _, err := b2.Start(); !errors.Is(err, ErrBridgeActive) {
		t.Fatalf("concurrent Start: err = %v, want ErrBridgeActive", err)
	}

	// Releasing the hardware lets a fresh bridge acquire it.
	b1.Stop()
	b3 := newTestBridge(t, NewManualDevice(), 4)
	if _, _, err := b3.Start(); err != nil {
		t.Fatalf("Start after release: %v", err)
	}
}

func TestBridgeFaultChannelKeepsLatest(t *testing.T) {
	dev := NewManualDevice()
	b := newTestBridge(t, dev, 4)

	_, faults, err := b.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	first := errors.New("device busy")
	second := errors.New("device disconnected")
	dev.Fail(first)
	dev.Fail(second) // replaces the unread first fault

	select {
	case err := <-faults:
		if err != second {
			t.Fatalf("fault = %v, want the latest", err)
		}
	case <-time.After(time.Second):
		t.Fatal("no fault delivered")
	}
}

func TestManualDeviceOpenIsExclusive(t *testing.T) {
	dev := NewManualDevice()
	if err := dev.Open(func(string) {}, func(error) {}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := dev.Open(func(string) {}, func(error) {}); err == nil {
		t.Fatal("second Open succeeded, want error")
	}
	dev.Close()
	dev.Close() // idempotent
	if err := dev.Open(func(string) {}, func(error) {}); err != nil {
		t.Fatalf("Open after Close: %v", err)
	}
	dev.Close()
}
