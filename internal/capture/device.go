package capture

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotOpen is returned when a detection is injected into a closed device.
var ErrNotOpen = errors.New("device not open")

// Detection is one observed barcode, produced by the bridge and consumed
// exactly once by the session loop.
type Detection struct {
	Code       string
	ObservedAt time.Time
}

// Device is the hardware capture capability. Implementations deliver decoded
// barcodes through the onDetect callback and hardware-level faults through
// onError, from whatever thread the platform runs them on. The bridge is the
// only caller.
type Device interface {
	// RequestAccess resolves the capture permission, prompting if the
	// platform requires it. It never fails; denial is a status, not an error.
	RequestAccess(ctx context.Context) Permission

	// Open acquires the hardware and begins delivering callbacks. The device
	// is exclusive: a second Open before Close returns an error.
	Open(onDetect func(code string), onError func(err error)) error

	// Close stops callback delivery and releases the hardware. Idempotent.
	Close()
}

// ManualDevice is a Device fed by explicit Inject calls instead of real
// hardware. It backs the detection endpoint of the HTTP surface and is the
// device of choice in development and tests; a real scanner integration
// implements Device against the platform SDK and drops in unchanged.
type ManualDevice struct {
	mu         sync.Mutex
	permission Permission
	open       bool
	onDetect   func(code string)
	onError    func(err error)
}

// NewManualDevice returns a device that grants permission on request.
func NewManualDevice() *ManualDevice {
	return &ManualDevice{permission: PermissionGranted}
}

// NewManualDeviceWithPermission returns a device that resolves to the given
// status. Used to exercise the denied/restricted session paths.
func NewManualDeviceWithPermission(p Permission) *ManualDevice {
	return &ManualDevice{permission: p}
}

// RequestAccess implements Device.
func (d *ManualDevice) RequestAccess(ctx context.Context) Permission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.permission
}

// Open implements Device.
func (d *ManualDevice) Open(onDetect func(code string), onError func(err error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return errors.New("device already open")
	}
	d.open = true
	d.onDetect = onDetect
	d.onError = onError
	return nil
}

// Close implements Device.
func (d *ManualDevice) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	d.onDetect = nil
	d.onError = nil
}

// Inject delivers a barcode observation as if the hardware had decoded it.
func (d *ManualDevice) Inject(code string) error {
	d.mu.Lock()
	fn := d.onDetect
	d.mu.Unlock()
	if fn == nil {
		return ErrNotOpen
	}
	fn(code)
	return nil
}

// Fail delivers a hardware-level fault (e.g. device busy).
func (d *ManualDevice) Fail(err error) {
	d.mu.Lock()
	fn := d.onError
	d.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
