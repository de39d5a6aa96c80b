// Package devicetrust issues device credentials, verifies signed device
// requests and records device heartbeats.
package devicetrust

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kiosk-device-backend/internal/model"
)

var (
	// ErrForbidden is returned for a wrong registration token.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict is returned when a caller-supplied device id is taken.
	ErrConflict = errors.New("device id already registered")
	// ErrNotFound is returned when a device vanished before its heartbeat was stored.
	ErrNotFound = errors.New("device not found")
	// ErrInvalidRequest is returned for missing required registration input.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnauthorized is the single outcome callers see for any failed
	// signature check. The wrapped reasons below exist for logs only.
	ErrUnauthorized = errors.New("unauthorized")

	ErrMalformedRequest  = fmt.Errorf("%w: malformed signature headers", ErrUnauthorized)
	ErrStaleTimestamp    = fmt.Errorf("%w: timestamp outside replay window", ErrUnauthorized)
	ErrUnknownDevice     = fmt.Errorf("%w: unknown device", ErrUnauthorized)
	ErrDeviceInactive    = fmt.Errorf("%w: device inactive", ErrUnauthorized)
	ErrSignatureMismatch = fmt.Errorf("%w: signature mismatch", ErrUnauthorized)
)

// DeviceStore is the persistence the trust layer depends on.
type DeviceStore interface {
	FindByDeviceID(ctx context.Context, deviceID string) (*model.Device, error)
	Create(ctx context.Context, device *model.Device) error
	AtomicUpdateHeartbeat(ctx context.Context, deviceID string, t model.Telemetry, seenAt time.Time) (*model.Device, error)
}

type deviceKey struct{}

// WithDevice returns a context carrying the verified device.
func WithDevice(ctx context.Context, d *model.Device) context.Context {
	return context.WithValue(ctx, deviceKey{}, d)
}

// DeviceFromContext returns the device attached by WithDevice, if any.
func DeviceFromContext(ctx context.Context) (*model.Device, bool) {
	d, ok := ctx.Value(deviceKey{}).(*model.Device)
	return d, ok && d != nil
}
