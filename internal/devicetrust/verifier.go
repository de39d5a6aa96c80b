package devicetrust

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"kiosk-device-backend/internal/model"
	"kiosk-device-backend/internal/store"
)

// DefaultReplayWindow is the freshness window used when none is configured.
const DefaultReplayWindow = 5 * time.Minute

// SignedRequest carries the parts of an HTTP request covered by a device signature.
type SignedRequest struct {
	DeviceID  string
	Timestamp string // epoch milliseconds, as sent
	Method    string
	Path      string
	Body      []byte
	Signature string // hex
}

// Verifier authenticates signed device requests.
type Verifier struct {
	store  DeviceStore
	window time.Duration
}

// NewVerifier creates a verifier with the given replay window.
func NewVerifier(s DeviceStore, window time.Duration) *Verifier {
	if window <= 0 {
		window = DefaultReplayWindow
	}
	return &Verifier{store: s, window: window}
}

// Window returns the replay window in effect.
func (v *Verifier) Window() time.Duration {
	return v.window
}

// Verify checks that req was signed by the holder of the device's secret
// within the replay window around now. Every rejection wraps ErrUnauthorized;
// store failures are returned as-is. Verify never writes.
func (v *Verifier) Verify(ctx context.Context, req SignedRequest, now time.Time) (*model.Device, error) {
	if req.DeviceID == "" || req.Timestamp == "" || req.Signature == "" {
		return nil, ErrMalformedRequest
	}

	ms, err := strconv.ParseInt(req.Timestamp, 10, 64)
	if err != nil || ms < 0 {
		return nil, ErrMalformedRequest
	}
	// Millisecond integers: a Duration saturates for timestamps centuries away.
	nowMs, windowMs := now.UnixMilli(), v.window.Milliseconds()
	if ms > nowMs+windowMs || ms < nowMs-windowMs {
		return nil, ErrStaleTimestamp
	}

	device, err := v.store.FindByDeviceID(ctx, req.DeviceID)
	if errors.Is(err, store.ErrDeviceNotFound) {
		return nil, ErrUnknownDevice
	}
	if err != nil {
		return nil, fmt.Errorf("signature verification lookup: %w", err)
	}
	if !device.Active {
		return nil, ErrDeviceInactive
	}

	canonical := CanonicalString(req.DeviceID, req.Timestamp, req.Method, req.Path, req.Body)
	if !checkSignature(device.SecretKey, canonical, req.Signature) {
		return nil, ErrSignatureMismatch
	}
	return device, nil
}
