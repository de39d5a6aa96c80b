package devicetrust

import (
	"context"
	"errors"
	"time"

	"kiosk-device-backend/internal/model"
	"kiosk-device-backend/internal/store"
)

// Ingestor applies verified, validated heartbeats to device records.
type Ingestor struct {
	store DeviceStore
	now   func() time.Time
}

// NewIngestor creates a heartbeat ingestor.
func NewIngestor(s DeviceStore) *Ingestor {
	return &Ingestor{
		store: s,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// RecordHeartbeat stores t as the device's latest telemetry and bumps its
// heartbeat counter by one in a single store operation.
func (i *Ingestor) RecordHeartbeat(ctx context.Context, deviceID string, t model.Telemetry) (*model.Device, error) {
	device, err := i.store.AtomicUpdateHeartbeat(ctx, deviceID, t, i.now())
	if errors.Is(err, store.ErrDeviceNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return device, nil
}
