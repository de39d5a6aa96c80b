package devicetrust

import (
	"context"
	"sync"
	"time"

	"kiosk-device-backend/internal/model"
	"kiosk-device-backend/internal/store"
)

// memoryStore is an in-process DeviceStore for tests.
type memoryStore struct {
	mu      sync.Mutex
	devices map[string]model.Device

	creates int
	updates int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{devices: make(map[string]model.Device)}
}

func (s *memoryStore) FindByDeviceID(ctx context.Context, deviceID string) (*model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return nil, store.ErrDeviceNotFound
	}
	return &d, nil
}

func (s *memoryStore) Create(ctx context.Context, device *model.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[device.DeviceID]; ok {
		return store.ErrDeviceExists
	}
	s.creates++
	device.ID = int64(len(s.devices) + 1)
	s.devices[device.DeviceID] = *device
	return nil
}

func (s *memoryStore) AtomicUpdateHeartbeat(ctx context.Context, deviceID string, t model.Telemetry, seenAt time.Time) (*model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return nil, store.ErrDeviceNotFound
	}
	s.updates++
	status := t.Status
	fw := t.FwVersion
	uptime := t.UptimeMs
	d.LastStatus = &status
	d.LastFwVersion = &fw
	d.LastUptimeMs = &uptime
	d.LastFreeHeap = t.FreeHeap
	d.LastIP = t.IP
	d.LastSeenAt = &seenAt
	d.HeartbeatCount++
	s.devices[deviceID] = d
	return &d, nil
}

func (s *memoryStore) put(d model.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.DeviceID] = d
}
