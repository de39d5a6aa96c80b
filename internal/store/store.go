package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kiosk-device-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	FindByDeviceID(ctx context.Context, deviceID string) (*model.Device, error)
	Create(ctx context.Context, device *model.Device) error
	AtomicUpdateHeartbeat(ctx context.Context, deviceID string, t model.Telemetry, seenAt time.Time) (*model.Device, error)
	ListByEstablishment(ctx context.Context, establishmentID string) ([]model.Device, error)
	ListSilent(ctx context.Context, before time.Time) ([]model.Device, error)

	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	FindSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	SubscriptionsForEstablishment(ctx context.Context, establishmentID string) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// FindByDeviceID loads a device by its public identifier.
func (s *gormStore) FindByDeviceID(ctx context.Context, deviceID string) (*model.Device, error) {
	var device model.Device
	err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load device %q: %w", deviceID, err)
	}
	return &device, nil
}

// Create persists a new device. The existence check and the insert share a
// transaction; the unique index catches whatever races past the check.
func (s *gormStore) Create(ctx context.Context, device *model.Device) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Device{}).Where("device_id = ?", device.DeviceID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check device %q: %w", device.DeviceID, err)
		}
		if count > 0 {
			return ErrDeviceExists
		}
		if err := tx.Create(device).Error; err != nil {
			if isDuplicateKey(err) {
				return ErrDeviceExists
			}
			return fmt.Errorf("failed to create device %q: %w", device.DeviceID, err)
		}
		return nil
	})
}

// isDuplicateKey recognises unique violations from every supported driver.
// gorm translates postgres errors; the sqlite driver has no translator.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// AtomicUpdateHeartbeat overwrites the telemetry columns and increments the
// heartbeat counter in one UPDATE, then reads the row back in the same
// transaction so the returned counter is the one this call produced.
func (s *gormStore) AtomicUpdateHeartbeat(ctx context.Context, deviceID string, t model.Telemetry, seenAt time.Time) (*model.Device, error) {
	var updated model.Device
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Device{}).
			Where("device_id = ?", deviceID).
			Updates(map[string]any{
				"heartbeat_count": gorm.Expr("heartbeat_count + ?", 1),
				"last_seen_at":    seenAt,
				"last_uptime_ms":  t.UptimeMs,
				"last_fw_version": t.FwVersion,
				"last_free_heap":  t.FreeHeap,
				"last_status":     string(t.Status),
				"last_ip":         t.IP,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to record heartbeat for device %q: %w", deviceID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrDeviceNotFound
		}
		if err := tx.Where("device_id = ?", deviceID).First(&updated).Error; err != nil {
			return fmt.Errorf("failed to reload device %q: %w", deviceID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ListByEstablishment returns every device owned by an establishment.
func (s *gormStore) ListByEstablishment(ctx context.Context, establishmentID string) ([]model.Device, error) {
	var devices []model.Device
	if err := s.db.WithContext(ctx).
		Where("establishment_id = ?", establishmentID).
		Order("device_id").
		Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices for establishment %q: %w", establishmentID, err)
	}
	return devices, nil
}

// ListSilent returns active devices that have reported at least once but not
// since before.
func (s *gormStore) ListSilent(ctx context.Context, before time.Time) ([]model.Device, error) {
	var devices []model.Device
	if err := s.db.WithContext(ctx).
		Where("active = ? AND last_seen_at IS NOT NULL AND last_seen_at < ?", true, before).
		Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to list silent devices: %w", err)
	}
	return devices, nil
}

// UpsertSubscription creates a subscription or replaces its keys and scope.
func (s *gormStore) UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "establishment_id"}),
	}).Create(sub).Error; err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// FindSubscription loads a subscription by endpoint.
func (s *gormStore) FindSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.db.WithContext(ctx).First(&sub, "endpoint = ?", endpoint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &sub, nil
}

// SubscriptionsForEstablishment returns the alert subscribers of an establishment.
func (s *gormStore) SubscriptionsForEstablishment(ctx context.Context, establishmentID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).
		Where("establishment_id = ?", establishmentID).
		Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to load subscriptions for establishment %q: %w", establishmentID, err)
	}
	return subs, nil
}

// DeleteSubscription removes a subscription; deleting a missing one is not an error.
func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error; err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}
