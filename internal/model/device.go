package model

import "time"

// LifecycleStatus is the administrative activation state of a device.
type LifecycleStatus string

const (
	LifecycleDisabled LifecycleStatus = "DISABLED"
	LifecycleActive   LifecycleStatus = "ACTIVE"
)

// OperationalStatus is the health a device reports about itself.
type OperationalStatus string

const (
	StatusOK      OperationalStatus = "OK"
	StatusWarn    OperationalStatus = "WARN"
	StatusError   OperationalStatus = "ERROR"
	StatusBooting OperationalStatus = "BOOTING"
)

// OperationalStatuses lists every status a heartbeat may carry.
var OperationalStatuses = []OperationalStatus{StatusOK, StatusWarn, StatusError, StatusBooting}

// Device is the authenticated identity of a field unit.
type Device struct {
	ID              int64           `gorm:"primaryKey" json:"-"`
	DeviceID        string          `gorm:"uniqueIndex;size:64;not null" json:"device_id"`
	SecretKey       string          `gorm:"size:128;not null" json:"-"`
	EstablishmentID string          `gorm:"index;size:64;not null" json:"establishment_id"`
	Active          bool            `gorm:"not null" json:"active"`
	LifecycleStatus LifecycleStatus `gorm:"size:16;not null" json:"status"`

	// Telemetry of the most recent verified heartbeat.
	LastStatus     *OperationalStatus `gorm:"size:16" json:"last_status"`
	LastSeenAt     *time.Time         `gorm:"index" json:"last_seen"`
	LastUptimeMs   *int64             `json:"last_uptime_ms"`
	LastFwVersion  *string            `gorm:"size:64" json:"last_fw_version"`
	LastFreeHeap   *int64             `json:"last_free_heap"`
	LastIP         *string            `gorm:"column:last_ip;size:64" json:"last_ip"`
	HeartbeatCount int64              `gorm:"not null" json:"heartbeat_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Telemetry is the validated content of one heartbeat.
type Telemetry struct {
	UptimeMs  int64
	FwVersion string
	FreeHeap  *int64
	Status    OperationalStatus
	IP        *string
}
