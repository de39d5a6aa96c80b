package model

import "time"

// PushSubscription is an operator's browser push subscription for the device
// alerts of one establishment.
type PushSubscription struct {
	Endpoint        string    `gorm:"primaryKey"`
	P256DH          string    `gorm:"column:p256dh;not null"`
	Auth            string    `gorm:"not null"`
	EstablishmentID string    `gorm:"index;size:64;not null"`
	CreatedAt       time.Time `gorm:"not null"`
}
