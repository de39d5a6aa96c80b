package store

import "errors"

var (
	// ErrDeviceNotFound is returned when no device row matches the identifier.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrDeviceExists is returned by Create when the identifier is taken.
	ErrDeviceExists = errors.New("device already exists")
	// ErrSubscriptionNotFound is returned when no push subscription matches.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)
