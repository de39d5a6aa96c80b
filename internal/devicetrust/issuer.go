package devicetrust

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"kiosk-device-backend/internal/model"
	"kiosk-device-backend/internal/store"
)

const (
	secretBytes = 32
	// maxIDAttempts bounds regeneration of colliding generated device ids.
	maxIDAttempts = 5
)

// Issuer turns registration requests into persisted devices with fresh credentials.
type Issuer struct {
	store     DeviceStore
	tokenHash [sha256.Size]byte
	hasToken  bool

	newDeviceID func() string
	newSecret   func() (string, error)
}

// NewIssuer creates an issuer that accepts registrationToken. An empty token
// makes every registration fail with ErrForbidden.
func NewIssuer(s DeviceStore, registrationToken string) *Issuer {
	return &Issuer{
		store:       s,
		tokenHash:   sha256.Sum256([]byte(registrationToken)),
		hasToken:    registrationToken != "",
		newDeviceID: uuid.NewString,
		newSecret:   randomSecret,
	}
}

// Register validates the registration token and creates a device. When
// deviceID is empty a random one is generated. The returned device carries
// the secret; it is never retrievable through the issuer again.
func (i *Issuer) Register(ctx context.Context, registrationToken, establishmentID, deviceID string) (*model.Device, error) {
	if err := i.CheckToken(registrationToken); err != nil {
		return nil, err
	}

	establishmentID = strings.TrimSpace(establishmentID)
	if establishmentID == "" {
		return nil, fmt.Errorf("%w: establishment_id is required", ErrInvalidRequest)
	}
	deviceID = strings.TrimSpace(deviceID)
	generated := deviceID == ""

	secret, err := i.newSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate device secret: %w", err)
	}

	for attempt := 1; ; attempt++ {
		if generated {
			deviceID = i.newDeviceID()
		}

		device := &model.Device{
			DeviceID:        deviceID,
			SecretKey:       secret,
			EstablishmentID: establishmentID,
			Active:          true,
			LifecycleStatus: model.LifecycleDisabled,
		}

		err := i.store.Create(ctx, device)
		switch {
		case err == nil:
			log.Info().
				Str("device_id", device.DeviceID).
				Str("establishment_id", establishmentID).
				Bool("generated_id", generated).
				Msg("device registered")
			return device, nil
		case !errors.Is(err, store.ErrDeviceExists):
			return nil, err
		case !generated:
			return nil, ErrConflict
		case attempt >= maxIDAttempts:
			return nil, fmt.Errorf("could not generate a unique device id after %d attempts", attempt)
		}
		log.Warn().Str("device_id", deviceID).Msg("generated device id collided; regenerating")
	}
}

// CheckToken returns ErrForbidden unless token is the configured
// registration token. Handlers call it before looking at the body.
func (i *Issuer) CheckToken(token string) error {
	if !i.tokenMatches(token) {
		return ErrForbidden
	}
	return nil
}

// tokenMatches compares digests so neither content nor length of the
// configured token leaks through timing.
func (i *Issuer) tokenMatches(token string) bool {
	got := sha256.Sum256([]byte(token))
	eq := subtle.ConstantTimeCompare(got[:], i.tokenHash[:]) == 1
	return eq && i.hasToken
}

func randomSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
