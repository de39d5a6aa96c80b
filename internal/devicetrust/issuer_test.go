package devicetrust

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiosk-device-backend/internal/model"
)

func TestIssuer_Register(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore()
	issuer := NewIssuer(s, "reg-token-test")

	device, err := issuer.Register(ctx, "reg-token-test", "est-auto-1", "")
	require.NoError(t, err)

	assert.NotEmpty(t, device.DeviceID)
	assert.Len(t, device.SecretKey, 64, "secret should be 32 random bytes, hex encoded")
	assert.Equal(t, "est-auto-1", device.EstablishmentID)
	assert.True(t, device.Active)
	assert.Equal(t, model.LifecycleDisabled, device.LifecycleStatus)
	assert.Nil(t, device.LastSeenAt)
	assert.Zero(t, device.HeartbeatCount)

	stored, err := s.FindByDeviceID(ctx, device.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, model.LifecycleDisabled, stored.LifecycleStatus)

	other, err := issuer.Register(ctx, "reg-token-test", "est-auto-1", "")
	require.NoError(t, err)
	assert.NotEqual(t, device.DeviceID, other.DeviceID)
	assert.NotEqual(t, device.SecretKey, other.SecretKey)
}

func TestIssuer_RegisterRejections(t *testing.T) {
	testCases := []struct {
		name          string
		configured    string
		token         string
		establishment string
		deviceID      string
		expectedErr   error
	}{
		{name: "wrong token", configured: "reg-token-test", token: "wrong-token", establishment: "est-auto-1", expectedErr: ErrForbidden},
		{name: "token prefix", configured: "reg-token-test", token: "reg-token", establishment: "est-auto-1", expectedErr: ErrForbidden},
		{name: "empty token", configured: "reg-token-test", token: "", establishment: "est-auto-1", expectedErr: ErrForbidden},
		{name: "nothing configured", configured: "", token: "", establishment: "est-auto-1", expectedErr: ErrForbidden},
		{name: "bad token wins over bad body", configured: "reg-token-test", token: "nope", establishment: "", expectedErr: ErrForbidden},
		{name: "missing establishment", configured: "reg-token-test", token: "reg-token-test", establishment: "  ", expectedErr: ErrInvalidRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := newMemoryStore()
			issuer := NewIssuer(s, tc.configured)

			device, err := issuer.Register(context.Background(), tc.token, tc.establishment, tc.deviceID)
			assert.ErrorIs(t, err, tc.expectedErr)
			assert.Nil(t, device)
			assert.Zero(t, s.creates, "a rejected registration must not create a device")
		})
	}
}

func TestIssuer_CallerSuppliedID(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore()
	issuer := NewIssuer(s, "tok")

	device, err := issuer.Register(ctx, "tok", "est-1", "kiosk-lobby-01")
	require.NoError(t, err)
	assert.Equal(t, "kiosk-lobby-01", device.DeviceID)

	_, err = issuer.Register(ctx, "tok", "est-1", "kiosk-lobby-01")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, s.creates)
}

func TestIssuer_RegeneratesCollidingID(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore()
	s.put(model.Device{DeviceID: "taken", EstablishmentID: "est-1"})

	issuer := NewIssuer(s, "tok")
	ids := []string{"taken", "taken", "fresh"}
	issuer.newDeviceID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	device, err := issuer.Register(ctx, "tok", "est-1", "")
	require.NoError(t, err)
	assert.Equal(t, "fresh", device.DeviceID)
}

func TestIssuer_GivesUpAfterRepeatedCollisions(t *testing.T) {
	s := newMemoryStore()
	s.put(model.Device{DeviceID: "taken", EstablishmentID: "est-1"})

	issuer := NewIssuer(s, "tok")
	issuer.newDeviceID = func() string { return "taken" }

	_, err := issuer.Register(context.Background(), "tok", "est-1", "")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrConflict))
}

func TestIssuer_CheckToken(t *testing.T) {
	issuer := NewIssuer(newMemoryStore(), "reg-token-test")
	assert.NoError(t, issuer.CheckToken("reg-token-test"))
	assert.ErrorIs(t, issuer.CheckToken("reg-token-tesT"), ErrForbidden)
	assert.ErrorIs(t, NewIssuer(newMemoryStore(), "").CheckToken(""), ErrForbidden)
}
