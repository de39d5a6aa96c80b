package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"kiosk-device-backend/internal/devicetrust"
	"kiosk-device-backend/internal/model"
	"kiosk-device-backend/internal/mw"
	"kiosk-device-backend/internal/notification"
	"kiosk-device-backend/internal/parse"
	"kiosk-device-backend/internal/validate"
)

type registeredDevice struct {
	DeviceID  string                `json:"device_id"`
	SecretKey string                `json:"secret_key"`
	Status    model.LifecycleStatus `json:"status"`
	LastSeen  *time.Time            `json:"last_seen"`
}

type heartbeatResult struct {
	DeviceID       string                   `json:"device_id"`
	HeartbeatCount int64                    `json:"heartbeat_count"`
	Status         *model.OperationalStatus `json:"status"`
	LastSeen       *time.Time               `json:"last_seen"`
}

// RegisterDevice issues credentials for a new device. The registration token
// is checked before the body is even read.
func (h *Handler) RegisterDevice(c *gin.Context) {
	token := c.GetHeader(devicetrust.HeaderRegistrationToken)
	if err := h.issuer.CheckToken(token); err != nil {
		log.Warn().Str("client_ip", c.ClientIP()).Msg("registration rejected: bad token")
		abortWithError(c, err)
		return
	}

	body, err := readBody(c, h.maxBody)
	if err != nil {
		return
	}

	payload, err := h.validator.Validate(validate.SchemaRegistration, body)
	if err != nil {
		var verr *validate.Error
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": verr.Fields})
			return
		}
		abortWithError(c, err)
		return
	}
	req := payload.(*validate.RegistrationPayload)

	device, err := h.issuer.Register(c.Request.Context(), token, req.EstablishmentID, req.DeviceID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.invalidate(device.EstablishmentID)

	c.JSON(http.StatusCreated, gin.H{"device": registeredDevice{
		DeviceID:  device.DeviceID,
		SecretKey: device.SecretKey,
		Status:    device.LifecycleStatus,
		LastSeen:  device.LastSeenAt,
	}})
}

// Heartbeat records the telemetry of a verified device.
func (h *Handler) Heartbeat(c *gin.Context) {
	device, ok := mw.VerifiedDevice(c)
	if !ok {
		abortWithError(c, devicetrust.ErrUnauthorized)
		return
	}

	payload, err := h.validator.Validate(validate.SchemaHeartbeat, mw.RawBody(c))
	if err != nil {
		log.Warn().Err(err).Str("device_id", device.DeviceID).Msg("heartbeat rejected")
		abortWithError(c, err)
		return
	}
	telemetry := payload.(*validate.HeartbeatPayload).Telemetry()

	updated, err := h.ingestor.RecordHeartbeat(c.Request.Context(), device.DeviceID, telemetry)
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.invalidate(updated.EstablishmentID)

	if alert, ok := notification.StatusAlert(updated, device.LastStatus, telemetry.Status); ok {
		h.dispatch(alert)
	}
	warnOnDowngrade(device, telemetry.FwVersion)

	c.JSON(http.StatusOK, gin.H{"data": heartbeatResult{
		DeviceID:       updated.DeviceID,
		HeartbeatCount: updated.HeartbeatCount,
		Status:         updated.LastStatus,
		LastSeen:       updated.LastSeenAt,
	}})
}

// Me returns the verified device's own record. The secret is never serialized.
func (h *Handler) Me(c *gin.Context) {
	device, ok := mw.VerifiedDevice(c)
	if !ok {
		abortWithError(c, devicetrust.ErrUnauthorized)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": device})
}

// ListDevices returns the devices of an establishment.
func (h *Handler) ListDevices(c *gin.Context) {
	establishmentID := c.Param("establishment_id")
	devices, err := h.store.ListByEstablishment(c.Request.Context(), establishmentID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": devices})
}

func warnOnDowngrade(before *model.Device, reported string) {
	if before.LastFwVersion == nil {
		return
	}
	prev, err := parse.ParseFirmwareVersion(*before.LastFwVersion)
	if err != nil {
		return
	}
	next, err := parse.ParseFirmwareVersion(reported)
	if err != nil {
		return
	}
	if next.Less(prev) {
		log.Warn().
			Str("device_id", before.DeviceID).
			Str("from", prev.String()).
			Str("to", next.String()).
			Msg("device firmware downgraded")
	}
}

// readBody reads at most max bytes of the request body, answering 413 or 400
// itself when it fails.
func readBody(c *gin.Context, max int64) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, max))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
		} else {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "could not read request body"})
		}
		return nil, err
	}
	return body, nil
}
