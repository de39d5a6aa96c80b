package mw

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"kiosk-device-backend/internal/devicetrust"
	"kiosk-device-backend/internal/model"
)

const (
	ctxDeviceKey  = "mw.device"
	ctxRawBodyKey = "mw.raw_body"
)

// RequestVerifier is the signature check the SignedRequest middleware runs.
type RequestVerifier interface {
	Verify(ctx context.Context, req devicetrust.SignedRequest, now time.Time) (*model.Device, error)
}

// SignedRequest authenticates device requests before any body handling. It
// reads the raw body (capped at maxBody), verifies the signature over it and,
// on success, exposes the device and the exact body bytes to handlers.
// All verification failures get the same 401.
func SignedRequest(v RequestVerifier, maxBody int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body == nil {
			c.Request.Body = http.NoBody
		}
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
				return
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "could not read request body"})
			return
		}

		req := devicetrust.SignedRequest{
			DeviceID:  c.GetHeader(devicetrust.HeaderDeviceID),
			Timestamp: c.GetHeader(devicetrust.HeaderTimestamp),
			Method:    c.Request.Method,
			Path:      c.Request.URL.Path,
			Body:      body,
			Signature: c.GetHeader(devicetrust.HeaderSignature),
		}

		device, err := v.Verify(c.Request.Context(), req, time.Now())
		if err != nil {
			if errors.Is(err, devicetrust.ErrUnauthorized) {
				log.Warn().
					Str("device_id", req.DeviceID).
					Str("path", req.Path).
					Str("client_ip", c.ClientIP()).
					Str("reason", err.Error()).
					Msg("device signature rejected")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
			log.Error().Err(err).Str("device_id", req.DeviceID).Msg("device signature check failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Request = c.Request.WithContext(devicetrust.WithDevice(c.Request.Context(), device))
		c.Set(ctxDeviceKey, device)
		c.Set(ctxRawBodyKey, body)
		c.Next()
	}
}

// VerifiedDevice returns the device authenticated by SignedRequest.
func VerifiedDevice(c *gin.Context) (*model.Device, bool) {
	v, ok := c.Get(ctxDeviceKey)
	if !ok {
		return devicetrust.DeviceFromContext(c.Request.Context())
	}
	d, ok := v.(*model.Device)
	return d, ok
}

// RawBody returns the exact body bytes SignedRequest verified.
func RawBody(c *gin.Context) []byte {
	if v, ok := c.Get(ctxRawBodyKey); ok {
		if b, ok := v.([]byte); ok {
			return b
		}
	}
	return nil
}
