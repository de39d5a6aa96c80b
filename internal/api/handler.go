package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"kiosk-device-backend/internal/devicetrust"
	"kiosk-device-backend/internal/mw"
	"kiosk-device-backend/internal/notification"
	"kiosk-device-backend/internal/store"
	"kiosk-device-backend/internal/validate"
)

// Alerter queues device alerts without blocking the request.
type Alerter interface {
	TryDispatch(alert notification.Alert) bool
}

// Deps are the collaborators the handlers use.
type Deps struct {
	Store     store.Store
	Issuer    *devicetrust.Issuer
	Ingestor  *devicetrust.Ingestor
	Validator *validate.Validator
	Cache     *mw.ResponseCache
	Alerts    Alerter
	WebPush   *webpush.Options
	// MaxBodyBytes caps unsigned request bodies (registration, subscriptions).
	MaxBodyBytes int64
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	issuer    *devicetrust.Issuer
	ingestor  *devicetrust.Ingestor
	validator *validate.Validator
	cache     *mw.ResponseCache
	alerts    Alerter
	webpush   *webpush.Options
	maxBody   int64
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = 16 << 10
	}
	if d.Cache == nil {
		d.Cache = mw.NewResponseCache(30 * time.Second)
	}
	return &Handler{
		store:     d.Store,
		issuer:    d.Issuer,
		ingestor:  d.Ingestor,
		validator: d.Validator,
		cache:     d.Cache,
		alerts:    d.Alerts,
		webpush:   d.WebPush,
		maxBody:   d.MaxBodyBytes,
	}
}

func (h *Handler) invalidate(establishmentID string) {
	h.cache.Invalidate(establishmentID)
}

func (h *Handler) dispatch(alert notification.Alert) {
	if h.alerts != nil {
		h.alerts.TryDispatch(alert)
	}
}

// abortWithError maps trust-layer and validation errors onto responses.
// Nothing beyond the error class reaches the client.
func abortWithError(c *gin.Context, err error) {
	var verr *validate.Error
	switch {
	case errors.Is(err, devicetrust.ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, devicetrust.ErrUnauthorized):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, devicetrust.ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "device id already registered"})
	case errors.Is(err, devicetrust.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "device not found"})
	case errors.As(err, &verr):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, devicetrust.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
