package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kiosk-device-backend/internal/model"
	"kiosk-device-backend/internal/store"
)

type putSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	P256DH   string `json:"p256dh" binding:"required"`
	Auth     string `json:"auth" binding:"required"`
}

// PutSubscription creates or replaces an operator's alert subscription for
// an establishment.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	subscription := model.PushSubscription{
		Endpoint:        req.Endpoint,
		P256DH:          req.P256DH,
		Auth:            req.Auth,
		EstablishmentID: c.Param("establishment_id"),
	}
	if err := h.store.UpsertSubscription(c.Request.Context(), &subscription); err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusCreated)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription removes a subscription of the establishment.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if _, ok := h.findScopedSubscription(c, req.Endpoint); !ok {
		return
	}
	if err := h.store.DeleteSubscription(c.Request.Context(), req.Endpoint); err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func rawQueryParam(rawQuery, key string) (string, bool) {
	for _, kv := range strings.Split(rawQuery, "&") {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true // not URL-decoded
		}
	}
	return "", false
}

// GetSubscription reports whether an endpoint is subscribed to the establishment.
func (h *Handler) GetSubscription(c *gin.Context) {
	raw, ok := rawQueryParam(c.Request.URL.RawQuery, "endpoint")
	if !ok || raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
		return
	}

	sub, ok := h.findScopedSubscription(c, raw)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"endpoint": sub.Endpoint, "establishment_id": sub.EstablishmentID})
}

// findScopedSubscription answers 404 for subscriptions of other establishments.
func (h *Handler) findScopedSubscription(c *gin.Context, endpoint string) (*model.PushSubscription, bool) {
	sub, err := h.store.FindSubscription(c.Request.Context(), endpoint)
	if errors.Is(err, store.ErrSubscriptionNotFound) || (err == nil && sub.EstablishmentID != c.Param("establishment_id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		return nil, false
	}
	if err != nil {
		abortWithError(c, err)
		return nil, false
	}
	return sub, true
}
