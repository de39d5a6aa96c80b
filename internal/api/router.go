package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"kiosk-device-backend/config"
	"kiosk-device-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.Config, h *Handler, verifier mw.RequestVerifier) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestLogger())
	// Client IPs come from the socket or the configured platform header,
	// never from a client-supplied X-Forwarded-For.
	_ = r.SetTrustedProxies(nil)
	if cfg.Server.RequestIPHeader != "" {
		r.TrustedPlatform = cfg.Server.RequestIPHeader
	}

	limit := rate.Limit(cfg.Server.RateLimitPerSec)
	burst := cfg.Server.RateLimitBurst

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	devices := api.Group("/devices")
	{
		devices.POST("/register", mw.RateLimiter(limit, burst, mw.ByClientIP), h.RegisterDevice)

		signed := devices.Group("",
			mw.RateLimiter(limit, burst, mw.ByClientIP),
			mw.SignedRequest(verifier, cfg.Server.MaxBodyBytes),
			mw.RateLimiter(limit, burst, mw.ByVerifiedDevice),
		)
		signed.POST("/heartbeat", h.Heartbeat)
		signed.GET("/me", h.Me)
	}

	establishments := api.Group("/establishments/:establishment_id",
		mw.RateLimiter(limit, burst, mw.ByClientIP),
		mw.AdminToken(cfg.Auth.AdminToken),
	)
	{
		byEstablishment := func(c *gin.Context) string { return c.Param("establishment_id") }
		establishments.GET("/devices", h.cache.Middleware(byEstablishment), h.ListDevices)

		establishments.GET("/subscriptions", h.GetSubscription)
		establishments.PUT("/subscriptions", h.PutSubscription)
		establishments.DELETE("/subscriptions", h.DeleteSubscription)
	}

	api.GET("/vapid_public_key", mw.RateLimiter(limit, burst, mw.ByClientIP), h.GetVAPIDPublicKey)

	return r
}
