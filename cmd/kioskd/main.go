package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"kiosk-device-backend/config"
	"kiosk-device-backend/internal/api"
	"kiosk-device-backend/internal/db"
	"kiosk-device-backend/internal/devicetrust"
	"kiosk-device-backend/internal/logger"
	"kiosk-device-backend/internal/mw"
	"kiosk-device-backend/internal/notification"
	"kiosk-device-backend/internal/store"
	"kiosk-device-backend/internal/sweeper"
	"kiosk-device-backend/internal/validate"
)

func main() {
	// A missing .env file is fine; real deployments use the environment.
	_ = godotenv.Load()

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load configuration")
	}

	if _, err := logger.Init(logger.Config{Level: cfg.Log.Level, Output: cfg.Log.Output}); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize logger")
	}
	log.Info().Str("path", configPath).Msg("configuration loaded")
	gin.SetMode(gin.ReleaseMode)

	if cfg.Auth.RegistrationToken == "" {
		log.Warn().Msg("auth.registration_token is empty; device registration is closed")
	}
	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		log.Warn().Msg("VAPID keys are not configured; device alerts will not be delivered")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)

	workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, &webpushOptions)
	workerPool.Start(ctx)

	sweeperSvc := sweeper.NewService(cfg.Sweeper, appStore, workerPool)
	go sweeperSvc.Run(ctx)

	handler := api.NewHandler(api.Deps{
		Store:        appStore,
		Issuer:       devicetrust.NewIssuer(appStore, cfg.Auth.RegistrationToken),
		Ingestor:     devicetrust.NewIngestor(appStore),
		Validator:    validate.New(),
		Cache:        mw.NewResponseCache(time.Duration(cfg.Server.CacheTTLSeconds) * time.Second),
		Alerts:       workerPool,
		WebPush:      &webpushOptions,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})
	verifier := devicetrust.NewVerifier(appStore, cfg.Auth.ReplayWindow)

	router := api.NewRouter(cfg, handler, verifier)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start the server in a goroutine
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server ListenAndServe")
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	log.Info().Msg("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("HTTP server Shutdown")
	}
	cancel()

	log.Info().Msg("server gracefully stopped")
}
