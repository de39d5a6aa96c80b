package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"kiosk-device-backend/config"
	"kiosk-device-backend/internal/model"
)

// Init opens the configured database, applies pool settings and runs migrations.
func Init(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	logLevel := logger.Warn
	if cfg.LogSQL {
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true, // postgres only; the store also checks sqlite errors
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	}

	log.Info().Str("driver", cfg.Driver).Msg("running database migrations")
	if err := db.AutoMigrate(
		&model.Device{},
		&model.PushSubscription{},
	); err != nil {
		return nil, fmt.Errorf("automigrate failed: %w", err)
	}

	if isPostgres(cfg.Driver) {
		if err := applyPostgresDDL(db); err != nil {
			log.Warn().Err(err).Msg("failed to apply some postgres DDL; continuing without it")
		}
	}

	log.Info().Msg("database initialization complete")
	return db, nil
}

func isPostgres(driver string) bool {
	switch strings.ToLower(driver) {
	case "", "postgres", "postgresql":
		return true
	}
	return false
}

func dialectorFor(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is empty")
	}
	switch {
	case isPostgres(cfg.Driver):
		return postgres.Open(cfg.DSN), nil
	case strings.EqualFold(cfg.Driver, "sqlite"):
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// applyPostgresDDL adds the constraints and indexes AutoMigrate cannot express.
func applyPostgresDDL(db *gorm.DB) error {
	ddls := []string{
		// The counter only ever grows.
		"DO $$ BEGIN " +
			"ALTER TABLE devices ADD CONSTRAINT devices_heartbeat_count_nonneg CHECK (heartbeat_count >= 0); " +
			"EXCEPTION WHEN duplicate_object THEN NULL; END $$;",

		// Serves the offline sweeper.
		"CREATE INDEX IF NOT EXISTS idx_devices_active_last_seen ON devices (last_seen_at) " +
			"WHERE active AND last_seen_at IS NOT NULL;",
	}

	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}
