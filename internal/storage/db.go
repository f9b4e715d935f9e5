// Package storage persists rules, alerts, data sources, channels, and
// system configuration through GORM.
package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"logalert/internal/config"
	"logalert/internal/domain"
)

const (
	maxOpenConns    = 200
	maxIdleConns    = 50
	connMaxLifetime = 5 * time.Minute
)

// Open connects to Postgres, applies pool limits, and migrates the schema.
// Params: cfg database section.
// Returns: gorm handle or connect/migrate error.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates all tables.
// Params: db gorm handle.
// Returns: migration error.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.DataSource{},
		&domain.Channel{},
		&domain.Rule{},
		&domain.Alert{},
		&domain.SystemConfig{},
	); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// withTimeout derives a bounded context for one database operation.
// Params: parent ctx and per-query budget.
// Returns: derived context and cancel func.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
