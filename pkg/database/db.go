package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/arnavshah/shift-planner/internal/config"
)

// APIKey represents the api_keys table
type APIKey struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Key        string     `gorm:"unique;not null" json:"-"`
	KeyPreview string     `json:"key_preview"`
	Name       string     `gorm:"not null" json:"name"`
	RateLimit  int        `gorm:"default:10000" json:"rate_limit"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsed   *time.Time `json:"last_used"`
}

// APIUsage represents the api_usage table. Runs counts planning runs,
// Assignments the assignments they proposed and Gaps the coverage gaps they
// reported.
type APIUsage struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	KeyID        uint   `gorm:"uniqueIndex:idx_key_date;not null" json:"key_id"`
	Date         string `gorm:"uniqueIndex:idx_key_date;not null" json:"date"`
	RequestCount int    `gorm:"default:0" json:"request_count"`
	Runs         int    `gorm:"default:0" json:"runs"`
	Assignments  int    `gorm:"default:0" json:"assignments"`
	Gaps         int    `gorm:"default:0" json:"gaps"`
}

// MasterUser represents the master_users table
type MasterUser struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"unique;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Open connects to postgres when a DSN is configured and to the sqlite file
// at cfg.Path otherwise, then migrates the schema.
func Open(cfg config.StorageConfig) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	gormCfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	}

	switch driver(cfg) {
	case config.DriverPostgres:
		db, err = gorm.Open(postgres.New(postgres.Config{
			DSN:                  cfg.DSN,
			PreferSimpleProtocol: true,
		}), gormCfg)
	default:
		path := cfg.Path
		if path == "" {
			path = "planner.db"
		}
		db, err = gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), gormCfg)
		if err == nil {
			// sqlite has a single writer
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				sqlDB.SetMaxOpenConns(1)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates every table the service uses
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&APIKey{}, &APIUsage{}, &MasterUser{},
		&skillRow{}, &userRow{}, &ledgerRow{}, &teamRow{}, &membershipRow{},
		&templateRow{}, &instanceRow{}, &assignmentRow{}, &swapRow{},
		&gapRow{}, &conflictRow{}, &historyRow{}, &runRow{},
	)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func driver(cfg config.StorageConfig) string {
	if cfg.Driver != "" {
		return cfg.Driver
	}
	if cfg.DSN != "" {
		return config.DriverPostgres
	}
	return config.DriverSQLite
}
