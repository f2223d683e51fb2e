package database

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultMaxOpenConns    = 20
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
)

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
}

// configurePool applies connection limits suited to short registry round-trips.
func configurePool(db *gorm.DB, maxOpen int) (*gorm.DB, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(min(defaultMaxIdleConns, maxOpen))
	sqlDB.SetConnMaxLifetime(defaultConnMaxLifetime)
	return db, nil
}
