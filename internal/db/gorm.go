package db

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wuwenbin0122/wwb.chat/internal/utils"
)

// NewGORM opens a gorm.DB over the same Postgres database the pgx pool uses.
func NewGORM(cfg utils.PostgresConfig) (*gorm.DB, error) {
	dsn := cfg.BuildDSN()
	if dsn == "" {
		return nil, fmt.Errorf("gorm: postgres dsn is empty")
	}

	gormDB, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("gorm: open: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm: sql db: %w", err)
	}

	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(int(maxInt32(cfg.MaxConns, 4)))
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("gorm: ping: %w", err)
	}

	return gormDB, nil
}

func maxInt32(v, floor int32) int32 {
	if v < floor {
		return floor
	}
	return v
}
