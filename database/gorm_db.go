package database

import (
	"fmt"
	golog "log"
	"os"
	"strings"
	"time"

	"github.com/ausocean/utils/logging"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/camden-git/membersync/models"
)

// InitGormDB initializes and returns a GORM database instance
func InitGormDB(dataSourceName string, level logger.LogLevel, log logging.Logger) (*gorm.DB, error) {
	gormLogger := logger.New(
		golog.New(os.Stdout, "\r\n", golog.LstdFlags), // io writer
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(dataSourceName), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database using GORM: %w", err)
	}

	sqlDB, err := SQL(db)
	if err != nil {
		return nil, err
	}

	if isMemory(dataSourceName) {
		// every connection to a private in-memory database sees a different database
		sqlDB.SetMaxOpenConns(1)
	} else {
		// enable write-ahead Logging for better concurrency
		if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
			log.Warning("failed to set WAL mode", "error", err)
		}
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	if err := db.Exec("PRAGMA busy_timeout=5000;").Error; err != nil {
		log.Warning("failed to set busy timeout", "error", err)
	}

	return db, nil
}

// AutoMigrateModels migrates the schemas owned by this service.
func AutoMigrateModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Person{},
		&models.Account{},
	)
	if err != nil {
		return fmt.Errorf("GORM AutoMigrate failed: %w", err)
	}
	return nil
}

// Open initializes the database and migrates it.
func Open(dataSourceName string, level logger.LogLevel, log logging.Logger) (*gorm.DB, error) {
	db, err := InitGormDB(dataSourceName, level, log)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrateModels(db); err != nil {
		return nil, err
	}
	return db, nil
}

func isMemory(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}
