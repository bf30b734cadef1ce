package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // pure Go driver registered as "sqlite"

	"github.com/nerdneilsfield/dreamforge/internal/config"
	"github.com/nerdneilsfield/dreamforge/internal/models"
)

// ErrNotFound indicates a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness conflict.
var ErrAlreadyExists = errors.New("record already exists")

// InitDB opens the SQLite database through gorm using the modernc driver and runs migrations.
func InitDB(dbPath string, logger *zap.Logger) (*gorm.DB, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql db: %w", err)
	}
	// a single writer avoids "database is locked" under concurrent requests
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Running database migrations...", zap.String("path", dbPath))
	if err := db.AutoMigrate(
		&models.User{},
		&models.Model{},
		&models.Style{},
		&models.Image{},
		&models.CreditTransaction{},
		&models.CreditPurchase{},
	); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migration completed.")

	return db, nil
}

// Close releases the connection pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SeedCatalog inserts the configured models and styles when the tables are empty.
// Existing rows are never touched.
func SeedCatalog(db *gorm.DB, cat config.CatalogConfig, logger *zap.Logger) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Model{}).Count(&count).Error; err != nil {
			return fmt.Errorf("count models: %w", err)
		}
		if count == 0 && len(cat.Models) > 0 {
			rows := make([]models.Model, 0, len(cat.Models))
			for _, m := range cat.Models {
				rows = append(rows, models.Model{
					ID:          m.ID,
					Name:        m.Name,
					DisplayName: m.DisplayName,
					Description: m.Description,
					ModelID:     m.ModelID,
					CreditCost:  m.CreditCost,
					Tier:        m.Tier,
					IsPremium:   m.Premium,
				})
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("seed models: %w", err)
			}
			logger.Info("Seeded models", zap.Int("count", len(rows)))
		}

		if err := tx.Model(&models.Style{}).Count(&count).Error; err != nil {
			return fmt.Errorf("count styles: %w", err)
		}
		if count == 0 && len(cat.Styles) > 0 {
			rows := make([]models.Style, 0, len(cat.Styles))
			for _, s := range cat.Styles {
				rows = append(rows, models.Style{
					ID:             s.ID,
					Name:           s.Name,
					Description:    s.Description,
					PromptModifier: s.PromptModifier,
				})
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("seed styles: %w", err)
			}
			logger.Info("Seeded styles", zap.Int("count", len(rows)))
		}
		return nil
	})
}

// isUniqueViolation reports whether err comes from a UNIQUE constraint.
// The modernc driver errors are not translated by the gorm dialector, so match on the message too.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
