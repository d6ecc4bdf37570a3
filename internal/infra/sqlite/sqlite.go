// Package sqlite is the embedded Access Store used for local runs and
// tests. It keeps the same customers / customer_products layout as the
// hosted database.
package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// customerModel is the customers table.
type customerModel struct {
	ID               string `gorm:"primaryKey"`
	Email            string `gorm:"uniqueIndex;not null"`
	AccessKey        string `gorm:"uniqueIndex;not null"`
	Product          string `gorm:"not null;default:free"`
	ShopName         *string
	DataConsent      *bool
	ConsentUpdatedAt *time.Time
	SignupDate       time.Time `gorm:"not null"`
	LastLogin        *time.Time
	UsageCount       int `gorm:"not null;default:0"`
	UsageResetDate   *time.Time
	Products         []productModel `gorm:"foreignKey:CustomerID"`
}

func (customerModel) TableName() string { return "customers" }

// productModel is the customer_products table.
type productModel struct {
	CustomerID  string    `gorm:"primaryKey"`
	Product     string    `gorm:"primaryKey"`
	PurchasedAt time.Time `gorm:"not null"`
}

func (productModel) TableName() string { return "customer_products" }

// Open opens (creating when needed) the database file and migrates it.
// Use ":memory:" for a throwaway database.
func Open(dbPath string, logger *zap.Logger) (*gorm.DB, error) {
	dsn := "file::memory:?cache=shared"
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		dsn = fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(
			zapWriter{logger: logger},
			gormlogger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.AutoMigrate(&customerModel{}, &productModel{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return db, nil
}

// zapWriter routes gorm's printf logger into zap.
type zapWriter struct {
	logger *zap.Logger
}

func (w zapWriter) Printf(format string, args ...any) {
	if w.logger == nil {
		return
	}
	w.logger.Warn(fmt.Sprintf(format, args...), zap.String("component", "gorm"))
}
