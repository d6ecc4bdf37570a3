// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

//go:generate mockgen -source=ports.go -destination=mocks/mock_ports.go -package=mocks

import (
	"context"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
)

// CustomerStore is the Access Store. Implemented by the Supabase, Postgres
// and SQLite adapters. Lookups return *domain.ErrNotFound when no row matches.
type CustomerStore interface {
	GetByAccessKey(ctx context.Context, accessKey string) (*domain.Customer, error)
	GetByEmail(ctx context.Context, email string) (*domain.Customer, error)
	Create(ctx context.Context, c *domain.Customer) (*domain.Customer, error)
	AddProduct(ctx context.Context, customerID string, product domain.Product) error
	UpdateLastLogin(ctx context.Context, customerID string, at time.Time) error
	UpdateConsent(ctx context.Context, customerID string, consent bool, at time.Time) error
	UpdateUsage(ctx context.Context, customerID string, count int, resetAt time.Time) error
	ResetExpiredUsage(ctx context.Context, now, nextReset time.Time) (int, error)
	Ping(ctx context.Context) error
}

// BlobStore persists collected objects. Get returns *domain.ErrNotFound
// for a missing path.
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Get(ctx context.Context, path string) ([]byte, error)
	Name() string
}

// Mailer delivers the personal access link.
type Mailer interface {
	SendAccessEmail(ctx context.Context, to string, product domain.Product, accessLink string) error
}

// Collector records uploads and aggregates for consenting customers.
type Collector interface {
	Collect(ctx context.Context, c *domain.Customer, dashboard domain.Dashboard, files []domain.UploadedFile, result *domain.AnalysisResult) []domain.CollectOutcome
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
