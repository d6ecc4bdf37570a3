package sqlite

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("sqlite")

// CustomerStore implements port.CustomerStore on gorm.
type CustomerStore struct {
	db *gorm.DB
}

func NewCustomerStore(db *gorm.DB) *CustomerStore {
	return &CustomerStore{db: db}
}

func (s *CustomerStore) GetByAccessKey(ctx context.Context, accessKey string) (*domain.Customer, error) {
	return s.getOne(ctx, "GetByAccessKey", "access_key = ?", accessKey)
}

func (s *CustomerStore) GetByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	return s.getOne(ctx, "GetByEmail", "email = ?", domain.NormalizeEmail(email))
}

func (s *CustomerStore) getOne(ctx context.Context, op, where string, arg any) (_ *domain.Customer, err error) {
	ctx, span := tracer.Start(ctx, "SQLite."+op)
	defer func() { endSpan(span, err) }()

	var m customerModel
	err = s.db.WithContext(ctx).
		Preload("Products", func(db *gorm.DB) *gorm.DB { return db.Order("purchased_at") }).
		Where(where, arg).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.ErrNotFound{Resource: "customer", ID: op}
	}
	if err != nil {
		return nil, external(err)
	}
	return m.toDomain(), nil
}

func (s *CustomerStore) Create(ctx context.Context, in *domain.Customer) (_ *domain.Customer, err error) {
	ctx, span := tracer.Start(ctx, "SQLite.Create")
	defer func() { endSpan(span, err) }()

	m := fromDomain(in)
	if err = s.db.WithContext(ctx).Omit("Products").Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, &domain.ErrConflict{Message: "customer already exists"}
		}
		return nil, external(err)
	}

	out := *in
	out.Email = m.Email
	return &out, nil
}

func (s *CustomerStore) AddProduct(ctx context.Context, customerID string, product domain.Product) (err error) {
	ctx, span := tracer.Start(ctx, "SQLite.AddProduct")
	defer func() { endSpan(span, err) }()

	row := productModel{CustomerID: customerID, Product: string(product), PurchasedAt: time.Now().UTC()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	return external(err)
}

func (s *CustomerStore) UpdateLastLogin(ctx context.Context, customerID string, at time.Time) error {
	return s.update(ctx, "UpdateLastLogin", customerID, map[string]any{"last_login": at.UTC()})
}

func (s *CustomerStore) UpdateConsent(ctx context.Context, customerID string, consent bool, at time.Time) error {
	return s.update(ctx, "UpdateConsent", customerID, map[string]any{
		"data_consent":       consent,
		"consent_updated_at": at.UTC(),
	})
}

func (s *CustomerStore) UpdateUsage(ctx context.Context, customerID string, count int, resetAt time.Time) error {
	return s.update(ctx, "UpdateUsage", customerID, map[string]any{
		"usage_count":      count,
		"usage_reset_date": resetAt.UTC(),
	})
}

func (s *CustomerStore) ResetExpiredUsage(ctx context.Context, now, nextReset time.Time) (_ int, err error) {
	ctx, span := tracer.Start(ctx, "SQLite.ResetExpiredUsage")
	defer func() { endSpan(span, err) }()

	res := s.db.WithContext(ctx).Model(&customerModel{}).
		Where("usage_reset_date < ?", now.UTC()).
		Updates(map[string]any{"usage_count": 0, "usage_reset_date": nextReset.UTC()})
	if res.Error != nil {
		return 0, external(res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *CustomerStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return external(err)
	}
	return external(sqlDB.PingContext(ctx))
}

func (s *CustomerStore) update(ctx context.Context, op, customerID string, set map[string]any) (err error) {
	ctx, span := tracer.Start(ctx, "SQLite."+op)
	defer func() { endSpan(span, err) }()

	res := s.db.WithContext(ctx).Model(&customerModel{}).Where("id = ?", customerID).Updates(set)
	if res.Error != nil {
		return external(res.Error)
	}
	if res.RowsAffected == 0 {
		return &domain.ErrNotFound{Resource: "customer", ID: customerID}
	}
	return nil
}

func (m *customerModel) toDomain() *domain.Customer {
	c := &domain.Customer{
		ID:               m.ID,
		Email:            m.Email,
		AccessKey:        m.AccessKey,
		DataConsent:      m.DataConsent,
		ConsentUpdatedAt: m.ConsentUpdatedAt,
		SignupDate:       m.SignupDate,
		LastLogin:        m.LastLogin,
		UsageCount:       m.UsageCount,
		UsageResetDate:   m.UsageResetDate,
	}
	c.Product, _ = domain.ParseProduct(m.Product)
	if m.ShopName != nil {
		c.ShopName = *m.ShopName
	}
	for _, p := range m.Products {
		if product, ok := domain.ParseProduct(p.Product); ok {
			c.Products = append(c.Products, product)
		}
	}
	return c
}

func fromDomain(c *domain.Customer) customerModel {
	m := customerModel{
		ID:               c.ID,
		Email:            domain.NormalizeEmail(c.Email),
		AccessKey:        c.AccessKey,
		Product:          string(c.Product),
		DataConsent:      c.DataConsent,
		ConsentUpdatedAt: c.ConsentUpdatedAt,
		SignupDate:       c.SignupDate.UTC(),
		LastLogin:        c.LastLogin,
		UsageCount:       c.UsageCount,
		UsageResetDate:   c.UsageResetDate,
	}
	if m.Product == "" {
		m.Product = string(domain.ProductFree)
	}
	if c.ShopName != "" {
		name := c.ShopName
		m.ShopName = &name
	}
	return m
}

func external(err error) error {
	if err == nil {
		return nil
	}
	return &domain.ErrExternalService{Service: "sqlite", Err: err}
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
