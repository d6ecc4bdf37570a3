package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/observability"
	"github.com/architecte-ia/etsy-analytics-pro/internal/port"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var onboardingTracer = otel.Tracer("service/onboarding")

const (
	accessKeyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"
	accessKeyLength   = 24
)

// PurchaseParser verifies and decodes a payment webhook. It returns a nil
// purchase for events that are not completed checkouts.
type PurchaseParser interface {
	ParsePurchase(payload []byte, signature string) (*domain.Purchase, error)
}

// OnboardingService creates customers from the free signup form and from
// completed purchases, then emails them their access link.
type OnboardingService struct {
	store    port.CustomerStore
	access   *AccessManager
	mailer   port.Mailer
	payments PurchaseParser
	baseURL  string
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
	newKey   func() (string, error)
}

// NewOnboardingService creates a new onboarding service.
func NewOnboardingService(store port.CustomerStore, access *AccessManager, mailer port.Mailer, payments PurchaseParser, baseURL string, metrics *observability.Metrics, logger *zap.Logger) *OnboardingService {
	return &OnboardingService{
		store:    store,
		access:   access,
		mailer:   mailer,
		payments: payments,
		baseURL:  strings.TrimRight(baseURL, "/"),
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		newKey:   NewAccessKey,
	}
}

// NewAccessKey draws a random access key.
func NewAccessKey() (string, error) {
	return gonanoid.Generate(accessKeyAlphabet, accessKeyLength)
}

// AccessLink is the personal dashboard URL sent by email.
func (s *OnboardingService) AccessLink(key string) string {
	return s.baseURL + "/dashboard?key=" + url.QueryEscape(key)
}

// ============================================================
// Signup
// ============================================================

// Signup creates a free account. Consent to data collection is mandatory.
func (s *OnboardingService) Signup(ctx context.Context, req domain.SignupRequest) (*domain.Customer, error) {
	ctx, span := onboardingTracer.Start(ctx, "OnboardingService.Signup")
	defer span.End()

	email, err := validEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if !req.DataConsent {
		return nil, &domain.ErrValidation{Field: "data_consent", Message: "the free plan requires accepting data collection"}
	}

	_, err = s.store.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, &domain.ErrConflict{Message: "an account already exists for this email"}
	case !isNotFound(err):
		return nil, fmt.Errorf("check existing customer: %w", err)
	}

	c, err := s.newCustomer(email, domain.ProductFree)
	if err != nil {
		return nil, err
	}
	now := c.SignupDate
	resetAt := now.Add(UsageWindow)
	c.ShopName = strings.TrimSpace(req.ShopName)
	c.DataConsent = domain.BoolPtr(true)
	c.ConsentUpdatedAt = &now
	c.UsageResetDate = &resetAt

	created, err := s.store.Create(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	if created.AccessKey == "" {
		created.AccessKey = c.AccessKey
	}
	span.SetAttributes(attribute.String("customer.id", created.ID))

	s.metrics.IncrCustomerCreated("signup", domain.ProductFree)
	s.logger.Info("free account created",
		zap.String("customer_id", created.ID),
		zap.String("shop", created.ShopName),
	)
	s.sendAccess(ctx, created, domain.ProductFree)
	return created, nil
}

// ============================================================
// Purchase webhook
// ============================================================

// HandlePurchase applies a verified checkout: a new customer is created,
// an existing one gains the product. A nil customer means the event was
// ignored.
func (s *OnboardingService) HandlePurchase(ctx context.Context, payload []byte, signature string) (*domain.Customer, error) {
	ctx, span := onboardingTracer.Start(ctx, "OnboardingService.HandlePurchase")
	defer span.End()

	p, err := s.payments.ParsePurchase(payload, signature)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	span.SetAttributes(
		attribute.String("purchase.session", p.SessionID),
		attribute.String("purchase.product", string(p.Product)),
	)

	email, err := validEmail(p.Email)
	if err != nil {
		return nil, err
	}

	c, err := s.store.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return s.upgrade(ctx, c, p.Product)
	case !isNotFound(err):
		return nil, fmt.Errorf("lookup purchaser: %w", err)
	}

	c, err = s.newCustomer(email, p.Product)
	if err != nil {
		return nil, err
	}
	created, err := s.store.Create(ctx, c)
	if err != nil {
		var conflict *domain.ErrConflict
		if !errors.As(err, &conflict) {
			return nil, fmt.Errorf("create customer: %w", err)
		}
		// a concurrent delivery of the same event created the row first
		existing, gerr := s.store.GetByEmail(ctx, email)
		if gerr != nil {
			return nil, fmt.Errorf("reload customer: %w", gerr)
		}
		return s.upgrade(ctx, existing, p.Product)
	}
	if created.AccessKey == "" {
		created.AccessKey = c.AccessKey
	}

	s.metrics.IncrCustomerCreated("purchase", p.Product)
	s.logger.Info("customer created from purchase",
		zap.String("customer_id", created.ID),
		zap.String("product", string(p.Product)),
		zap.Int64("amount", p.Amount),
		zap.String("currency", p.Currency),
	)
	s.sendAccess(ctx, created, p.Product)
	return created, nil
}

func (s *OnboardingService) upgrade(ctx context.Context, c *domain.Customer, product domain.Product) (*domain.Customer, error) {
	if err := s.store.AddProduct(ctx, c.ID, product); err != nil {
		return nil, fmt.Errorf("add product: %w", err)
	}
	c.Products = append(c.Products, product)
	// the cached snapshot predates the purchase
	s.access.Forget(c.AccessKey)

	s.metrics.IncrCustomerCreated("upgrade", product)
	s.logger.Info("product added to existing customer",
		zap.String("customer_id", c.ID),
		zap.String("product", string(product)),
	)
	s.sendAccess(ctx, c, product)
	return c, nil
}

func (s *OnboardingService) newCustomer(email string, product domain.Product) (*domain.Customer, error) {
	key, err := s.newKey()
	if err != nil {
		return nil, fmt.Errorf("generate access key: %w", err)
	}
	return &domain.Customer{
		ID:         uuid.NewString(),
		Email:      email,
		AccessKey:  key,
		Product:    product,
		SignupDate: s.now().UTC(),
	}, nil
}

// sendAccess emails the access link. Failures are logged: the customer
// can still log in with their email.
func (s *OnboardingService) sendAccess(ctx context.Context, c *domain.Customer, product domain.Product) {
	if err := s.mailer.SendAccessEmail(ctx, c.Email, product, s.AccessLink(c.AccessKey)); err != nil {
		s.logger.Warn("onboarding: access email not sent",
			zap.String("customer_id", c.ID),
			zap.Error(err),
		)
	}
}

func validEmail(raw string) (string, error) {
	email := domain.NormalizeEmail(raw)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return "", &domain.ErrValidation{Field: "email", Message: "enter a valid email address"}
	}
	return email, nil
}

func isNotFound(err error) bool {
	var notFound *domain.ErrNotFound
	return errors.As(err, &notFound)
}
