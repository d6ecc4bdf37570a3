package service

import (
	"context"
	"fmt"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/port"
	"github.com/architecte-ia/etsy-analytics-pro/internal/session"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var consentTracer = otel.Tracer("service/consent")

// ConsentService drives the data-collection consent state machine:
// never asked, prompted once per session, then accepted or declined for good.
type ConsentService struct {
	store  port.CustomerStore
	access *AccessManager
	logger *zap.Logger
	now    func() time.Time
}

// NewConsentService creates a new consent service.
func NewConsentService(store port.CustomerStore, access *AccessManager, logger *zap.Logger) *ConsentService {
	return &ConsentService{store: store, access: access, logger: logger, now: time.Now}
}

// ShouldPrompt is true only for a customer with no persisted decision who
// has not seen the prompt in this session.
func (s *ConsentService) ShouldPrompt(c *domain.Customer, sess *session.Session) bool {
	if c == nil || c.HasConsentDecision() {
		return false
	}
	return !sess.ConsentPrompted && sess.ConsentChoice == nil
}

// MarkPrompted records that the prompt was shown in this session.
func (s *ConsentService) MarkPrompted(sess *session.Session) {
	sess.ConsentPrompted = true
}

// SetConsent records a choice. The session keeps it even when the store
// write fails, so the prompt does not come back; the error is returned for
// the caller to report.
func (s *ConsentService) SetConsent(ctx context.Context, c *domain.Customer, sess *session.Session, accepted bool) error {
	ctx, span := consentTracer.Start(ctx, "ConsentService.SetConsent")
	defer span.End()
	span.SetAttributes(
		attribute.String("customer.id", c.ID),
		attribute.Bool("consent", accepted),
	)

	sess.ConsentPrompted = true
	sess.ConsentChoice = domain.BoolPtr(accepted)

	now := s.now().UTC()
	if err := s.store.UpdateConsent(ctx, c.ID, accepted, now); err != nil {
		s.logger.Warn("consent: choice not persisted",
			zap.String("customer_id", c.ID),
			zap.Bool("consent", accepted),
			zap.Error(err),
		)
		return fmt.Errorf("persist consent: %w", err)
	}

	c.DataConsent = domain.BoolPtr(accepted)
	c.ConsentUpdatedAt = &now
	s.access.Remember(c)

	s.logger.Info("consent recorded",
		zap.String("customer_id", c.ID),
		zap.Bool("consent", accepted),
	)
	return nil
}

// State returns the stored decision of c.
func (s *ConsentService) State(c *domain.Customer) domain.ConsentState {
	if c == nil {
		return domain.ConsentUnknown
	}
	return c.ConsentState()
}
