// Package service holds the use cases: access resolution and entitlements,
// consent, onboarding and dashboard analysis.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/observability"
	"github.com/architecte-ia/etsy-analytics-pro/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var accessTracer = otel.Tracer("service/access")

// UsageWindow is the length of the free-tier quota window.
const UsageWindow = 7 * 24 * time.Hour

// Credentials are the ways a caller can identify itself, in priority order.
type Credentials struct {
	SessionKey string
	URLKey     string
	Email      string
}

// AccessOptions tunes the Access Manager.
type AccessOptions struct {
	// ConsentGated refuses customers who declined data collection.
	ConsentGated bool
	// WeeklyLimit is the free-tier analysis quota. 0 disables it.
	WeeklyLimit int
}

// AccessManager resolves callers to customers and answers entitlement
// questions.
type AccessManager struct {
	store   port.CustomerStore
	cache   port.Cache[*domain.Customer]
	opts    AccessOptions
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time

	locks sync.Map // customer ID -> *sync.Mutex
}

// NewAccessManager creates a new access manager.
func NewAccessManager(store port.CustomerStore, cache port.Cache[*domain.Customer], opts AccessOptions, metrics *observability.Metrics, logger *zap.Logger) *AccessManager {
	return &AccessManager{
		store:   store,
		cache:   cache,
		opts:    opts,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// ============================================================
// Resolve
// ============================================================

// Resolve finds the customer behind cred: the session key first, then the
// ?key= URL parameter, then the login email. The returned customer is a
// copy the caller may modify.
func (m *AccessManager) Resolve(ctx context.Context, cred Credentials) (*domain.Customer, error) {
	ctx, span := accessTracer.Start(ctx, "AccessManager.Resolve")
	defer span.End()

	var (
		c   *domain.Customer
		err error
	)
	switch {
	case strings.TrimSpace(cred.SessionKey) != "":
		span.SetAttributes(attribute.String("source", "session"))
		c, err = m.byKey(ctx, strings.TrimSpace(cred.SessionKey))
	case strings.TrimSpace(cred.URLKey) != "":
		span.SetAttributes(attribute.String("source", "url"))
		c, err = m.byKey(ctx, strings.TrimSpace(cred.URLKey))
	case strings.TrimSpace(cred.Email) != "":
		span.SetAttributes(attribute.String("source", "email"))
		c, err = m.byEmail(ctx, cred.Email)
	default:
		m.metrics.IncrAccessDenied("missing_key")
		return nil, &domain.ErrUnauthorized{Message: "missing access key"}
	}
	if err != nil {
		return nil, err
	}

	if m.opts.ConsentGated && c.ConsentState() == domain.ConsentDeclined {
		m.metrics.IncrAccessDenied("consent_withdrawn")
		m.cache.Delete(c.AccessKey)
		return nil, &domain.ErrUnauthorized{Message: "access suspended: data collection consent was withdrawn"}
	}

	span.SetAttributes(attribute.String("customer.id", c.ID))
	cp := *c
	return &cp, nil
}

func (m *AccessManager) byKey(ctx context.Context, key string) (*domain.Customer, error) {
	if c, ok := m.cache.Get(key); ok {
		m.metrics.IncrCacheHit("customer")
		return c, nil
	}
	m.metrics.IncrCacheMiss("customer")

	c, err := m.store.GetByAccessKey(ctx, key)
	if err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			m.metrics.IncrAccessDenied("unknown_key")
			return nil, &domain.ErrUnauthorized{Message: "invalid access key"}
		}
		return nil, fmt.Errorf("resolve by key: %w", err)
	}
	m.touch(ctx, c)
	return c, nil
}

func (m *AccessManager) byEmail(ctx context.Context, email string) (*domain.Customer, error) {
	c, err := m.store.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			m.metrics.IncrAccessDenied("unknown_email")
			return nil, &domain.ErrUnauthorized{Message: "no account found for this email"}
		}
		return nil, fmt.Errorf("resolve by email: %w", err)
	}
	m.touch(ctx, c)
	return c, nil
}

// touch stamps last_login and caches the snapshot. A failed stamp is
// logged only.
func (m *AccessManager) touch(ctx context.Context, c *domain.Customer) {
	now := m.now().UTC()
	if err := m.store.UpdateLastLogin(ctx, c.ID, now); err != nil {
		m.logger.Warn("access: last_login not updated",
			zap.String("customer_id", c.ID),
			zap.Error(err),
		)
	} else {
		c.LastLogin = &now
	}
	m.Remember(c)
}

// Remember refreshes the cached snapshot of c.
func (m *AccessManager) Remember(c *domain.Customer) {
	if c == nil || c.AccessKey == "" {
		return
	}
	cp := *c
	m.cache.Set(c.AccessKey, &cp)
}

// Forget drops the cached snapshot for key.
func (m *AccessManager) Forget(key string) {
	m.cache.Delete(key)
}

// ============================================================
// Entitlements
// ============================================================

// HasAccessToDashboard evaluates the union of the customer's products.
func (m *AccessManager) HasAccessToDashboard(c *domain.Customer, d domain.Dashboard) bool {
	return c != nil && c.HasAccessToDashboard(d)
}

// Authorize returns ErrForbidden carrying the cheapest product that would
// unlock d.
func (m *AccessManager) Authorize(c *domain.Customer, d domain.Dashboard) error {
	if m.HasAccessToDashboard(c, d) {
		return nil
	}
	m.metrics.IncrAccessDenied("entitlement")
	return &domain.ErrForbidden{Action: "open dashboard", Dashboard: d, Upsell: d.UpsellProduct()}
}

// Dashboards lists the dashboards c may open in canonical order.
func (m *AccessManager) Dashboards(c *domain.Customer) []domain.Dashboard {
	if c == nil {
		return nil
	}
	return c.Dashboards()
}

// ============================================================
// Usage quota
// ============================================================

// Usage reports the quota state without consuming it. Expired windows read
// as empty.
func (m *AccessManager) Usage(c *domain.Customer) domain.CustomerUsage {
	if !m.limited(c) {
		return domain.CustomerUsage{}
	}
	used, resetAt := m.window(c)
	return domain.CustomerUsage{
		Limited:   true,
		Used:      used,
		Limit:     m.opts.WeeklyLimit,
		Remaining: max(m.opts.WeeklyLimit-used, 0),
		ResetsAt:  &resetAt,
	}
}

// CheckQuota fails with ErrLimitExceeded when no analysis is left.
func (m *AccessManager) CheckQuota(c *domain.Customer) error {
	if !m.limited(c) {
		return nil
	}
	used, resetAt := m.window(c)
	if used >= m.opts.WeeklyLimit {
		m.metrics.IncrAccessDenied("quota")
		return &domain.ErrLimitExceeded{Limit: m.opts.WeeklyLimit, Used: used, ResetsAt: resetAt}
	}
	return nil
}

// ConsumeAnalysis counts one analysis against the free-tier quota. Paid
// customers are never limited.
func (m *AccessManager) ConsumeAnalysis(ctx context.Context, c *domain.Customer) (*domain.CustomerUsage, error) {
	ctx, span := accessTracer.Start(ctx, "AccessManager.ConsumeAnalysis")
	defer span.End()

	if !m.limited(c) {
		return &domain.CustomerUsage{}, nil
	}

	unlock := m.lock(c.ID)
	defer unlock()

	// another request may have counted since c was resolved
	if cur, ok := m.cache.Get(c.AccessKey); ok && cur.ID == c.ID {
		c.UsageCount = cur.UsageCount
		c.UsageResetDate = cur.UsageResetDate
	}

	used, resetAt := m.window(c)
	if used >= m.opts.WeeklyLimit {
		m.metrics.IncrAccessDenied("quota")
		return nil, &domain.ErrLimitExceeded{Limit: m.opts.WeeklyLimit, Used: used, ResetsAt: resetAt}
	}

	used++
	if err := m.store.UpdateUsage(ctx, c.ID, used, resetAt); err != nil {
		m.logger.Warn("access: usage counter not persisted",
			zap.String("customer_id", c.ID),
			zap.Error(err),
		)
	}
	c.UsageCount = used
	c.UsageResetDate = &resetAt
	m.Remember(c)

	span.SetAttributes(attribute.Int("usage.count", used))
	return &domain.CustomerUsage{
		Limited:   true,
		Used:      used,
		Limit:     m.opts.WeeklyLimit,
		Remaining: m.opts.WeeklyLimit - used,
		ResetsAt:  &resetAt,
	}, nil
}

func (m *AccessManager) lock(id string) func() {
	v, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (m *AccessManager) limited(c *domain.Customer) bool {
	return c != nil && m.opts.WeeklyLimit > 0 && c.IsFreeTier()
}

// window returns the effective counter, restarting it once the reset date
// has passed.
func (m *AccessManager) window(c *domain.Customer) (int, time.Time) {
	now := m.now().UTC()
	if c.UsageResetDate == nil || !now.Before(*c.UsageResetDate) {
		return 0, now.Add(UsageWindow)
	}
	return c.UsageCount, *c.UsageResetDate
}
