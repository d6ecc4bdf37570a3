package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/cache"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/observability"
	"github.com/architecte-ia/etsy-analytics-pro/internal/port/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2024, 11, 20, 12, 0, 0, 0, time.UTC)

func newAccess(t *testing.T, opts AccessOptions) (*AccessManager, *mocks.MockCustomerStore) {
	t.Helper()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockCustomerStore(ctrl)
	c := cache.New[*domain.Customer](time.Minute)
	t.Cleanup(c.Close)

	m := NewAccessManager(store, c, opts, observability.NewMetrics(), zap.NewNop())
	m.now = func() time.Time { return fixedNow }
	return m, store
}

func customer(products ...domain.Product) *domain.Customer {
	c := &domain.Customer{ID: "cust-1", Email: "shop@example.com", AccessKey: "KEY-1", Product: products[0]}
	c.Products = products[1:]
	return c
}

func TestResolve_SessionKeyWinsAndIsCached(t *testing.T) {
	m, store := newAccess(t, AccessOptions{})
	ctx := context.Background()

	store.EXPECT().GetByAccessKey(gomock.Any(), "KEY-1").Return(customer(domain.ProductFinance), nil).Times(1)
	store.EXPECT().UpdateLastLogin(gomock.Any(), "cust-1", fixedNow).Return(nil).Times(1)

	c, err := m.Resolve(ctx, Credentials{SessionKey: "KEY-1", URLKey: "OTHER", Email: "x@y.z"})
	require.NoError(t, err)
	assert.Equal(t, "cust-1", c.ID)
	require.NotNil(t, c.LastLogin)

	// second resolution is served from the snapshot cache
	again, err := m.Resolve(ctx, Credentials{SessionKey: "KEY-1"})
	require.NoError(t, err)
	assert.Equal(t, "cust-1", again.ID)

	// callers get a copy
	again.Product = domain.ProductBundle
	third, _ := m.Resolve(ctx, Credentials{SessionKey: "KEY-1"})
	assert.Equal(t, domain.ProductFinance, third.Product)
}

func TestResolve_URLKeyThenEmail(t *testing.T) {
	m, store := newAccess(t, AccessOptions{})
	ctx := context.Background()

	store.EXPECT().GetByAccessKey(gomock.Any(), "URLKEY").Return(customer(domain.ProductSEO), nil)
	store.EXPECT().UpdateLastLogin(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	c, err := m.Resolve(ctx, Credentials{URLKey: " URLKEY "})
	require.NoError(t, err)
	assert.Equal(t, domain.ProductSEO, c.Product)

	store.EXPECT().GetByEmail(gomock.Any(), "shop@example.com").Return(customer(domain.ProductFree), nil)
	c, err = m.Resolve(ctx, Credentials{Email: "  Shop@Example.com "})
	require.NoError(t, err)
	assert.Equal(t, domain.ProductFree, c.Product)
}

func TestResolve_Unauthorized(t *testing.T) {
	m, store := newAccess(t, AccessOptions{})
	ctx := context.Background()
	var unauthorized *domain.ErrUnauthorized

	_, err := m.Resolve(ctx, Credentials{})
	assert.ErrorAs(t, err, &unauthorized)

	store.EXPECT().GetByAccessKey(gomock.Any(), "NOPE").Return(nil, &domain.ErrNotFound{Resource: "customer"})
	_, err = m.Resolve(ctx, Credentials{URLKey: "NOPE"})
	assert.ErrorAs(t, err, &unauthorized)

	store.EXPECT().GetByEmail(gomock.Any(), "ghost@example.com").Return(nil, &domain.ErrNotFound{Resource: "customer"})
	_, err = m.Resolve(ctx, Credentials{Email: "ghost@example.com"})
	assert.ErrorAs(t, err, &unauthorized)
}

func TestResolve_StoreDownIsExternal(t *testing.T) {
	m, store := newAccess(t, AccessOptions{})
	store.EXPECT().GetByAccessKey(gomock.Any(), "KEY-1").
		Return(nil, &domain.ErrExternalService{Service: "supabase", Err: errors.New("503")})

	_, err := m.Resolve(context.Background(), Credentials{SessionKey: "KEY-1"})
	var ext *domain.ErrExternalService
	assert.ErrorAs(t, err, &ext)
	var unauthorized *domain.ErrUnauthorized
	assert.False(t, errors.As(err, &unauthorized))
}

func TestResolve_LastLoginFailureIsIgnored(t *testing.T) {
	m, store := newAccess(t, AccessOptions{})
	store.EXPECT().GetByAccessKey(gomock.Any(), "KEY-1").Return(customer(domain.ProductFinance), nil)
	store.EXPECT().UpdateLastLogin(gomock.Any(), "cust-1", gomock.Any()).Return(errors.New("timeout"))

	c, err := m.Resolve(context.Background(), Credentials{SessionKey: "KEY-1"})
	require.NoError(t, err)
	assert.Nil(t, c.LastLogin)
}

func TestResolve_ConsentGated(t *testing.T) {
	declined := customer(domain.ProductFinance)
	declined.DataConsent = domain.BoolPtr(false)
	at := fixedNow
	declined.ConsentUpdatedAt = &at

	t.Run("gated refuses", func(t *testing.T) {
		m, store := newAccess(t, AccessOptions{ConsentGated: true})
		cp := *declined
		store.EXPECT().GetByAccessKey(gomock.Any(), "KEY-1").Return(&cp, nil)
		store.EXPECT().UpdateLastLogin(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

		_, err := m.Resolve(context.Background(), Credentials{SessionKey: "KEY-1"})
		var unauthorized *domain.ErrUnauthorized
		assert.ErrorAs(t, err, &unauthorized)
	})

	t.Run("toggle allows", func(t *testing.T) {
		m, store := newAccess(t, AccessOptions{})
		cp := *declined
		store.EXPECT().GetByAccessKey(gomock.Any(), "KEY-1").Return(&cp, nil)
		store.EXPECT().UpdateLastLogin(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

		_, err := m.Resolve(context.Background(), Credentials{SessionKey: "KEY-1"})
		assert.NoError(t, err)
	})
}

func TestEntitlements(t *testing.T) {
	m, _ := newAccess(t, AccessOptions{})

	tests := []struct {
		name     string
		products []domain.Product
		want     []domain.Dashboard
	}{
		{"starter", []domain.Product{domain.ProductStarter}, []domain.Dashboard{domain.DashboardFinance}},
		{"finance", []domain.Product{domain.ProductFinance}, []domain.Dashboard{domain.DashboardFinance}},
		{"customer", []domain.Product{domain.ProductCustomer}, []domain.Dashboard{domain.DashboardCustomer}},
		{"seo", []domain.Product{domain.ProductSEO}, []domain.Dashboard{domain.DashboardSEO}},
		{"bundle", []domain.Product{domain.ProductBundle}, domain.AllDashboards},
		{"premium", []domain.Product{domain.ProductPremium}, domain.AllDashboards},
		{"free", []domain.Product{domain.ProductFree}, domain.AllDashboards},
		{"finance+seo", []domain.Product{domain.ProductFinance, domain.ProductSEO}, []domain.Dashboard{domain.DashboardFinance, domain.DashboardSEO}},
		{"seo+bundle", []domain.Product{domain.ProductSEO, domain.ProductBundle}, domain.AllDashboards},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := customer(tt.products...)
			assert.Equal(t, tt.want, m.Dashboards(c))
			for _, d := range domain.AllDashboards {
				want := false
				for _, w := range tt.want {
					want = want || w == d
				}
				assert.Equal(t, want, m.HasAccessToDashboard(c, d), d)
			}
		})
	}

	assert.False(t, m.HasAccessToDashboard(nil, domain.DashboardFinance))
}

func TestAuthorize_Upsell(t *testing.T) {
	m, _ := newAccess(t, AccessOptions{})
	c := customer(domain.ProductFinance)

	assert.NoError(t, m.Authorize(c, domain.DashboardFinance))

	err := m.Authorize(c, domain.DashboardSEO)
	var forbidden *domain.ErrForbidden
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, domain.ProductSEO, forbidden.Upsell)
	assert.Equal(t, domain.DashboardSEO, forbidden.Dashboard)
}

func TestConsumeAnalysis_FreeQuota(t *testing.T) {
	m, store := newAccess(t, AccessOptions{WeeklyLimit: 2})
	ctx := context.Background()
	c := customer(domain.ProductFree)

	resetAt := fixedNow.Add(UsageWindow)
	store.EXPECT().UpdateUsage(gomock.Any(), "cust-1", 1, resetAt).Return(nil)
	store.EXPECT().UpdateUsage(gomock.Any(), "cust-1", 2, resetAt).Return(nil)

	u, err := m.ConsumeAnalysis(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, 1, u.Used)
	assert.Equal(t, 1, u.Remaining)

	u, err = m.ConsumeAnalysis(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, 0, u.Remaining)

	_, err = m.ConsumeAnalysis(ctx, c)
	var limit *domain.ErrLimitExceeded
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, 2, limit.Used)
	assert.Equal(t, resetAt, limit.ResetsAt)
	assert.Error(t, m.CheckQuota(c))
}

func TestConsumeAnalysis_ConcurrentRequestsCountTwice(t *testing.T) {
	m, store := newAccess(t, AccessOptions{WeeklyLimit: 10})
	resetAt := fixedNow.Add(UsageWindow)
	store.EXPECT().UpdateUsage(gomock.Any(), "cust-1", 1, resetAt).Return(nil).Times(1)
	store.EXPECT().UpdateUsage(gomock.Any(), "cust-1", 2, resetAt).Return(nil).Times(1)

	// each request holds its own copy of the same snapshot
	first, second := customer(domain.ProductFree), customer(domain.ProductFree)
	used := make([]int, 2)
	var wg sync.WaitGroup
	for i, c := range []*domain.Customer{first, second} {
		i, c := i, c
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := m.ConsumeAnalysis(context.Background(), c)
			if assert.NoError(t, err) {
				used[i] = u.Used
			}
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []int{1, 2}, used)
	assert.Equal(t, 2, max(first.UsageCount, second.UsageCount))
}

func TestConsumeAnalysis_WindowResetsLazily(t *testing.T) {
	m, store := newAccess(t, AccessOptions{WeeklyLimit: 2})
	expired := fixedNow.Add(-time.Hour)
	c := customer(domain.ProductFree)
	c.UsageCount = 2
	c.UsageResetDate = &expired

	assert.Equal(t, 0, m.Usage(c).Used)

	store.EXPECT().UpdateUsage(gomock.Any(), "cust-1", 1, fixedNow.Add(UsageWindow)).Return(nil)
	u, err := m.ConsumeAnalysis(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 1, u.Used)
}

func TestConsumeAnalysis_PaidIsUnlimited(t *testing.T) {
	m, _ := newAccess(t, AccessOptions{WeeklyLimit: 1})
	c := customer(domain.ProductFree, domain.ProductFinance)
	c.UsageCount = 50

	u, err := m.ConsumeAnalysis(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, u.Limited)
	assert.NoError(t, m.CheckQuota(c))
}
