package service

import (
	"context"
	"errors"
	"strings"
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

type stubParser struct {
	purchase *domain.Purchase
	err      error
}

func (p stubParser) ParsePurchase([]byte, string) (*domain.Purchase, error) {
	return p.purchase, p.err
}

type onboardingFixture struct {
	svc     *OnboardingService
	access  *AccessManager
	store   *mocks.MockCustomerStore
	mailer  *mocks.MockMailer
	metrics *observability.Metrics
}

func newOnboarding(t *testing.T, parser PurchaseParser) onboardingFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := onboardingFixture{
		store:   mocks.NewMockCustomerStore(ctrl),
		mailer:  mocks.NewMockMailer(ctrl),
		metrics: observability.NewMetrics(),
	}
	snapshots := cache.New[*domain.Customer](time.Minute)
	t.Cleanup(snapshots.Close)
	f.access = NewAccessManager(f.store, snapshots, AccessOptions{}, f.metrics, zap.NewNop())
	f.access.now = func() time.Time { return fixedNow }
	f.svc = NewOnboardingService(f.store, f.access, f.mailer, parser, "https://app.example.com/", f.metrics, zap.NewNop())
	f.svc.now = func() time.Time { return fixedNow }
	f.svc.newKey = func() (string, error) { return "NEWKEY", nil }
	return f
}

func echoCreate(_ context.Context, c *domain.Customer) (*domain.Customer, error) {
	cp := *c
	return &cp, nil
}

func TestNewAccessKey(t *testing.T) {
	k, err := NewAccessKey()
	require.NoError(t, err)
	assert.Len(t, k, accessKeyLength)
	for _, r := range k {
		assert.True(t, strings.ContainsRune(accessKeyAlphabet, r))
	}
}

func TestSignup_CreatesFreeAccount(t *testing.T) {
	f := newOnboarding(t, stubParser{})
	ctx := context.Background()

	f.store.EXPECT().GetByEmail(gomock.Any(), "new@shop.com").Return(nil, &domain.ErrNotFound{Resource: "customer"})
	f.store.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(echoCreate)
	f.mailer.EXPECT().SendAccessEmail(gomock.Any(), "new@shop.com", domain.ProductFree, "https://app.example.com/dashboard?key=NEWKEY").Return(nil)

	c, err := f.svc.Signup(ctx, domain.SignupRequest{Email: " New@Shop.com ", ShopName: "Bijoux", DataConsent: true})
	require.NoError(t, err)
	assert.Equal(t, "NEWKEY", c.AccessKey)
	assert.Equal(t, domain.ProductFree, c.Product)
	assert.Equal(t, domain.ConsentAccepted, c.ConsentState())
	assert.True(t, c.HasConsentDecision())
	require.NotNil(t, c.UsageResetDate)
	assert.Equal(t, fixedNow.Add(UsageWindow), *c.UsageResetDate)
	assert.NotEmpty(t, c.ID)
}

func TestSignup_Validation(t *testing.T) {
	f := newOnboarding(t, stubParser{})
	var validation *domain.ErrValidation

	_, err := f.svc.Signup(context.Background(), domain.SignupRequest{Email: "not-an-email", DataConsent: true})
	assert.ErrorAs(t, err, &validation)

	_, err = f.svc.Signup(context.Background(), domain.SignupRequest{Email: "a@b.com"})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "data_consent", validation.Field)
}

func TestSignup_ExistingEmailConflicts(t *testing.T) {
	f := newOnboarding(t, stubParser{})
	f.store.EXPECT().GetByEmail(gomock.Any(), "a@b.com").Return(customer(domain.ProductFree), nil)

	_, err := f.svc.Signup(context.Background(), domain.SignupRequest{Email: "a@b.com", DataConsent: true})
	var conflict *domain.ErrConflict
	assert.ErrorAs(t, err, &conflict)
}

func TestSignup_MailFailureDoesNotFail(t *testing.T) {
	f := newOnboarding(t, stubParser{})
	f.store.EXPECT().GetByEmail(gomock.Any(), gomock.Any()).Return(nil, &domain.ErrNotFound{})
	f.store.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(echoCreate)
	f.mailer.EXPECT().SendAccessEmail(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&domain.ErrExternalService{Service: "resend", Err: errors.New("429")})

	_, err := f.svc.Signup(context.Background(), domain.SignupRequest{Email: "a@b.com", DataConsent: true})
	assert.NoError(t, err)
}

func TestHandlePurchase_NewCustomer(t *testing.T) {
	f := newOnboarding(t, stubParser{purchase: &domain.Purchase{SessionID: "cs_1", Email: "Buyer@Shop.com", Product: domain.ProductBundle, Amount: 4900, Currency: "eur"}})

	f.store.EXPECT().GetByEmail(gomock.Any(), "buyer@shop.com").Return(nil, &domain.ErrNotFound{})
	f.store.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(echoCreate)
	f.mailer.EXPECT().SendAccessEmail(gomock.Any(), "buyer@shop.com", domain.ProductBundle, gomock.Any()).Return(nil)

	c, err := f.svc.HandlePurchase(context.Background(), []byte("{}"), "sig")
	require.NoError(t, err)
	assert.Equal(t, domain.ProductBundle, c.Product)
	assert.Nil(t, c.DataConsent)
	assert.Len(t, c.Dashboards(), 3)
}

func TestHandlePurchase_ExistingCustomerGainsProduct(t *testing.T) {
	f := newOnboarding(t, stubParser{purchase: &domain.Purchase{Email: "shop@example.com", Product: domain.ProductSEO}})
	existing := customer(domain.ProductFinance)

	f.store.EXPECT().GetByEmail(gomock.Any(), "shop@example.com").Return(existing, nil)
	f.store.EXPECT().AddProduct(gomock.Any(), "cust-1", domain.ProductSEO).Return(nil)
	f.mailer.EXPECT().SendAccessEmail(gomock.Any(), "shop@example.com", domain.ProductSEO, "https://app.example.com/dashboard?key=KEY-1").Return(nil)

	c, err := f.svc.HandlePurchase(context.Background(), nil, "sig")
	require.NoError(t, err)
	assert.Equal(t, []domain.Dashboard{domain.DashboardFinance, domain.DashboardSEO}, c.Dashboards())
}

func TestHandlePurchase_UpgradeVisibleOnNextResolve(t *testing.T) {
	f := newOnboarding(t, stubParser{purchase: &domain.Purchase{Email: "shop@example.com", Product: domain.ProductSEO}})
	ctx := context.Background()

	gomock.InOrder(
		f.store.EXPECT().GetByAccessKey(gomock.Any(), "KEY-1").Return(customer(domain.ProductFinance), nil),
		f.store.EXPECT().GetByAccessKey(gomock.Any(), "KEY-1").Return(customer(domain.ProductFinance, domain.ProductSEO), nil),
	)
	f.store.EXPECT().UpdateLastLogin(gomock.Any(), "cust-1", gomock.Any()).Return(nil).AnyTimes()
	f.store.EXPECT().GetByEmail(gomock.Any(), "shop@example.com").Return(customer(domain.ProductFinance), nil)
	f.store.EXPECT().AddProduct(gomock.Any(), "cust-1", domain.ProductSEO).Return(nil)
	f.mailer.EXPECT().SendAccessEmail(gomock.Any(), "shop@example.com", domain.ProductSEO, gomock.Any()).Return(nil)

	before, err := f.access.Resolve(ctx, Credentials{SessionKey: "KEY-1"})
	require.NoError(t, err)
	assert.Error(t, f.access.Authorize(before, domain.DashboardSEO))

	_, err = f.svc.HandlePurchase(ctx, nil, "sig")
	require.NoError(t, err)

	after, err := f.access.Resolve(ctx, Credentials{SessionKey: "KEY-1"})
	require.NoError(t, err)
	assert.NoError(t, f.access.Authorize(after, domain.DashboardSEO))
}

func TestHandlePurchase_ConcurrentCreateFallsBackToUpgrade(t *testing.T) {
	f := newOnboarding(t, stubParser{purchase: &domain.Purchase{Email: "shop@example.com", Product: domain.ProductCustomer}})

	gomock.InOrder(
		f.store.EXPECT().GetByEmail(gomock.Any(), "shop@example.com").Return(nil, &domain.ErrNotFound{}),
		f.store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, &domain.ErrConflict{Message: "exists"}),
		f.store.EXPECT().GetByEmail(gomock.Any(), "shop@example.com").Return(customer(domain.ProductFree), nil),
	)
	f.store.EXPECT().AddProduct(gomock.Any(), "cust-1", domain.ProductCustomer).Return(nil)
	f.mailer.EXPECT().SendAccessEmail(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	_, err := f.svc.HandlePurchase(context.Background(), nil, "sig")
	assert.NoError(t, err)
}

func TestHandlePurchase_IgnoredAndRejected(t *testing.T) {
	f := newOnboarding(t, stubParser{})
	c, err := f.svc.HandlePurchase(context.Background(), nil, "sig")
	assert.NoError(t, err)
	assert.Nil(t, c)

	f = newOnboarding(t, stubParser{err: &domain.ErrUnauthorized{Message: "bad signature"}})
	_, err = f.svc.HandlePurchase(context.Background(), nil, "sig")
	var unauthorized *domain.ErrUnauthorized
	assert.ErrorAs(t, err, &unauthorized)
}
