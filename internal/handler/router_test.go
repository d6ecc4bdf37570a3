package handler_test

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/analytics"
	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/handler"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/cache"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/observability"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/payment"
	"github.com/architecte-ia/etsy-analytics-pro/internal/port/mocks"
	"github.com/architecte-ia/etsy-analytics-pro/internal/service"
	"github.com/architecte-ia/etsy-analytics-pro/internal/session"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type fixture struct {
	router    http.Handler
	store     *mocks.MockCustomerStore
	collector *mocks.MockCollector
	codec     *session.Codec
}

func newFixture(t *testing.T, opts handler.Options) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockCustomerStore(ctrl)
	collector := mocks.NewMockCollector(ctrl)
	mailer := mocks.NewMockMailer(ctrl)
	metrics := observability.NewMetrics()
	logger := zap.NewNop()

	customers := cache.New[*domain.Customer](time.Minute)
	tables := cache.New[*analytics.Table](time.Minute)
	t.Cleanup(customers.Close)
	t.Cleanup(tables.Close)

	keys, err := session.DeriveKeys("test-secret")
	require.NoError(t, err)
	codec := session.NewCodec(keys.Session, time.Hour, false)

	access := service.NewAccessManager(store, customers, service.AccessOptions{
		ConsentGated: opts.ConsentGated,
		WeeklyLimit:  opts.WeeklyLimit,
	}, metrics, logger)
	engine := analytics.NewEngine(tables, metrics, logger)

	router := handler.NewRouter(handler.Deps{
		Access:     access,
		Consent:    service.NewConsentService(store, access, logger),
		Onboarding: service.NewOnboardingService(store, access, mailer, payment.NewStripeVerifier("whsec_test"), "http://localhost:8080", metrics, logger),
		Analysis:   service.NewAnalysisService(engine, access, collector, metrics, logger),
		Sessions:   codec,
		CSRFKey:    keys.CSRF,
		Health: []handler.HealthCheck{
			{Name: "customers", Check: store.Ping},
		},
		Metrics: metrics,
		Logger:  logger,
		Options: opts,
	})
	return &fixture{router: router, store: store, collector: collector, codec: codec}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// expectCustomer makes KEY-1 resolve to a customer owning products.
func (f *fixture) expectCustomer(products ...domain.Product) *domain.Customer {
	c := &domain.Customer{ID: "cust-1", Email: "shop@example.com", AccessKey: "KEY-1", Product: products[0], Products: products[1:]}
	f.store.EXPECT().GetByAccessKey(gomock.Any(), "KEY-1").Return(c, nil).AnyTimes()
	f.store.EXPECT().UpdateLastLogin(gomock.Any(), "cust-1", gomock.Any()).Return(nil).AnyTimes()
	return c
}

func uploadRequest(t *testing.T, target, field, name string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, handler.Options{})
	f.store.EXPECT().Ping(gomock.Any()).Return(nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var hs domain.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hs))
	assert.Equal(t, "healthy", hs.Status)
	assert.Len(t, hs.Services, 2)
}

func TestHealthz_DegradedStore(t *testing.T) {
	f := newFixture(t, handler.Options{})
	f.store.EXPECT().Ping(gomock.Any()).Return(context.DeadlineExceeded)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var hs domain.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hs))
	assert.Equal(t, "degraded", hs.Status)
}

func TestReadyzAndMetrics(t *testing.T) {
	f := newFixture(t, handler.Options{})

	for _, path := range []string{"/readyz", "/metrics", "/ping", "/v1/stats/usage"} {
		rec := f.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestAPI_MissingKeyIsUnauthorized(t *testing.T) {
	f := newFixture(t, handler.Options{})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/v1/me", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "unauthorized")
}

func TestAPI_MeWithHeaderKey(t *testing.T) {
	f := newFixture(t, handler.Options{})
	f.expectCustomer(domain.ProductFinance, domain.ProductSEO)

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set(handler.AccessKeyHeader, "KEY-1")
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		ID         string             `json:"id"`
		Dashboards []domain.Dashboard `json:"dashboards"`
		Consent    string             `json:"consent"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "cust-1", body.ID)
	assert.Equal(t, []domain.Dashboard{domain.DashboardFinance, domain.DashboardSEO}, body.Dashboards)
	assert.Equal(t, "unknown", body.Consent)
}

func TestAPI_MeWithSessionCookie(t *testing.T) {
	f := newFixture(t, handler.Options{})
	f.expectCustomer(domain.ProductBundle)

	token, err := f.codec.Encode(&session.Session{AccessKey: "KEY-1"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: token})

	rec := f.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_DashboardsListsUpsell(t *testing.T) {
	f := newFixture(t, handler.Options{})
	f.expectCustomer(domain.ProductFinance)

	req := httptest.NewRequest(http.MethodGet, "/v1/dashboards", nil)
	req.Header.Set(handler.AccessKeyHeader, "KEY-1")
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out []struct {
		ID       domain.Dashboard `json:"id"`
		Unlocked bool             `json:"unlocked"`
		Upsell   domain.Product   `json:"upsell"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 3)
	assert.True(t, out[0].Unlocked)
	assert.False(t, out[1].Unlocked)
	assert.Equal(t, domain.ProductCustomer, out[1].Upsell)
	assert.Equal(t, domain.ProductSEO, out[2].Upsell)
}

func TestAPI_AnalyzeFinance(t *testing.T) {
	f := newFixture(t, handler.Options{})
	f.expectCustomer(domain.ProductFinance)
	f.collector.EXPECT().Collect(gomock.Any(), gomock.Any(), domain.DashboardFinance, gomock.Any(), gomock.Any()).Return(nil)

	orders, _ := analytics.TemplateCSV("orders")
	req := uploadRequest(t, "/v1/dashboards/finance_pro/analyze", "orders", "orders.csv", orders)
	req.Header.Set(handler.AccessKeyHeader, "KEY-1")
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Result domain.AnalysisResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Result.Finance)
	assert.InDelta(t, 107.0, body.Result.Finance.Revenue, 0.001)
	assert.Equal(t, 3, body.Result.Finance.Orders)
	assert.Nil(t, body.Result.Usage)
}

func TestAPI_AnalyzeLockedDashboardIsForbidden(t *testing.T) {
	f := newFixture(t, handler.Options{})
	f.expectCustomer(domain.ProductFinance)

	req := uploadRequest(t, "/v1/dashboards/seo_analyzer/analyze", "listings", "listings.csv", []byte("Title,Price\nRing,10\n"))
	req.Header.Set(handler.AccessKeyHeader, "KEY-1")
	rec := f.do(req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `"upsell":"seo"`)
}

func TestAPI_AnalyzeMissingColumns(t *testing.T) {
	f := newFixture(t, handler.Options{})
	f.expectCustomer(domain.ProductFinance)

	req := uploadRequest(t, "/v1/dashboards/finance_pro/analyze", "orders", "orders.csv", []byte("Item Name,Quantity\nRing,1\n"))
	req.Header.Set(handler.AccessKeyHeader, "KEY-1")
	rec := f.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"missing":["Date","Price"]`)
}

func TestAPI_UnknownDashboard(t *testing.T) {
	f := newFixture(t, handler.Options{})
	f.expectCustomer(domain.ProductBundle)

	req := uploadRequest(t, "/v1/dashboards/nope/analyze", "file", "x.csv", []byte("a\n1\n"))
	req.Header.Set(handler.AccessKeyHeader, "KEY-1")
	rec := f.do(req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPages_PostWithoutCSRFTokenIsRefused(t *testing.T) {
	f := newFixture(t, handler.Options{})

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("email=shop@example.com"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := f.do(req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPages_DashboardWithoutSessionRedirectsToLogin(t *testing.T) {
	f := newFixture(t, handler.Options{})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestPages_URLKeyMovesIntoCookie(t *testing.T) {
	f := newFixture(t, handler.Options{})
	f.expectCustomer(domain.ProductFinance)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/dashboard?key=KEY-1", nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	sess, err := f.codec.Decode(cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, "KEY-1", sess.AccessKey)
}

func TestPages_InvalidURLKey(t *testing.T) {
	f := newFixture(t, handler.Options{})
	f.store.EXPECT().GetByAccessKey(gomock.Any(), "BAD").Return(nil, &domain.ErrNotFound{Resource: "customer", ID: "BAD"})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/dashboard?key=BAD", nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/?error=invalid_key", rec.Header().Get("Location"))
}

func TestPages_HubShowsConsentPromptOnce(t *testing.T) {
	f := newFixture(t, handler.Options{WeeklyLimit: 3})
	f.expectCustomer(domain.ProductFree)

	token, err := f.codec.Encode(&session.Session{AccessKey: "KEY-1"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: token})
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `action="/consent"`)
	assert.Contains(t, rec.Body.String(), "3 of 3 free analyses left")

	// the rewritten cookie carries the prompted flag
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	req = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(cookie)
	rec = f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `action="/consent"`)
}

func TestPages_LockedDashboardShowsUpsell(t *testing.T) {
	f := newFixture(t, handler.Options{})
	f.expectCustomer(domain.ProductFinance)

	token, err := f.codec.Encode(&session.Session{AccessKey: "KEY-1"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/dashboards/customer_intelligence", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: token})
	rec := f.do(req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Upgrade to unlock this dashboard")
}

func TestTemplateDownload(t *testing.T) {
	f := newFixture(t, handler.Options{})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/templates/orders.csv", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Sale Date,"))

	rec = f.do(httptest.NewRequest(http.MethodGet, "/templates/unknown.csv", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStripeWebhook_BadSignature(t *testing.T) {
	f := newFixture(t, handler.Options{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{"type":"checkout.session.completed"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := f.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_signature")
}
