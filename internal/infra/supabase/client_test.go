package supabase_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/resilience"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/supabase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *supabase.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return supabase.NewClient(
		srv.Client(),
		srv.URL,
		"anon",
		"service",
		resilience.NewCircuitBreaker("supabase-test", zap.NewNop()),
		resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond},
		zap.NewNop(),
	)
}

func TestGetByAccessKey_Found(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/customers", r.URL.Path)
		assert.Equal(t, "eq.key-123", r.URL.Query().Get("access_key"))
		assert.Equal(t, "Bearer service", r.Header.Get("Authorization"))
		assert.Equal(t, "anon", r.Header.Get("apikey"))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{
			"id": "c1", "email": "shop@example.com", "access_key": "key-123",
			"product": "starter", "data_consent": true,
			"consent_updated_at": "2024-05-01T10:00:00+00:00",
			"signup_date": "2024-04-01T09:00:00+00:00", "usage_count": 2,
			"customer_products": [{"product": "seo"}, {"product": "unknown"}]
		}]`)
	})

	c, err := client.GetByAccessKey(context.Background(), "key-123")
	require.NoError(t, err)

	assert.Equal(t, "c1", c.ID)
	assert.Equal(t, domain.ProductStarter, c.Product)
	assert.Equal(t, []domain.Product{domain.ProductSEO}, c.Products)
	assert.Equal(t, domain.ConsentAccepted, c.ConsentState())
	assert.True(t, c.HasAccessToDashboard(domain.DashboardSEO))
	assert.False(t, c.HasAccessToDashboard(domain.DashboardCustomer))
	assert.Equal(t, 2, c.UsageCount)
}

func TestGetByAccessKey_NotFoundIsNotRetried(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		io.WriteString(w, `[]`)
	})

	_, err := client.GetByAccessKey(context.Background(), "missing")

	var nf *domain.ErrNotFound
	require.True(t, errors.As(err, &nf), "expected ErrNotFound, got %v", err)
	assert.Equal(t, 1, calls)
}

func TestGetByEmail_ServerErrorBecomesExternal(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eq.shop@example.com", r.URL.Query().Get("email"))
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := client.GetByEmail(context.Background(), "  Shop@Example.com ")

	var ext *domain.ErrExternalService
	require.True(t, errors.As(err, &ext), "expected ErrExternalService, got %v", err)
	assert.Equal(t, "supabase", ext.Service)
}

func TestCreate_Conflict(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"code":"23505","message":"duplicate key value violates unique constraint"}`)
	})

	_, err := client.Create(context.Background(), &domain.Customer{
		ID: "c1", Email: "a@b.c", AccessKey: "k", Product: domain.ProductFree, SignupDate: time.Now(),
	})

	var conflict *domain.ErrConflict
	assert.True(t, errors.As(err, &conflict), "expected ErrConflict, got %v", err)
}

func TestUpdateConsent_SendsPatch(t *testing.T) {
	var body string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "eq.c1", r.URL.Query().Get("id"))
		assert.Equal(t, "return=minimal", r.Header.Get("Prefer"))
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusNoContent)
	})

	err := client.UpdateConsent(context.Background(), "c1", false, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Contains(t, body, `"data_consent":false`)
	assert.Contains(t, body, `"consent_updated_at":"2024-06-01T00:00:00Z"`)
}

func TestResetExpiredUsage_CountsRows(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Query().Get("usage_reset_date"), "lt."))
		io.WriteString(w, `[{"id":"a"},{"id":"b"}]`)
	})

	n, err := client.ResetExpiredUsage(context.Background(), time.Now(), time.Now().Add(7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStorage_PutGetMissing(t *testing.T) {
	var mu sync.Mutex
	objects := map[string]string{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, "true", r.Header.Get("x-upsert"))
			b, _ := io.ReadAll(r.Body)
			objects[r.URL.Path] = string(b)
			io.WriteString(w, `{"Key":"ok"}`)
		case http.MethodGet:
			v, ok := objects[r.URL.Path]
			if !ok {
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, `{"statusCode":"404","error":"not_found","message":"Object not found"}`)
				return
			}
			io.WriteString(w, v)
		}
	})
	store := supabase.NewStorage(client, "user-data")
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "raw_data/abc/finance_pro/manifest.json", []byte(`{"files":{}}`), "application/json"))

	got, err := store.Get(ctx, "raw_data/abc/finance_pro/manifest.json")
	require.NoError(t, err)
	assert.Equal(t, `{"files":{}}`, string(got))

	_, err = store.Get(ctx, "raw_data/abc/seo_analyzer/manifest.json")
	var nf *domain.ErrNotFound
	assert.True(t, errors.As(err, &nf), "expected ErrNotFound, got %v", err)
	assert.Equal(t, "supabase:user-data", store.Name())
}
