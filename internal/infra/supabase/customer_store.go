package supabase

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/resilience"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ============================================================
// Access Store (implements port.CustomerStore)
// ============================================================

const customerSelect = "select=*,customer_products(product,purchased_at)"

// customerRow maps the customers table and the embedded purchases.
type customerRow struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	AccessKey        string     `json:"access_key"`
	Product          string     `json:"product"`
	ShopName         *string    `json:"shop_name"`
	DataConsent      *bool      `json:"data_consent"`
	ConsentUpdatedAt *time.Time `json:"consent_updated_at"`
	SignupDate       *time.Time `json:"signup_date"`
	LastLogin        *time.Time `json:"last_login"`
	UsageCount       *int       `json:"usage_count"`
	UsageResetDate   *time.Time `json:"usage_reset_date"`
	CustomerProducts []struct {
		Product string `json:"product"`
	} `json:"customer_products"`
}

func (r *customerRow) toDomain() *domain.Customer {
	c := &domain.Customer{
		ID:               r.ID,
		Email:            r.Email,
		AccessKey:        r.AccessKey,
		DataConsent:      r.DataConsent,
		ConsentUpdatedAt: r.ConsentUpdatedAt,
		LastLogin:        r.LastLogin,
		UsageResetDate:   r.UsageResetDate,
	}
	if p, ok := domain.ParseProduct(r.Product); ok {
		c.Product = p
	}
	for _, cp := range r.CustomerProducts {
		if p, ok := domain.ParseProduct(cp.Product); ok {
			c.Products = append(c.Products, p)
		}
	}
	if r.ShopName != nil {
		c.ShopName = *r.ShopName
	}
	if r.SignupDate != nil {
		c.SignupDate = *r.SignupDate
	}
	if r.UsageCount != nil {
		c.UsageCount = *r.UsageCount
	}
	return c
}

// GetByAccessKey resolves an access key to its customer.
func (c *Client) GetByAccessKey(ctx context.Context, accessKey string) (*domain.Customer, error) {
	return c.getOne(ctx, "GetByAccessKey", "access_key", accessKey)
}

// GetByEmail resolves a (normalized) email to its customer.
func (c *Client) GetByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	return c.getOne(ctx, "GetByEmail", "email", domain.NormalizeEmail(email))
}

func (c *Client) getOne(ctx context.Context, op, column, value string) (*domain.Customer, error) {
	var customer *domain.Customer

	err := c.execute(ctx, op, "supabase", func(ctx context.Context) error {
		path := fmt.Sprintf("customers?%s=eq.%s&%s&limit=1", column, url.QueryEscape(value), customerSelect)
		body, err := c.doGet(ctx, path)
		if err != nil {
			return err
		}
		if isEmptyRows(body) {
			return resilience.Permanent(&domain.ErrNotFound{Resource: "customer", ID: column})
		}

		var rows []customerRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return resilience.Permanent(fmt.Errorf("failed to decode customer: %w", err))
		}
		if len(rows) == 0 {
			return resilience.Permanent(&domain.ErrNotFound{Resource: "customer", ID: column})
		}
		customer = rows[0].toDomain()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return customer, nil
}

// Create inserts a customer. A duplicate email or key yields ErrConflict.
func (c *Client) Create(ctx context.Context, in *domain.Customer) (*domain.Customer, error) {
	var created *domain.Customer

	err := c.execute(ctx, "Create", "supabase", func(ctx context.Context) error {
		row := map[string]any{
			"id":          in.ID,
			"email":       domain.NormalizeEmail(in.Email),
			"access_key":  in.AccessKey,
			"product":     string(in.Product),
			"signup_date": in.SignupDate.UTC().Format(time.RFC3339),
			"usage_count": in.UsageCount,
		}
		if in.ShopName != "" {
			row["shop_name"] = in.ShopName
		}
		if in.DataConsent != nil {
			row["data_consent"] = *in.DataConsent
		}
		if in.ConsentUpdatedAt != nil {
			row["consent_updated_at"] = in.ConsentUpdatedAt.UTC().Format(time.RFC3339)
		}
		if in.UsageResetDate != nil {
			row["usage_reset_date"] = in.UsageResetDate.UTC().Format(time.RFC3339)
		}

		body, err := c.doPost(ctx, "customers", row)
		if err != nil {
			if isUniqueViolation(err) {
				return resilience.Permanent(&domain.ErrConflict{Message: "customer already exists"})
			}
			return err
		}

		var rows []customerRow
		if err := json.Unmarshal(body, &rows); err != nil || len(rows) == 0 {
			created = in
			return nil
		}
		created = rows[0].toDomain()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// AddProduct records an additional purchase.
func (c *Client) AddProduct(ctx context.Context, customerID string, product domain.Product) error {
	return c.execute(ctx, "AddProduct", "supabase", func(ctx context.Context) error {
		_, err := c.doPost(ctx, "customer_products", map[string]any{
			"customer_id":  customerID,
			"product":      string(product),
			"purchased_at": time.Now().UTC().Format(time.RFC3339),
		})
		if isUniqueViolation(err) {
			return nil
		}
		return err
	})
}

// UpdateLastLogin stamps the last successful access.
func (c *Client) UpdateLastLogin(ctx context.Context, customerID string, at time.Time) error {
	return c.patchCustomer(ctx, "UpdateLastLogin", customerID, map[string]any{
		"last_login": at.UTC().Format(time.RFC3339),
	})
}

// UpdateConsent persists the consent decision and its timestamp.
func (c *Client) UpdateConsent(ctx context.Context, customerID string, consent bool, at time.Time) error {
	return c.patchCustomer(ctx, "UpdateConsent", customerID, map[string]any{
		"data_consent":       consent,
		"consent_updated_at": at.UTC().Format(time.RFC3339),
	})
}

// UpdateUsage stores the weekly analysis counter.
func (c *Client) UpdateUsage(ctx context.Context, customerID string, count int, resetAt time.Time) error {
	return c.patchCustomer(ctx, "UpdateUsage", customerID, map[string]any{
		"usage_count":      count,
		"usage_reset_date": resetAt.UTC().Format(time.RFC3339),
	})
}

// ResetExpiredUsage zeroes every counter whose window ended before now.
func (c *Client) ResetExpiredUsage(ctx context.Context, now, nextReset time.Time) (int, error) {
	var n int
	err := c.execute(ctx, "ResetExpiredUsage", "supabase", func(ctx context.Context) error {
		path := fmt.Sprintf("customers?usage_reset_date=lt.%s&select=id", url.QueryEscape(now.UTC().Format(time.RFC3339)))
		body, err := c.doPatch(ctx, path, map[string]any{
			"usage_count":      0,
			"usage_reset_date": nextReset.UTC().Format(time.RFC3339),
		}, true)
		if err != nil {
			return err
		}
		var rows []struct {
			ID string `json:"id"`
		}
		if !isEmptyRows(body) {
			if err := json.Unmarshal(body, &rows); err != nil {
				return resilience.Permanent(err)
			}
		}
		n = len(rows)
		return nil
	})
	return n, err
}

func (c *Client) patchCustomer(ctx context.Context, op, customerID string, data map[string]any) error {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("customer.id", customerID))
	return c.execute(ctx, op, "supabase", func(ctx context.Context) error {
		_, err := c.doPatch(ctx, "customers?id=eq."+url.QueryEscape(customerID), data, false)
		return err
	})
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "status 409")
}
