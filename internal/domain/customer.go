package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// ============================================================
// Customer
// ============================================================

// Customer is a row of the customers table plus the products bought
// through customer_products.
type Customer struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	AccessKey        string     `json:"-"`
	Product          Product    `json:"product"`
	Products         []Product  `json:"products"`
	ShopName         string     `json:"shop_name,omitempty"`
	DataConsent      *bool      `json:"data_consent"` // nil = never asked
	ConsentUpdatedAt *time.Time `json:"consent_updated_at,omitempty"`
	SignupDate       time.Time  `json:"signup_date"`
	LastLogin        *time.Time `json:"last_login,omitempty"`
	UsageCount       int        `json:"usage_count"`
	UsageResetDate   *time.Time `json:"usage_reset_date,omitempty"`
}

// AllProducts returns the primary product and every additional purchase,
// deduplicated, in purchase order.
func (c *Customer) AllProducts() []Product {
	seen := make(map[Product]struct{}, len(c.Products)+1)
	out := make([]Product, 0, len(c.Products)+1)
	add := func(p Product) {
		if p == "" {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	add(c.Product)
	for _, p := range c.Products {
		add(p)
	}
	return out
}

// ConsentState reports the stored consent decision.
func (c *Customer) ConsentState() ConsentState {
	switch {
	case c.DataConsent == nil:
		return ConsentUnknown
	case *c.DataConsent:
		return ConsentAccepted
	default:
		return ConsentDeclined
	}
}

// HasConsentDecision is true once a choice has been persisted.
func (c *Customer) HasConsentDecision() bool {
	return c.ConsentUpdatedAt != nil
}

// AnonymousID is the hex sha256 of the lowercased email. It is the only
// identity the collector ever stores.
func (c *Customer) AnonymousID() string {
	return HashIdentity(c.Email)
}

// HashIdentity hashes a normalized email.
func HashIdentity(email string) string {
	sum := sha256.Sum256([]byte(NormalizeEmail(email)))
	return hex.EncodeToString(sum[:])
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ============================================================
// Consent
// ============================================================

// ConsentState is the tri-state data-collection consent.
type ConsentState string

const (
	ConsentUnknown  ConsentState = "unknown"
	ConsentAccepted ConsentState = "accepted"
	ConsentDeclined ConsentState = "declined"
)

// BoolPtr is a small helper for optional flags.
func BoolPtr(b bool) *bool { return &b }

// ============================================================
// Signup & purchase
// ============================================================

// SignupRequest is the free-account form.
type SignupRequest struct {
	Email       string `json:"email"`
	ShopName    string `json:"shop_name"`
	DataConsent bool   `json:"data_consent"`
}

// Purchase is a completed checkout as reported by the payment processor.
type Purchase struct {
	SessionID string
	Email     string
	Product   Product
	Amount    int64
	Currency  string
}

// CustomerUsage is returned by the quota check.
type CustomerUsage struct {
	Limited   bool       `json:"limited"`
	Used      int        `json:"used"`
	Limit     int        `json:"limit"`
	Remaining int        `json:"remaining"`
	ResetsAt  *time.Time `json:"resets_at,omitempty"`
}
