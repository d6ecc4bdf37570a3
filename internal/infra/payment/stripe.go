// Package payment verifies payment-processor webhooks.
package payment

import (
	"strings"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"

	jsoniter "github.com/json-iterator/go"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const checkoutCompleted = "checkout.session.completed"

// StripeVerifier turns signed Stripe events into purchases.
type StripeVerifier struct {
	secret string
}

func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: secret}
}

// ParsePurchase verifies the Stripe-Signature header and extracts the
// purchase from a completed checkout. Other event types return (nil, nil).
func (v *StripeVerifier) ParsePurchase(payload []byte, signature string) (*domain.Purchase, error) {
	if v.secret == "" {
		return nil, &domain.ErrUnauthorized{Message: "webhook secret not configured"}
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid webhook signature"}
	}
	if string(event.Type) != checkoutCompleted {
		return nil, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, &domain.ErrValidation{Field: "payload", Message: "malformed checkout session"}
	}

	email := session.CustomerEmail
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		email = session.CustomerDetails.Email
	}
	if email == "" {
		return nil, &domain.ErrValidation{Field: "customer_details.email", Message: "missing customer email"}
	}

	product, ok := domain.ParseProduct(strings.ToLower(strings.TrimSpace(session.Metadata["product"])))
	if !ok || !product.IsPaid() {
		return nil, &domain.ErrValidation{Field: "metadata.product", Message: "unknown product"}
	}

	return &domain.Purchase{
		SessionID: session.ID,
		Email:     domain.NormalizeEmail(email),
		Product:   product,
		Amount:    session.AmountTotal,
		Currency:  string(session.Currency),
	}, nil
}
