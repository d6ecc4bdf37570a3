package payment_test

import (
	"errors"
	"testing"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"
)

const secret = "whsec_test"

func sign(t *testing.T, payload string) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

const completed = `{
  "id": "evt_1", "object": "event", "type": "checkout.session.completed",
  "data": {"object": {
    "id": "cs_1", "object": "checkout.session", "amount_total": 6700, "currency": "eur",
    "customer_details": {"email": "Shop@Example.com"},
    "metadata": {"product": "bundle"}
  }}
}`

func TestParsePurchase_Completed(t *testing.T) {
	v := payment.NewStripeVerifier(secret)

	p, err := v.ParsePurchase([]byte(completed), sign(t, completed))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "cs_1", p.SessionID)
	assert.Equal(t, "shop@example.com", p.Email)
	assert.Equal(t, domain.ProductBundle, p.Product)
	assert.Equal(t, int64(6700), p.Amount)
	assert.Equal(t, "eur", p.Currency)
}

func TestParsePurchase_BadSignature(t *testing.T) {
	v := payment.NewStripeVerifier(secret)

	_, err := v.ParsePurchase([]byte(completed), "t=1,v1=deadbeef")
	var unauthorized *domain.ErrUnauthorized
	assert.True(t, errors.As(err, &unauthorized))
}

func TestParsePurchase_IgnoresOtherEvents(t *testing.T) {
	v := payment.NewStripeVerifier(secret)
	payload := `{"id":"evt_2","object":"event","type":"invoice.paid","data":{"object":{}}}`

	p, err := v.ParsePurchase([]byte(payload), sign(t, payload))
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestParsePurchase_UnknownProduct(t *testing.T) {
	v := payment.NewStripeVerifier(secret)
	payload := `{"id":"evt_3","object":"event","type":"checkout.session.completed",
	  "data":{"object":{"id":"cs_3","customer_details":{"email":"a@b.c"},"metadata":{"product":"gold"}}}}`

	_, err := v.ParsePurchase([]byte(payload), sign(t, payload))
	var ve *domain.ErrValidation
	assert.True(t, errors.As(err, &ve))
}
