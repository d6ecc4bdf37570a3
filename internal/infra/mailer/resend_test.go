package mailer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/resilience"

	"github.com/resend/resend-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSender struct {
	calls int
	fail  int
	last  *resend.SendEmailRequest
}

func (f *fakeSender) SendWithContext(_ context.Context, req *resend.SendEmailRequest) (*resend.SendEmailResponse, error) {
	f.calls++
	f.last = req
	if f.calls <= f.fail {
		return nil, errors.New("resend unavailable")
	}
	return &resend.SendEmailResponse{Id: "email-1"}, nil
}

func newTestMailer(s sender) *Resend {
	return newResend(s, "Etsy Analytics Pro <support@architecte-ia.fr>",
		resilience.NewCircuitBreaker("resend-test", zap.NewNop()),
		resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond},
		zap.NewNop())
}

func TestSendAccessEmail_RendersLink(t *testing.T) {
	fake := &fakeSender{}
	m := newTestMailer(fake)

	err := m.SendAccessEmail(context.Background(), "shop@example.com", domain.ProductBundle, "https://app.example/dashboard?key=abc")
	require.NoError(t, err)

	require.NotNil(t, fake.last)
	assert.Equal(t, []string{"shop@example.com"}, fake.last.To)
	assert.Contains(t, fake.last.Html, `href="https://app.example/dashboard?key=abc"`)
	assert.Contains(t, fake.last.Html, "<strong>bundle</strong>")
}

func TestSendAccessEmail_RetriesThenSucceeds(t *testing.T) {
	fake := &fakeSender{fail: 2}
	m := newTestMailer(fake)

	require.NoError(t, m.SendAccessEmail(context.Background(), "a@b.c", domain.ProductSEO, "https://x/?key=k"))
	assert.Equal(t, 3, fake.calls)
}

func TestSendAccessEmail_FailureIsExternal(t *testing.T) {
	fake := &fakeSender{fail: 100}
	m := newTestMailer(fake)

	err := m.SendAccessEmail(context.Background(), "a@b.c", domain.ProductSEO, "https://x/?key=k")
	var ext *domain.ErrExternalService
	require.True(t, errors.As(err, &ext), "expected ErrExternalService, got %v", err)
	assert.Equal(t, "resend", ext.Service)
}
