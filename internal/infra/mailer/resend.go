// Package mailer delivers the access-link email after signup or purchase.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/resilience"

	"github.com/resend/resend-go/v2"
	"github.com/sony/gobreaker"
	"github.com/yuin/goldmark"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("mailer")

const accessEmailMarkdown = `# Welcome to Etsy Analytics Pro

Your **{{.Product}}** access is ready.

[Open my dashboards]({{.Link}})

Keep this link private: it is your personal access key. You can also
sign in with your email address at any time.

Questions? Just reply to this email.
`

var accessEmailTmpl = template.Must(template.New("access").Parse(accessEmailMarkdown))

// sender is the part of the Resend SDK we use.
type sender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Resend sends through the Resend API behind a breaker and retries.
type Resend struct {
	emails sender
	from   string
	cb     *gobreaker.CircuitBreaker
	cfg    resilience.Config
	md     goldmark.Markdown
	logger *zap.Logger
}

func NewResend(apiKey, from string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Resend {
	return newResend(resend.NewClient(apiKey).Emails, from, cb, cfg, logger)
}

func newResend(emails sender, from string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Resend {
	return &Resend{
		emails: emails,
		from:   from,
		cb:     cb,
		cfg:    cfg,
		md:     goldmark.New(),
		logger: logger,
	}
}

func (m *Resend) SendAccessEmail(ctx context.Context, to string, product domain.Product, accessLink string) error {
	ctx, span := tracer.Start(ctx, "Resend.SendAccessEmail")
	defer span.End()
	span.SetAttributes(attribute.String("product", string(product)))

	html, err := renderAccessEmail(m.md, product, accessLink)
	if err != nil {
		return err
	}

	req := &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{to},
		Subject: "Your Etsy Analytics Pro access",
		Html:    html,
	}

	_, err = m.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, m.cfg, func() error {
			_, err := m.emails.SendWithContext(ctx, req)
			return err
		})
	})
	if err == nil {
		m.logger.Info("access email sent", zap.String("product", string(product)))
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.ErrCircuitOpen{Service: "resend"}
	}
	return &domain.ErrExternalService{Service: "resend", Err: err}
}

func renderAccessEmail(md goldmark.Markdown, product domain.Product, link string) (string, error) {
	var src bytes.Buffer
	if err := accessEmailTmpl.Execute(&src, struct {
		Product string
		Link    string
	}{Product: string(product), Link: link}); err != nil {
		return "", fmt.Errorf("render access email: %w", err)
	}

	var out bytes.Buffer
	if err := md.Convert(src.Bytes(), &out); err != nil {
		return "", fmt.Errorf("convert access email: %w", err)
	}
	return out.String(), nil
}

// Log is used when no Resend key is configured: the link is logged
// instead of mailed.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log { return &Log{logger: logger} }

func (m *Log) SendAccessEmail(_ context.Context, to string, product domain.Product, accessLink string) error {
	m.logger.Warn("email delivery disabled; access link not sent",
		zap.String("to_hash", domain.HashIdentity(to)),
		zap.String("product", string(product)),
		zap.String("link", accessLink),
	)
	return nil
}
