// Package supabase provides a client for Supabase (PostgREST + Storage).
// It backs the Access Store and, when configured, the collector's
// object storage.
package supabase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/resilience"

	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client wraps HTTP calls to the Supabase REST and Storage APIs.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	if apiKey == "" {
		apiKey = serviceRoleKey
	}
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
	}
}

// statusError is a non-2xx answer.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("supabase returned status %d: %s", e.Status, e.Body)
}

// execute runs fn under the breaker and the retry policy, inside a span.
// Not-found and other 4xx answers are not retried. Everything else
// surfaces as ErrExternalService (or ErrCircuitOpen).
func (c *Client) execute(ctx context.Context, op, service string, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "Supabase."+op)
	defer span.End()

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			return fn(ctx)
		})
	})
	if err == nil {
		return nil
	}

	var notFound *domain.ErrNotFound
	if errors.As(err, &notFound) {
		return notFound
	}
	var conflict *domain.ErrConflict
	if errors.As(err, &conflict) {
		return conflict
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.ErrCircuitOpen{Service: service}
	}
	return &domain.ErrExternalService{Service: service, Err: err}
}

// send performs one authenticated request and classifies the answer.
// 4xx answers come back wrapped with resilience.Permanent.
func (c *Client) send(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		c.logger.Error("supabase: failed to create request",
			zap.String("method", method),
			zap.String("url", url),
			zap.Error(err),
		)
		return nil, 0, resilience.Permanent(err)
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceRoleKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", method),
			zap.String("url", url),
			zap.Error(err),
		)
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("supabase: failed to read response body",
			zap.String("method", method),
			zap.String("url", url),
			zap.Error(err),
		)
		return nil, resp.StatusCode, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(respBody), 512)),
		)
		serr := &statusError{Status: resp.StatusCode, Body: string(respBody)}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return respBody, resp.StatusCode, resilience.Permanent(serr)
		}
		return respBody, resp.StatusCode, serr
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", method),
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
	)
	return respBody, resp.StatusCode, nil
}

// Ping checks that the customers table answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.execute(ctx, "Ping", "supabase", func(ctx context.Context) error {
		_, err := c.doGet(ctx, "customers?select=id&limit=1")
		return err
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
