package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/resilience"
)

// ============================================================
// Storage bucket (implements port.BlobStore)
// ============================================================

// Storage stores objects in one Supabase Storage bucket.
type Storage struct {
	client *Client
	bucket string
}

// NewStorage binds the client to a bucket.
func NewStorage(client *Client, bucket string) *Storage {
	return &Storage{client: client, bucket: bucket}
}

// Name identifies the backend in logs.
func (s *Storage) Name() string {
	return "supabase:" + s.bucket
}

func (s *Storage) objectURL(path string) string {
	segments := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.client.baseURL, url.PathEscape(s.bucket), strings.Join(segments, "/"))
}

// Put uploads (or overwrites) an object.
func (s *Storage) Put(ctx context.Context, path string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return s.client.execute(ctx, "Storage.Put", "storage", func(ctx context.Context) error {
		_, _, err := s.client.send(ctx, http.MethodPost, s.objectURL(path), data, map[string]string{
			"Content-Type": contentType,
			"x-upsert":     "true",
		})
		return err
	})
}

// Get downloads an object. Missing objects yield ErrNotFound.
func (s *Storage) Get(ctx context.Context, path string) ([]byte, error) {
	var out []byte
	err := s.client.execute(ctx, "Storage.Get", "storage", func(ctx context.Context) error {
		body, status, err := s.client.send(ctx, http.MethodGet, s.objectURL(path), nil, nil)
		if err != nil {
			if isMissingObject(status, body) {
				return resilience.Permanent(&domain.ErrNotFound{Resource: "object", ID: path})
			}
			return err
		}
		out = body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Storage answers 400 with a not_found payload for missing keys.
func isMissingObject(status int, body []byte) bool {
	if status == http.StatusNotFound {
		return true
	}
	if status != http.StatusBadRequest {
		return false
	}
	var payload struct {
		StatusCode string `json:"statusCode"`
		Error      string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	return payload.StatusCode == "404" || strings.EqualFold(payload.Error, "not_found")
}
