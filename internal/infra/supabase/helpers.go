package supabase

import (
	"context"
	"fmt"
	"net/http"
)

// ============================================================
// PostgREST helpers
// ============================================================

func (c *Client) restURL(path string) string {
	return fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
}

var jsonHeaders = map[string]string{
	"Content-Type": "application/json",
	"Accept":       "application/json",
}

func withPrefer(prefer string) map[string]string {
	h := make(map[string]string, len(jsonHeaders)+1)
	for k, v := range jsonHeaders {
		h[k] = v
	}
	h["Prefer"] = prefer
	return h
}

// doGet reads rows. An empty result is returned as an empty body.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	body, _, err := c.send(ctx, http.MethodGet, c.restURL(path), nil, jsonHeaders)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// doPost inserts a row and returns its representation.
func (c *Client) doPost(ctx context.Context, table string, data map[string]any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	body, _, err := c.send(ctx, http.MethodPost, c.restURL(table), payload, withPrefer("return=representation"))
	return body, err
}

// doPatch updates matching rows. With returning=true the updated rows come back.
func (c *Client) doPatch(ctx context.Context, path string, data map[string]any, returning bool) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	prefer := "return=minimal"
	if returning {
		prefer = "return=representation"
	}
	body, _, err := c.send(ctx, http.MethodPatch, c.restURL(path), payload, withPrefer(prefer))
	return body, err
}

func isEmptyRows(body []byte) bool {
	s := string(body)
	return len(body) == 0 || s == "[]" || s == "null"
}
