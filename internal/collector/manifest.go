package collector

import (
	"context"
	"errors"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/port"
)

// manifest remembers the last stored version of each file name for one
// user and dashboard.
type manifest struct {
	Files map[string]manifestEntry `json:"files"`
}

type manifestEntry struct {
	Hash     string    `json:"hash"`
	Path     string    `json:"path"`
	StoredAt time.Time `json:"stored_at"`
}

func manifestPath(userID string, dashboard domain.Dashboard) string {
	return "raw_data/" + userID + "/" + string(dashboard) + "/manifest.json"
}

// loadManifest returns an empty manifest when none was stored yet.
func loadManifest(ctx context.Context, store port.BlobStore, path string) (*manifest, error) {
	m := &manifest{Files: make(map[string]manifestEntry)}

	data, err := store.Get(ctx, path)
	var nf *domain.ErrNotFound
	if errors.As(err, &nf) {
		return m, nil
	}
	if err != nil {
		return m, err
	}

	if err := json.Unmarshal(data, m); err != nil {
		return &manifest{Files: make(map[string]manifestEntry)}, err
	}
	if m.Files == nil {
		m.Files = make(map[string]manifestEntry)
	}
	return m, nil
}

func (m *manifest) save(ctx context.Context, store port.BlobStore, path string) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return store.Put(ctx, path, data, "application/json")
}
