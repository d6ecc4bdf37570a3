// Package blob holds the local-disk BlobStore used when no Supabase
// Storage bucket is configured.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
)

// Local stores objects under a root directory, mirroring the object path.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create collection dir: %w", err)
	}
	return &Local{root: root}, nil
}

func (l *Local) Name() string { return "local:" + l.root }

// Put writes through a temp file and rename so readers never see a partial object.
func (l *Local) Put(ctx context.Context, path string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), full)
}

func (l *Local) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &domain.ErrNotFound{Resource: "object", ID: path}
	}
	return data, err
}

// resolve rejects paths escaping the root.
func (l *Local) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", &domain.ErrValidation{Field: "path", Message: "object path escapes storage root"}
	}
	return filepath.Join(l.root, clean), nil
}
