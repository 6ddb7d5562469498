// Package filestore keeps attachments on the local filesystem under a data
// root and serves them back by relative path.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/civicfix-service/internal/domain"
)

// Store implements the pipeline asset store on disk.
type Store struct {
	root    string
	baseURL string
}

// New creates the data root if needed. URLs are baseURL + "/" + ref.
func New(root, baseURL string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create asset root: %w", err)
	}
	return &Store{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Upload writes a.Data at key, a slash-separated relative path.
func (s *Store) Upload(ctx context.Context, key string, a domain.Attachment) (domain.StoredAsset, error) {
	if err := ctx.Err(); err != nil {
		return domain.StoredAsset{}, err
	}
	ref, err := cleanRef(key)
	if err != nil {
		return domain.StoredAsset{}, err
	}
	full := filepath.Join(s.root, filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return domain.StoredAsset{}, fmt.Errorf("create asset dir: %w", err)
	}
	if err := os.WriteFile(full, a.Data, 0o644); err != nil {
		return domain.StoredAsset{}, fmt.Errorf("write asset: %w", err)
	}
	return domain.StoredAsset{Ref: ref, URL: s.baseURL + "/" + ref}, nil
}

// Delete removes the file at ref. A missing file is not an error.
func (s *Store) Delete(_ context.Context, ref string) error {
	full, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete asset: %w", err)
	}
	return nil
}

// Open returns the file at ref and its content type.
func (s *Store) Open(_ context.Context, ref string) (io.ReadCloser, string, error) {
	full, err := s.resolve(ref)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", domain.ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("open asset: %w", err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(full))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return f, contentType, nil
}

// resolve maps a relative key into the data root.
func (s *Store) resolve(key string) (string, error) {
	ref, err := cleanRef(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(ref)), nil
}

// cleanRef normalises key so it cannot climb out of the root.
func cleanRef(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid asset path %q", key)
	}
	return strings.TrimPrefix(clean, "/"), nil
}
