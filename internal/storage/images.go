// Package storage keeps confirmation photos taken when a poster is hung,
// taken down or reported damaged.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// ErrNotImage is returned by Save when the payload is not a supported image.
var ErrNotImage = errors.New("payload is not a supported image")

// ErrInvalidKey is returned for keys that could escape the storage directory.
var ErrInvalidKey = errors.New("invalid image key")

var allowed = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
}

// LocalStore writes images to a directory and serves them under BaseURL.
type LocalStore struct {
	Dir     string
	BaseURL string
}

// NewLocalStore creates dir if needed.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return &LocalStore{Dir: dir, BaseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Save stores data under a fresh random key and returns the key.
func (s *LocalStore) Save(_ context.Context, data []byte) (string, error) {
	mt := mimetype.Detect(data)
	if !allowed[mt.String()] {
		return "", fmt.Errorf("%w: detected %s", ErrNotImage, mt.String())
	}
	key := uuid.NewString() + mt.Extension()
	if err := os.WriteFile(filepath.Join(s.Dir, key), data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return key, nil
}

// Delete removes the image stored under key.  A missing file is not an error.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	if key == "" || key != filepath.Base(key) {
		return ErrInvalidKey
	}
	err := os.Remove(filepath.Join(s.Dir, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// URL returns the public address of the image stored under key.
func (s *LocalStore) URL(key string) string {
	return s.BaseURL + "/" + key
}
