// Package storage stores uploaded images on local disk and hands back the
// public URL they are served under.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrTooLarge        = errors.New("upload too large")
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrInvalidPath     = errors.New("invalid object path")
)

// Store is an object store addressed by slash-separated paths.
type Store interface {
	Upload(ctx context.Context, objectPath string, r io.Reader) (string, error)
}

var imageExt = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Local writes objects under Dir and returns URLs under PublicURL.
type Local struct {
	dir       string
	publicURL string
	maxBytes  int64
}

// NewLocal creates the root directory if needed.
func NewLocal(dir, publicURL string, maxBytes int64) (*Local, error) {
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", dir, err)
	}
	return &Local{dir: dir, publicURL: strings.TrimRight(publicURL, "/"), maxBytes: maxBytes}, nil
}

// Dir is the root directory, for serving files.
func (l *Local) Dir() string { return l.dir }

// Upload stores an image at objectPath (without extension; one is chosen
// from the sniffed content type) and returns its public URL. An existing
// object at the same path is replaced.
func (l *Local) Upload(ctx context.Context, objectPath string, r io.Reader) (string, error) {
	clean := path.Clean("/" + objectPath)
	if clean == "/" || strings.Contains(objectPath, "..") {
		return "", ErrInvalidPath
	}
	data, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("storage: read upload: %w", err)
	}
	if int64(len(data)) > l.maxBytes {
		return "", ErrTooLarge
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ext, ok := imageExt[http.DetectContentType(data)]
	if !ok {
		return "", ErrUnsupportedType
	}

	rel := strings.TrimPrefix(clean, "/") + ext
	dst := filepath.Join(l.dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("storage: temp file: %w", err)
	}
	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: rename: %w", err)
	}
	return l.publicURL + "/" + rel, nil
}
