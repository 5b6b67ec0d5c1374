// Package photos stores asset photos as flat files named by random ids.
package photos

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrUnsupportedType = errors.New("photos: unsupported image type")
	ErrTooLarge        = errors.New("photos: image too large")
	ErrInvalidRef      = errors.New("photos: invalid reference")
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// FS keeps photos in one directory.
type FS struct {
	root     string
	maxBytes int64
}

// NewFS creates the directory if needed. maxBytes <= 0 means 10 MB.
func NewFS(root string, maxBytes int64) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("photos: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("photos: mkdir: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &FS{root: abs, maxBytes: maxBytes}, nil
}

// path rejects references that are not a bare file name.
func (f *FS) path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return filepath.Join(f.root, ref), nil
}

// Save writes the image in r and returns its reference. The content type is
// sniffed from the data, not taken from the client.
func (f *FS) Save(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("photos: read: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return "", ErrTooLarge
	}
	ext, ok := extensions[http.DetectContentType(data)]
	if !ok {
		return "", ErrUnsupportedType
	}

	ref := uuid.NewString() + ext
	abs, _ := f.path(ref)

	tmp, err := os.CreateTemp(f.root, ".photo-tmp-*")
	if err != nil {
		return "", fmt.Errorf("photos: create temp: %w", err)
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("photos: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("photos: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("photos: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return "", fmt.Errorf("photos: rename: %w", err)
	}
	success = true
	return ref, nil
}

// Open returns the photo for reading. The caller closes it.
func (f *FS) Open(ref string) (*os.File, error) {
	abs, err := f.path(ref)
	if err != nil {
		return nil, err
	}
	return os.Open(abs)
}

// Delete removes a photo. A missing file is not an error.
func (f *FS) Delete(ref string) error {
	abs, err := f.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("photos: delete %s: %w", ref, err)
	}
	return nil
}
