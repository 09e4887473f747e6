// Package blobstore stores uploaded photo objects.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("blob not found")

// Storage is the object storage used by the gateway backends.
type Storage interface {
	// Upload writes data at path, replacing any existing object, and
	// returns the public URL of the object.
	Upload(ctx context.Context, path string, data io.Reader, contentType string) (string, error)

	// Download opens the object at path.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	// URL returns the public URL for path.
	URL(path string) string

	// Exists reports whether an object is stored at path.
	Exists(ctx context.Context, path string) (bool, error)
}

// Local keeps objects on the filesystem under a base directory.
type Local struct {
	basePath string
	baseURL  string
}

var _ Storage = (*Local)(nil)

// NewLocal creates the base directory if needed. baseURL is the prefix
// under which the HTTP gateway serves the objects,
// e.g. "http://localhost:8080/api/v1/blobs".
func NewLocal(basePath, baseURL string) (*Local, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &Local{
		basePath: abs,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}, nil
}

// BasePath returns the absolute storage directory.
func (s *Local) BasePath() string {
	return s.basePath
}

// resolve maps an object path to a file inside basePath.
func (s *Local) resolve(path string) (string, string, error) {
	clean := filepath.ToSlash(filepath.Clean("/" + path))
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == "." {
		return "", "", fmt.Errorf("invalid blob path: %q", path)
	}
	full := filepath.Join(s.basePath, filepath.FromSlash(clean))
	if !strings.HasPrefix(full, s.basePath+string(filepath.Separator)) {
		return "", "", fmt.Errorf("invalid blob path: %q", path)
	}
	return clean, full, nil
}

// Upload writes to a temporary file and renames it into place, so readers
// never observe a partially written object.
func (s *Local) Upload(ctx context.Context, path string, data io.Reader, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, full, err := s.resolve(path)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("store file: %w", err)
	}

	return s.URL(clean), nil
}

func (s *Local) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

func (s *Local) Delete(ctx context.Context, path string) error {
	_, full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (s *Local) URL(path string) string {
	clean := strings.TrimPrefix(filepath.ToSlash(filepath.Clean("/"+path)), "/")
	return s.baseURL + "/" + clean
}

func (s *Local) Exists(ctx context.Context, path string) (bool, error) {
	_, full, err := s.resolve(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// UploadBytes is a convenience wrapper around Upload.
func UploadBytes(ctx context.Context, s Storage, path string, data []byte, contentType string) (string, error) {
	return s.Upload(ctx, path, bytes.NewReader(data), contentType)
}
