// Package storage keeps uploaded images and PDFs in an object store and maps
// object paths to the public URLs saved on content rows.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrObjectExists   = errors.New("storage: object already exists")
	ErrObjectNotFound = errors.New("storage: object not found")
	ErrInvalidPath    = errors.New("storage: invalid object path")
)

// ObjectStore is the object storage used for uploads.
type ObjectStore interface {
	// Upload stores data under path. Without overwrite an existing object
	// is reported as ErrObjectExists.
	Upload(ctx context.Context, path, contentType string, data []byte, overwrite bool) error
	// Open streams an object's content.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	PublicURL(path string) string
	// PathFromURL reverses PublicURL. It reports false for URLs this store
	// did not issue.
	PathFromURL(publicURL string) (string, bool)
}

// CleanPath validates an object path: relative, slash separated, no empty,
// "." or ".." segments.
func CleanPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || strings.HasPrefix(trimmed, "/") || strings.Contains(trimmed, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return trimmed, nil
}
