// Package blob stores slide images in a bucket: a local directory, memory or S3.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/kataras/figma-slides/internal/apperr"
	"github.com/kataras/figma-slides/internal/config"
)

var (
	// ErrNotFound is returned when no object is stored under a key.
	ErrNotFound = fmt.Errorf("blob: %w", apperr.ErrNotFound)
	// ErrSigningUnsupported is returned by SignedURL when the backend cannot
	// hand out direct links. Callers serve the object themselves.
	ErrSigningUnsupported = errors.New("blob: signed URLs not supported")
	// ErrInvalidKey is returned for empty keys and keys escaping the bucket.
	ErrInvalidKey = fmt.Errorf("blob: %w: key", apperr.ErrInvalidInput)
)

// Bucket stores opaque objects by key. Implementations are safe for concurrent use.
type Bucket interface {
	// Put stores data under key, replacing any previous object.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get opens the object stored under key. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)
	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// SignedURL returns a time-limited direct link to the object.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// cleanKey normalizes key to a relative slash-separated path inside the bucket.
func cleanKey(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", ErrInvalidKey
	}
	if cleaned != strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("%w %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

// NewFromConfig creates a Bucket based on the blob config type.
func NewFromConfig(ctx context.Context, cfg config.BlobConfig) (Bucket, error) {
	switch cfg.Type {
	case config.BlobTypeFS:
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("fs bucket requires fs_root to be set")
		}
		return NewFS(cfg.FSRoot)
	case config.BlobTypeMemory:
		return NewMemory(), nil
	case config.BlobTypeS3:
		return NewS3(ctx, S3Options{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	default:
		return nil, fmt.Errorf("unknown blob type: %s", cfg.Type)
	}
}
