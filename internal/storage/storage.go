// Package storage provides object storage for narration clips, mixed
// artifacts and background music.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultURLTTL is how long resolved URLs stay valid.
const DefaultURLTTL = 15 * time.Minute

var (
	// ErrNotFound is returned when an object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrUnsupportedURI is returned for URIs the backend cannot serve.
	ErrUnsupportedURI = errors.New("unsupported storage uri")
)

// Storage stores objects and hands out fetchable URLs for them.
type Storage interface {
	// Upload writes data at path and returns its storage URI.
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)

	// Download reads the object behind uri.
	Download(ctx context.Context, uri string) ([]byte, error)

	// ResolveURL converts a storage URI into an HTTP URL valid for at least ttl.
	// http and https URLs are returned unchanged.
	ResolveURL(ctx context.Context, uri string, ttl time.Duration) (string, error)

	// List returns the URIs of objects under prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// ParseURI splits "scheme://bucket/path" into its parts.
func ParseURI(uri string) (scheme, bucket, path string, err error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok || scheme == "" {
		return "", "", "", fmt.Errorf("%w: %q", ErrUnsupportedURI, uri)
	}
	bucket, path, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || path == "" {
		return "", "", "", fmt.Errorf("%w: %q", ErrUnsupportedURI, uri)
	}
	return scheme, bucket, path, nil
}

// IsHTTP reports whether uri is already directly fetchable.
func IsHTTP(uri string) bool {
	return strings.HasPrefix(uri, "https://") || strings.HasPrefix(uri, "http://")
}
