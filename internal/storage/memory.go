package storage

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const memScheme = "mem"

type memObject struct {
	data        []byte
	contentType string
}

// Memory is an in-process store for development and tests. It serves its
// objects over HTTP so resolved URLs are fetchable like signed GCS URLs.
type Memory struct {
	bucket  string
	baseURL string

	mu      sync.RWMutex
	objects map[string]memObject
	now     func() time.Time
}

// NewMemory creates an empty store. baseURL is where ServeHTTP is mounted,
// e.g. "http://127.0.0.1:8080/media".
func NewMemory(bucket, baseURL string) *Memory {
	return &Memory{
		bucket:  bucket,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		objects: make(map[string]memObject),
		now:     time.Now,
	}
}

// SetBaseURL changes where resolved URLs point. Used when the listener
// address is only known after startup.
func (m *Memory) SetBaseURL(baseURL string) {
	m.mu.Lock()
	m.baseURL = strings.TrimSuffix(baseURL, "/")
	m.mu.Unlock()
}

// Upload stores a copy of data under path.
func (m *Memory) Upload(_ context.Context, path string, data []byte, contentType string) (string, error) {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrUnsupportedURI)
	}

	m.mu.Lock()
	m.objects[path] = memObject{data: slices.Clone(data), contentType: contentType}
	m.mu.Unlock()

	return fmt.Sprintf("%s://%s/%s", memScheme, m.bucket, path), nil
}

// Download returns a copy of the object behind a mem:// URI.
func (m *Memory) Download(_ context.Context, uri string) ([]byte, error) {
	path, err := m.split(uri)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	obj, ok := m.objects[path]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return slices.Clone(obj.data), nil
}

// ResolveURL returns an HTTP URL that expires after ttl.
func (m *Memory) ResolveURL(_ context.Context, uri string, ttl time.Duration) (string, error) {
	if IsHTTP(uri) {
		return uri, nil
	}
	path, err := m.split(uri)
	if err != nil {
		return "", err
	}
	if ttl < DefaultURLTTL {
		ttl = DefaultURLTTL
	}

	m.mu.RLock()
	base := m.baseURL
	m.mu.RUnlock()

	expires := m.now().Add(ttl).Unix()
	return fmt.Sprintf("%s/%s/%s?expires=%d", base, m.bucket, path, expires), nil
}

// List returns mem:// URIs under prefix in lexical order.
func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	var paths []string
	for p := range m.objects {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	m.mu.RUnlock()

	slices.Sort(paths)
	uris := make([]string, len(paths))
	for i, p := range paths {
		uris[i] = fmt.Sprintf("%s://%s/%s", memScheme, m.bucket, p)
	}
	return uris, nil
}

// ServeHTTP serves GET /{bucket}/{path}?expires=<unix>. URLs without a
// valid expiry are rejected.
func (m *Memory) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	bucket, path, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if !ok || bucket != m.bucket {
		http.NotFound(w, r)
		return
	}

	unix, err := strconv.ParseInt(r.URL.Query().Get("expires"), 10, 64)
	if err != nil || m.now().Unix() > unix {
		http.Error(w, "url expired", http.StatusForbidden)
		return
	}

	m.mu.RLock()
	obj, found := m.objects[path]
	m.mu.RUnlock()
	if !found {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", obj.contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
	if r.Method == http.MethodGet {
		w.Write(obj.data)
	}
}

func (m *Memory) split(uri string) (string, error) {
	scheme, bucket, path, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	if scheme != memScheme || bucket != m.bucket {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedURI, uri)
	}
	return path, nil
}

var (
	_ Storage      = (*Memory)(nil)
	_ http.Handler = (*Memory)(nil)
)
