package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const gcsScheme = "gs"

// GCS stores objects in a Google Cloud Storage bucket.
type GCS struct {
	client *gcs.Client
	bucket string

	// Signing identity. Empty means the client library detects it.
	accessID   string
	privateKey []byte

	logger *slog.Logger
}

// NewGCS creates a GCS-backed store. credentialsFile is a service account
// JSON key; when empty, application default credentials are used and the
// signing identity is detected at signing time.
func NewGCS(ctx context.Context, bucket, credentialsFile string) (*GCS, error) {
	var opts []option.ClientOption
	s := &GCS{
		bucket: bucket,
		logger: slog.Default().With("component", "storage"),
	}

	if credentialsFile != "" {
		data, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("reading credentials: %w", err)
		}
		conf, err := google.JWTConfigFromJSON(data, gcs.ScopeReadWrite)
		if err != nil {
			return nil, fmt.Errorf("parsing credentials: %w", err)
		}
		s.accessID = conf.Email
		s.privateKey = conf.PrivateKey
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	s.client = client
	return s, nil
}

// Close releases the underlying client.
func (s *GCS) Close() error {
	return s.client.Close()
}

// Upload writes data to gs://bucket/path.
func (s *GCS) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("writing object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing object: %w", err)
	}

	uri := fmt.Sprintf("%s://%s/%s", gcsScheme, s.bucket, path)
	s.logger.Debug("uploaded object", "uri", uri, "bytes", len(data))
	return uri, nil
}

// Download reads a gs:// object.
func (s *GCS) Download(ctx context.Context, uri string) ([]byte, error) {
	bucket, path, err := s.split(uri)
	if err != nil {
		return nil, err
	}

	r, err := s.client.Bucket(bucket).Object(path).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	if err != nil {
		return nil, fmt.Errorf("opening object: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading object: %w", err)
	}
	return data, nil
}

// ResolveURL returns a V4 signed GET URL for a gs:// object.
func (s *GCS) ResolveURL(_ context.Context, uri string, ttl time.Duration) (string, error) {
	if IsHTTP(uri) {
		return uri, nil
	}
	bucket, path, err := s.split(uri)
	if err != nil {
		return "", err
	}
	if ttl < DefaultURLTTL {
		ttl = DefaultURLTTL
	}

	signed, err := s.client.Bucket(bucket).SignedURL(path, &gcs.SignedURLOptions{
		GoogleAccessID: s.accessID,
		PrivateKey:     s.privateKey,
		Method:         "GET",
		Expires:        time.Now().Add(ttl),
		Scheme:         gcs.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("signing url: %w", err)
	}
	return signed, nil
}

// List returns gs:// URIs for objects under prefix.
func (s *GCS) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: prefix})

	var uris []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing objects: %w", err)
		}
		// Skip folder placeholders.
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		uris = append(uris, fmt.Sprintf("%s://%s/%s", gcsScheme, s.bucket, attrs.Name))
	}
	return uris, nil
}

func (s *GCS) split(uri string) (bucket, path string, err error) {
	scheme, bucket, path, err := ParseURI(uri)
	if err != nil {
		return "", "", err
	}
	if scheme != gcsScheme {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedURI, uri)
	}
	return bucket, path, nil
}

var _ Storage = (*GCS)(nil)
