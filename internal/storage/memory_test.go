package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantScheme string
		wantBucket string
		wantPath   string
		wantErr    bool
	}{
		{"gs://aiam-media/users/u1/a1.mp3", "gs", "aiam-media", "users/u1/a1.mp3", false},
		{"mem://dev/music/bed.mp3", "mem", "dev", "music/bed.mp3", false},
		{"gs://bucket-only", "", "", "", true},
		{"no-scheme/path", "", "", "", true},
		{"gs:///path", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			scheme, bucket, path, err := ParseURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURI() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedURI) {
					t.Errorf("ParseURI() error = %v, want ErrUnsupportedURI", err)
				}
				return
			}
			if scheme != tt.wantScheme || bucket != tt.wantBucket || path != tt.wantPath {
				t.Errorf("ParseURI() = %s, %s, %s", scheme, bucket, path)
			}
		})
	}
}

func TestMemory_UploadDownload(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("dev", "http://example.test/media")

	uri, err := m.Upload(ctx, "users/u1/affirmations/a1/audio/v1.mp3", []byte("clip"), "audio/mpeg")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if uri != "mem://dev/users/u1/affirmations/a1/audio/v1.mp3" {
		t.Errorf("Upload() uri = %s", uri)
	}

	data, err := m.Download(ctx, uri)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if string(data) != "clip" {
		t.Errorf("Download() = %q, want clip", data)
	}

	if _, err := m.Download(ctx, "mem://dev/missing.mp3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Download(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := m.Download(ctx, "gs://dev/x.mp3"); !errors.Is(err, ErrUnsupportedURI) {
		t.Errorf("Download(gs) error = %v, want ErrUnsupportedURI", err)
	}
}

func TestMemory_List(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("dev", "")

	for _, p := range []string{"music/zen.mp3", "music/ambient.mp3", "users/u1/a.mp3"} {
		if _, err := m.Upload(ctx, p, []byte("x"), "audio/mpeg"); err != nil {
			t.Fatalf("Upload(%s) error = %v", p, err)
		}
	}

	uris, err := m.List(ctx, "music/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"mem://dev/music/ambient.mp3", "mem://dev/music/zen.mp3"}
	if len(uris) != len(want) {
		t.Fatalf("List() = %v, want %v", uris, want)
	}
	for i := range want {
		if uris[i] != want[i] {
			t.Errorf("List()[%d] = %s, want %s", i, uris[i], want[i])
		}
	}
}

func TestMemory_ResolveURLServesObject(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("dev", "")
	server := httptest.NewServer(m)
	defer server.Close()
	m.SetBaseURL(server.URL)

	uri, _ := m.Upload(ctx, "clips/a.mp3", []byte("audio-bytes"), "audio/mpeg")

	url, err := m.ResolveURL(ctx, uri, time.Minute)
	if err != nil {
		t.Fatalf("ResolveURL() error = %v", err)
	}
	if !strings.HasPrefix(url, server.URL+"/dev/clips/a.mp3?expires=") {
		t.Errorf("ResolveURL() = %s", url)
	}

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "audio-bytes" {
		t.Errorf("GET = %d %q", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Content-Type = %s, want audio/mpeg", ct)
	}
}

func TestMemory_RejectsUnsignedURL(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("dev", "")
	server := httptest.NewServer(m)
	defer server.Close()
	m.SetBaseURL(server.URL)

	m.Upload(ctx, "clips/a.mp3", []byte("x"), "audio/mpeg")
	expired := time.Now().Add(-time.Minute).Unix()

	tests := []struct {
		name  string
		query string
	}{
		{name: "expired", query: fmt.Sprintf("?expires=%d", expired)},
		{name: "missing expiry", query: ""},
		{name: "empty expiry", query: "?expires="},
		{name: "malformed expiry", query: "?expires=soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(server.URL + "/dev/clips/a.mp3" + tt.query)
			if err != nil {
				t.Fatalf("GET error = %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusForbidden {
				t.Errorf("GET = %d, want 403", resp.StatusCode)
			}
		})
	}
}

func TestMemory_ResolveURLPassesThroughHTTP(t *testing.T) {
	m := NewMemory("dev", "http://example.test")
	in := "https://cdn.example.test/image.png"

	got, err := m.ResolveURL(context.Background(), in, DefaultURLTTL)
	if err != nil {
		t.Fatalf("ResolveURL() error = %v", err)
	}
	if got != in {
		t.Errorf("ResolveURL() = %s, want %s", got, in)
	}
}
