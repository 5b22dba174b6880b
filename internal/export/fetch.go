package export

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of parallel downloads per export.
const DefaultConcurrency = 5

// Fetcher downloads media over HTTP.
type Fetcher struct {
	client      *http.Client
	concurrency int
}

// NewFetcher creates a Fetcher. A nil client gets a default with a timeout.
func NewFetcher(client *http.Client, concurrency int) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Fetcher{client: client, concurrency: concurrency}
}

// FetchAll downloads every URL concurrently. Results are in input order
// regardless of completion order. The first failure cancels the rest.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) ([][]byte, error) {
	results := make([][]byte, len(urls))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, u := range urls {
		g.Go(func() error {
			data, err := f.Fetch(ctx, u)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			results[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Fetch downloads a single URL.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrStorageFetch, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrStorageFetch, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrStorageFetch, err)
	}
	return data, nil
}
