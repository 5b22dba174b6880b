package audiocache

import (
	"context"
	"sync"
)

// Pending is a clip returned by Prepare. A cached clip has URI set and
// no Audio; a freshly synthesized clip has Audio and no URI until committed.
type Pending struct {
	c      *Cache
	key    string
	userID string

	AffirmationID string
	VoiceID       string
	URI           string
	Audio         []byte
	Personal      bool

	once   sync.Once
	result *Result
	err    error
}

// Generated reports whether the clip was synthesized and is not yet stored.
func (p *Pending) Generated() bool {
	return p.Audio != nil
}

// Commit stores and charges for a synthesized clip, at most once across
// every holder. For a cached clip it returns the stored URI.
func (p *Pending) Commit(ctx context.Context) (*Result, error) {
	if !p.Generated() {
		return &Result{URI: p.URI}, nil
	}
	p.once.Do(func() {
		p.result, p.err = p.c.commit(ctx, p)
	})
	p.c.release(p)
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

// Discard drops this holder's claim on a synthesized clip. When no holder
// commits, nothing is stored or charged.
func (p *Pending) Discard() {
	if p.Generated() {
		p.c.release(p)
	}
}
