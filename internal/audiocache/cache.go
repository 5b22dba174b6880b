// Package audiocache stores synthesized narration keyed by (affirmation, voice)
// and coalesces concurrent generation of the same clip.
package audiocache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/justestif/go-aiam/internal/db"
	"github.com/justestif/go-aiam/internal/storage"
	"github.com/justestif/go-aiam/internal/voice"
)

const audioContentType = "audio/mpeg"

// ErrMiss is returned by Resolve when no clip is stored for the pair.
var ErrMiss = errors.New("audio not cached")

// Index records which (affirmation, voice) pairs have stored audio.
// AudioURL returns db.ErrNotFound on a miss.
type Index interface {
	AudioURL(ctx context.Context, affirmationID, voiceID string) (string, error)
	SetAudioURL(ctx context.Context, affirmationID, voiceID, uri string) error
}

var _ Index = (*db.AffirmationRepository)(nil)

// Item is the affirmation being narrated.
type Item struct {
	AffirmationID string
	Text          string
}

// Result describes a clip that is durably stored.
type Result struct {
	URI       string
	Generated bool // synthesized by this call rather than found in the cache
	Personal  bool

	// Set only when a personal-voice charge was made.
	CreditsRemaining *int
	LowBalance       bool
}

// Cache is the audio cache.
type Cache struct {
	index   Index
	store   storage.Storage
	voice   *voice.Service
	logger  *slog.Logger
	group   singleflight.Group
	mu      sync.Mutex
	flights map[string]*flight
}

// flight is a synthesized clip that has not been committed or discarded
// by every holder yet.
type flight struct {
	p    *Pending
	refs int
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// New creates an audio cache.
func New(index Index, store storage.Storage, voiceSvc *voice.Service, opts ...Option) *Cache {
	c := &Cache{
		index:   index,
		store:   store,
		voice:   voiceSvc,
		logger:  slog.Default(),
		flights: make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "audiocache")
	return c
}

// ObjectPath is where a clip is stored.
func ObjectPath(userID, affirmationID, voiceID string) string {
	return fmt.Sprintf("users/%s/affirmations/%s/audio/%s.mp3", userID, affirmationID, voiceID)
}

// Resolve returns the stored URI for the pair, or ErrMiss.
func (c *Cache) Resolve(ctx context.Context, affirmationID, voiceID string) (string, error) {
	uri, err := c.index.AudioURL(ctx, affirmationID, voiceID)
	if errors.Is(err, db.ErrNotFound) || (err == nil && uri == "") {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("resolving cached audio: %w", err)
	}
	return uri, nil
}

// Store uploads audio and records its URI against the pair.
// Writes are last-writer-wins.
func (c *Cache) Store(ctx context.Context, userID, affirmationID, voiceID string, audio []byte) (string, error) {
	uri, err := c.store.Upload(ctx, ObjectPath(userID, affirmationID, voiceID), audio, audioContentType)
	if err != nil {
		return "", fmt.Errorf("uploading audio: %w", err)
	}
	if err := c.index.SetAudioURL(ctx, affirmationID, voiceID, uri); err != nil {
		return "", fmt.Errorf("recording audio url: %w", err)
	}
	return uri, nil
}

// Ensure returns a stored clip for the pair, synthesizing, storing and
// charging on a miss. Concurrent calls for one pair synthesize once.
func (c *Cache) Ensure(ctx context.Context, userID string, item Item, voiceID string) (*Result, error) {
	p, err := c.Prepare(ctx, userID, item, voiceID)
	if err != nil {
		return nil, err
	}
	return p.Commit(ctx)
}

// Prepare returns the clip for the pair without persisting it. On a miss the
// clip is synthesized and must be released with exactly one of Commit or
// Discard. Concurrent and overlapping callers share one synthesis.
func (c *Cache) Prepare(ctx context.Context, userID string, item Item, voiceID string) (*Pending, error) {
	if p, err := c.cached(ctx, item.AffirmationID, voiceID); p != nil || err != nil {
		return p, err
	}

	key := flightKey(item.AffirmationID, voiceID)
	c.mu.Lock()
	if f, ok := c.flights[key]; ok {
		f.refs++
		c.mu.Unlock()
		return f.p, nil
	}
	c.mu.Unlock()

	v, err, shared := c.group.Do(key, func() (any, error) {
		// Another caller may have finished while we queued.
		if p, err := c.cached(ctx, item.AffirmationID, voiceID); p != nil || err != nil {
			return p, err
		}
		c.mu.Lock()
		f, ok := c.flights[key]
		c.mu.Unlock()
		if ok {
			return f.p, nil
		}

		// The provider call is allowed to finish after the caller gives up;
		// the result is dropped by Discard instead of being cached.
		syn, err := c.voice.Synthesize(context.WithoutCancel(ctx), voice.Request{
			UserID:  userID,
			VoiceID: voiceID,
			Text:    item.Text,
		})
		if err != nil {
			return nil, err
		}
		p := &Pending{
			c:             c,
			key:           key,
			userID:        userID,
			AffirmationID: item.AffirmationID,
			VoiceID:       voiceID,
			Audio:         syn.Audio,
			Personal:      syn.Personal,
		}
		// Visible to later callers before the first holder claims it.
		c.mu.Lock()
		c.flights[key] = &flight{p: p}
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	p := v.(*Pending)
	if p.Generated() {
		c.hold(p)
	}
	if shared {
		c.logger.Debug("coalesced synthesis", "affirmation_id", item.AffirmationID, "voice_id", voiceID)
	}
	return p, nil
}

// cached returns a Pending for a stored clip, or nil on a miss.
func (c *Cache) cached(ctx context.Context, affirmationID, voiceID string) (*Pending, error) {
	uri, err := c.Resolve(ctx, affirmationID, voiceID)
	if errors.Is(err, ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Pending{AffirmationID: affirmationID, VoiceID: voiceID, URI: uri}, nil
}

func (c *Cache) hold(p *Pending) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.flights[p.key]; ok && f.p == p {
		f.refs++
		return
	}
	c.flights[p.key] = &flight{p: p, refs: 1}
}

func (c *Cache) release(p *Pending) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flights[p.key]
	if !ok || f.p != p {
		return
	}
	f.refs--
	if f.refs <= 0 {
		delete(c.flights, p.key)
	}
}

// commit persists a synthesized clip and charges for it. It runs once per Pending.
func (c *Cache) commit(ctx context.Context, p *Pending) (*Result, error) {
	ctx = context.WithoutCancel(ctx)

	uri, err := c.Store(ctx, p.userID, p.AffirmationID, p.VoiceID, p.Audio)
	if err != nil {
		return nil, err
	}
	res := &Result{URI: uri, Generated: true, Personal: p.Personal}

	if p.Personal {
		remaining, err := c.voice.Charge(ctx, p.userID)
		if err != nil {
			// Clip is stored; a failed deduction must not lose it.
			c.logger.Error("charging personal voice", "user_id", p.userID, "affirmation_id", p.AffirmationID, "error", err)
		} else {
			res.CreditsRemaining = &remaining
			res.LowBalance = c.voice.LowBalance(remaining)
		}
	}

	c.logger.Info("cached audio",
		"affirmation_id", p.AffirmationID,
		"voice_id", p.VoiceID,
		"bytes", len(p.Audio),
		"personal", p.Personal,
	)
	return res, nil
}

func flightKey(affirmationID, voiceID string) string {
	return affirmationID + "\x00" + voiceID
}
