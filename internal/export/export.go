// Package export assembles a playlist into a single downloadable file.
//
// An export is all-or-nothing with respect to narration: every playlist
// entry must have stored audio for the requested voice before any media
// is fetched. Image slideshows additionally require an image per entry.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/justestif/go-aiam/internal/db"
	"github.com/justestif/go-aiam/internal/mixer"
	"github.com/justestif/go-aiam/internal/readiness"
	"github.com/justestif/go-aiam/internal/storage"
)

// DefaultTimeout bounds a single export.
const DefaultTimeout = 2 * time.Minute

// Playlists looks up a user's playlist.
type Playlists interface {
	Get(ctx context.Context, userID, id string) (*db.Playlist, error)
}

// Affirmations loads affirmations with their stored audio.
type Affirmations interface {
	GetMany(ctx context.Context, ids []string) ([]*db.Affirmation, error)
}

// Artifacts stores the most recent mix per playlist, voice and music flag.
type Artifacts interface {
	Get(ctx context.Context, playlistID, voiceID string, withMusic bool) (*db.MixedArtifact, error)
	Upsert(ctx context.Context, m *db.MixedArtifact) error
}

// Compile-time interface checks.
var (
	_ Playlists    = (*db.PlaylistRepository)(nil)
	_ Affirmations = (*db.AffirmationRepository)(nil)
	_ Artifacts    = (*db.MixedArtifactRepository)(nil)
)

// Request describes a download.
type Request struct {
	UserID     string
	PlaylistID string
	VoiceID    string
	WithMusic  bool
	WithImages bool
}

// Result is the assembled file.
type Result struct {
	Data        []byte
	ContentType string
	Filename    string
	// Degraded is set when clips were concatenated without gaps or music.
	Degraded bool
	// Cached is set when a previously stored artifact was served.
	Cached bool
}

// Orchestrator runs exports.
type Orchestrator struct {
	playlists    Playlists
	affirmations Affirmations
	artifacts    Artifacts
	store        storage.Storage
	mixer        *mixer.Mixer
	fetcher      *Fetcher
	musicPrefix  string
	timeout      time.Duration
	logger       *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithArtifacts enables reuse and persistence of audio-only mixes.
func WithArtifacts(a Artifacts) Option {
	return func(o *Orchestrator) {
		o.artifacts = a
	}
}

// WithFetcher sets the downloader used for clips, images and music.
func WithFetcher(f *Fetcher) Option {
	return func(o *Orchestrator) {
		o.fetcher = f
	}
}

// WithMusicPrefix sets the storage prefix holding background tracks.
func WithMusicPrefix(prefix string) Option {
	return func(o *Orchestrator) {
		o.musicPrefix = prefix
	}
}

// WithTimeout bounds each export.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// New creates an Orchestrator.
func New(playlists Playlists, affirmations Affirmations, store storage.Storage, mx *mixer.Mixer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		playlists:    playlists,
		affirmations: affirmations,
		store:        store,
		mixer:        mx,
		musicPrefix:  "music/",
		timeout:      DefaultTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.fetcher == nil {
		o.fetcher = NewFetcher(nil, DefaultConcurrency)
	}
	o.logger = o.logger.With("component", "export")
	return o
}

// Export assembles the playlist described by req.
func (o *Orchestrator) Export(ctx context.Context, req Request) (*Result, error) {
	playlist, err := o.playlists.Get(ctx, req.UserID, req.PlaylistID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrPlaylistNotFound
		}
		return nil, fmt.Errorf("loading playlist: %w", err)
	}
	if len(playlist.AffirmationIDs) == 0 {
		return nil, ErrEmptyPlaylist
	}

	found, err := o.affirmations.GetMany(ctx, playlist.AffirmationIDs)
	if err != nil {
		return nil, fmt.Errorf("loading affirmations: %w", err)
	}
	entries := readiness.Align(playlist.AffirmationIDs, found)

	report := readiness.Check(entries, req.VoiceID)
	if !report.Ready {
		return nil, &IncompleteError{Kind: KindAudio, Missing: report.MissingCount, Total: report.TotalCount}
	}

	audioURIs := make([]string, len(entries))
	for i, a := range entries {
		audioURIs[i], _ = a.AudioURL(req.VoiceID)
	}
	audioURLs, missing := o.resolveAll(ctx, audioURIs)
	if missing > 0 {
		return nil, &IncompleteError{Kind: KindAudio, Missing: missing, Total: len(entries)}
	}

	var imageURLs []string
	if req.WithImages {
		imageURIs := make([]string, len(entries))
		for i, a := range entries {
			if a.HasImage() {
				imageURIs[i] = *a.ImageURL
			}
		}
		imageURLs, missing = o.resolveAll(ctx, imageURIs)
		if missing > 0 {
			return nil, &IncompleteError{Kind: KindImages, Missing: missing, Total: len(entries)}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var musicURI string
	if req.WithMusic {
		musicURI = o.findMusic(ctx)
	}

	logger := o.logger.With(
		"playlist_id", playlist.ID,
		"voice_id", req.VoiceID,
		"with_music", req.WithMusic,
		"with_images", req.WithImages,
		"items", len(entries),
	)

	fingerprint := Fingerprint(req.VoiceID, req.WithMusic, audioURIs, musicURI)
	if !req.WithImages {
		if res := o.cached(ctx, playlist, req, fingerprint); res != nil {
			logger.Info("served stored mix")
			return res, nil
		}
	}

	clips, err := o.fetcher.FetchAll(ctx, audioURLs)
	if err != nil {
		return nil, o.timeoutErr(ctx, fmt.Errorf("fetching clips: %w", err))
	}

	var images [][]byte
	if req.WithImages {
		if images, err = o.fetcher.FetchAll(ctx, imageURLs); err != nil {
			return nil, o.timeoutErr(ctx, fmt.Errorf("fetching images: %w", err))
		}
	}

	var music []byte
	if musicURI != "" {
		music, err = o.fetchOne(ctx, musicURI)
		if err != nil {
			if ctx.Err() != nil {
				return nil, o.timeoutErr(ctx, err)
			}
			logger.Warn("background music unavailable", "uri", musicURI, "error", err)
			music = nil
		}
	}

	var out *mixer.Output
	if req.WithImages {
		out, err = o.mixer.MixVideo(ctx, mixer.VideoRequest{Clips: clips, Images: images, Music: music})
	} else {
		out, err = o.mixer.MixAudio(ctx, mixer.AudioRequest{Clips: clips, WithMusic: req.WithMusic, Music: music})
	}
	if err != nil {
		return nil, o.timeoutErr(ctx, fmt.Errorf("mixing: %w", err))
	}

	withMusic := req.WithMusic && !out.Degraded
	if req.WithMusic && req.WithImages && len(music) == 0 {
		withMusic = false
	}
	res := &Result{
		Data:        out.Data,
		ContentType: out.ContentType,
		Filename:    Filename(playlist.Name, req.VoiceID, withMusic, req.WithImages, out.Ext),
		Degraded:    out.Degraded,
	}

	if !req.WithImages && !out.Degraded {
		o.persist(ctx, playlist, req, fingerprint, out)
	}

	logger.Info("export complete",
		"bytes", len(out.Data),
		"duration", out.Duration,
		"degraded", out.Degraded,
	)
	return res, nil
}

// resolveAll turns storage URIs into fetchable URLs. Empty URIs and
// resolution failures are counted as missing.
func (o *Orchestrator) resolveAll(ctx context.Context, uris []string) ([]string, int) {
	urls := make([]string, len(uris))
	missing := 0
	for i, uri := range uris {
		if uri == "" {
			missing++
			continue
		}
		u, err := o.store.ResolveURL(ctx, uri, storage.DefaultURLTTL)
		if err != nil {
			o.logger.Warn("resolving media url", "uri", uri, "error", err)
			missing++
			continue
		}
		urls[i] = u
	}
	return urls, missing
}

func (o *Orchestrator) fetchOne(ctx context.Context, uri string) ([]byte, error) {
	u, err := o.store.ResolveURL(ctx, uri, storage.DefaultURLTTL)
	if err != nil {
		return nil, err
	}
	return o.fetcher.Fetch(ctx, u)
}

// findMusic returns the first object under the music prefix, or "".
func (o *Orchestrator) findMusic(ctx context.Context) string {
	objects, err := o.store.List(ctx, o.musicPrefix)
	if err != nil {
		o.logger.Warn("listing background music", "prefix", o.musicPrefix, "error", err)
		return ""
	}
	if len(objects) == 0 {
		o.logger.Warn("no background music found", "prefix", o.musicPrefix)
		return ""
	}
	return objects[0]
}

// cached returns the stored mix when its fingerprint matches.
func (o *Orchestrator) cached(ctx context.Context, playlist *db.Playlist, req Request, fingerprint string) *Result {
	if o.artifacts == nil {
		return nil
	}
	art, err := o.artifacts.Get(ctx, playlist.ID, req.VoiceID, req.WithMusic)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			o.logger.Warn("loading stored mix", "playlist_id", playlist.ID, "error", err)
		}
		return nil
	}
	if art.Fingerprint != fingerprint {
		return nil
	}
	data, err := o.store.Download(ctx, art.URI)
	if err != nil {
		o.logger.Warn("downloading stored mix", "uri", art.URI, "error", err)
		return nil
	}
	return &Result{
		Data:        data,
		ContentType: art.ContentType,
		Filename:    Filename(playlist.Name, req.VoiceID, req.WithMusic, false, art.Extension),
		Cached:      true,
	}
}

// persist stores an audio-only mix for reuse. Failures are logged.
func (o *Orchestrator) persist(ctx context.Context, playlist *db.Playlist, req Request, fingerprint string, out *mixer.Output) {
	if o.artifacts == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	path := fmt.Sprintf("users/%s/playlists/%s/mixes/%s.%s", req.UserID, playlist.ID, uuid.NewString(), out.Ext)
	uri, err := o.store.Upload(ctx, path, out.Data, out.ContentType)
	if err != nil {
		o.logger.Warn("storing mix", "playlist_id", playlist.ID, "error", err)
		return
	}

	err = o.artifacts.Upsert(ctx, &db.MixedArtifact{
		PlaylistID:  playlist.ID,
		VoiceID:     req.VoiceID,
		WithMusic:   req.WithMusic,
		Fingerprint: fingerprint,
		URI:         uri,
		ContentType: out.ContentType,
		Extension:   out.Ext,
	})
	if err != nil {
		o.logger.Warn("recording mix", "playlist_id", playlist.ID, "error", err)
	}
}

// timeoutErr maps an expired export deadline to ErrMixTimeout.
func (o *Orchestrator) timeoutErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrMixTimeout, err)
	}
	return err
}
