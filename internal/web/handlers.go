package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/justestif/go-aiam/internal/audiocache"
	"github.com/justestif/go-aiam/internal/db"
	"github.com/justestif/go-aiam/internal/export"
	"github.com/justestif/go-aiam/internal/readiness"
	"github.com/justestif/go-aiam/internal/storage"
	"github.com/justestif/go-aiam/internal/tts"
)

// Exporter assembles playlist downloads.
type Exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// AudioCache resolves and generates narration clips.
type AudioCache interface {
	Ensure(ctx context.Context, userID string, item audiocache.Item, voiceID string) (*audiocache.Result, error)
	Prepare(ctx context.Context, userID string, item audiocache.Item, voiceID string) (*audiocache.Pending, error)
}

// VoiceCatalog lists TTS voices.
type VoiceCatalog interface {
	ListVoices(ctx context.Context) ([]tts.Voice, error)
}

// Playlists looks up a user's playlist.
type Playlists interface {
	Get(ctx context.Context, userID, id string) (*db.Playlist, error)
}

// Affirmations loads affirmations.
type Affirmations interface {
	Get(ctx context.Context, id string) (*db.Affirmation, error)
	GetMany(ctx context.Context, ids []string) ([]*db.Affirmation, error)
}

// URLResolver turns storage URIs into fetchable URLs.
type URLResolver interface {
	ResolveURL(ctx context.Context, uri string, ttl time.Duration) (string, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Compile-time interface checks.
var (
	_ Exporter     = (*export.Orchestrator)(nil)
	_ AudioCache   = (*audiocache.Cache)(nil)
	_ VoiceCatalog = (*tts.Client)(nil)
	_ Playlists    = (*db.PlaylistRepository)(nil)
	_ Affirmations = (*db.AffirmationRepository)(nil)
	_ URLResolver  = (storage.Storage)(nil)
	_ Pinger       = (*db.DB)(nil)
)

// Handlers contains the HTTP handlers.
type Handlers struct {
	exporter     Exporter
	audio        AudioCache
	voices       VoiceCatalog
	playlists    Playlists
	affirmations Affirmations
	urls         URLResolver
	health       Pinger
	sessions     *SessionStore
	logger       *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc Services, sessions *SessionStore, logger *slog.Logger) *Handlers {
	return &Handlers{
		exporter:     svc.Exporter,
		audio:        svc.Audio,
		voices:       svc.Voices,
		playlists:    svc.Playlists,
		affirmations: svc.Affirmations,
		urls:         svc.URLs,
		health:       svc.Health,
		sessions:     sessions,
		logger:       logger,
	}
}

type downloadRequest struct {
	UserID     string `json:"userId"`
	PlaylistID string `json:"playlistId"`
	VoiceID    string `json:"voiceId"`
	WithMusic  bool   `json:"withMusic"`
	WithImages bool   `json:"withImages"`
}

// Download assembles and returns a playlist file (POST /playlist/download).
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, h.logger, fmt.Errorf("%w: invalid JSON body", errBadRequest), CodeBadRequest)
		return
	}
	if req.UserID == "" || req.PlaylistID == "" || req.VoiceID == "" {
		writeError(w, r, h.logger, fmt.Errorf("%w: userId, playlistId and voiceId are required", errBadRequest), CodeBadRequest)
		return
	}

	res, err := h.exporter.Export(r.Context(), export.Request{
		UserID:     req.UserID,
		PlaylistID: req.PlaylistID,
		VoiceID:    req.VoiceID,
		WithMusic:  req.WithMusic,
		WithImages: req.WithImages,
	})
	if err != nil {
		writeError(w, r, h.logger, err, CodeInternal)
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	if res.Degraded {
		w.Header().Set("X-Mix-Degraded", "true")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

// Readiness reports whether a playlist is fully narrated
// (GET /playlists/{playlistID}/readiness).
func (h *Handlers) Readiness(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	voiceID := r.URL.Query().Get("voiceId")
	if userID == "" || voiceID == "" {
		writeError(w, r, h.logger, fmt.Errorf("%w: userId and voiceId are required", errBadRequest), CodeBadRequest)
		return
	}

	entries, err := h.loadPlaylist(r.Context(), userID, chi.URLParam(r, "playlistID"))
	if err != nil {
		writeError(w, r, h.logger, err, CodeInternal)
		return
	}

	writeJSON(w, http.StatusOK, readiness.Check(entries, voiceID))
}

type ensureAudioRequest struct {
	UserID  string `json:"userId"`
	VoiceID string `json:"voiceId"`
}

type ensureAudioResponse struct {
	URL              string `json:"url"`
	Generated        bool   `json:"generated"`
	CreditsRemaining *int   `json:"creditsRemaining,omitempty"`
	LowBalance       bool   `json:"lowBalance,omitempty"`
}

// EnsureAudio returns a playable URL for an affirmation's narration,
// generating it on a miss (POST /affirmations/{affirmationID}/audio).
func (h *Handlers) EnsureAudio(w http.ResponseWriter, r *http.Request) {
	var req ensureAudioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, h.logger, fmt.Errorf("%w: invalid JSON body", errBadRequest), CodeBadRequest)
		return
	}
	if req.UserID == "" || req.VoiceID == "" {
		writeError(w, r, h.logger, fmt.Errorf("%w: userId and voiceId are required", errBadRequest), CodeBadRequest)
		return
	}

	aff, err := h.affirmations.Get(r.Context(), chi.URLParam(r, "affirmationID"))
	if err != nil {
		writeError(w, r, h.logger, err, CodeInternal)
		return
	}
	if aff.UserID != req.UserID {
		writeError(w, r, h.logger, db.ErrNotFound, CodeNotFound)
		return
	}

	res, err := h.audio.Ensure(r.Context(), req.UserID, audiocache.Item{AffirmationID: aff.ID, Text: aff.Text}, req.VoiceID)
	if err != nil {
		writeError(w, r, h.logger, err, CodeSynthesisFailed)
		return
	}

	url, err := h.urls.ResolveURL(r.Context(), res.URI, storage.DefaultURLTTL)
	if err != nil {
		writeError(w, r, h.logger, fmt.Errorf("resolving audio url: %w", err), CodeStorageFetchFailed)
		return
	}

	writeJSON(w, http.StatusOK, ensureAudioResponse{
		URL:              url,
		Generated:        res.Generated,
		CreditsRemaining: res.CreditsRemaining,
		LowBalance:       res.LowBalance,
	})
}

// Voices lists the available TTS voices (GET /voices).
func (h *Handlers) Voices(w http.ResponseWriter, r *http.Request) {
	voices, err := h.voices.ListVoices(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err, CodeSynthesisFailed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"voices": voices})
}

type sessionResponse struct {
	ID         string `json:"id"`
	PlaylistID string `json:"playlistId"`
	VoiceID    string `json:"voiceId"`
	State      string `json:"state"`
	Index      int    `json:"index"`
}

// PlaybackStatus reports a playback session (GET /playback/{sessionID}).
func (h *Handlers) PlaybackStatus(w http.ResponseWriter, r *http.Request) {
	session := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if session == nil {
		writeError(w, r, h.logger, db.ErrNotFound, CodeNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(session))
}

// PlaybackControl pauses, resumes or stops a session
// (POST /playback/{sessionID}/{action}).
func (h *Handlers) PlaybackControl(w http.ResponseWriter, r *http.Request) {
	session := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if session == nil {
		writeError(w, r, h.logger, db.ErrNotFound, CodeNotFound)
		return
	}

	switch action := chi.URLParam(r, "action"); action {
	case "pause":
		session.Engine.Pause()
	case "resume":
		session.Engine.Resume()
	case "stop":
		session.Engine.Stop()
	default:
		writeError(w, r, h.logger, fmt.Errorf("%w: unknown action %q", errBadRequest, action), CodeBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(session))
}

func newSessionResponse(s *PlaybackSession) sessionResponse {
	return sessionResponse{
		ID:         s.ID,
		PlaylistID: s.PlaylistID,
		VoiceID:    s.VoiceID,
		State:      s.Engine.State().String(),
		Index:      s.Engine.Index(),
	}
}

// Healthz reports service health (GET /healthz).
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			h.logger.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": h.sessions.Len()})
}

// loadPlaylist returns the playlist's entries in order, nil where an
// affirmation no longer exists.
func (h *Handlers) loadPlaylist(ctx context.Context, userID, playlistID string) ([]*db.Affirmation, error) {
	playlist, err := h.playlists.Get(ctx, userID, playlistID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, export.ErrPlaylistNotFound
		}
		return nil, fmt.Errorf("loading playlist: %w", err)
	}
	found, err := h.affirmations.GetMany(ctx, playlist.AffirmationIDs)
	if err != nil {
		return nil, fmt.Errorf("loading affirmations: %w", err)
	}
	return readiness.Align(playlist.AffirmationIDs, found), nil
}
