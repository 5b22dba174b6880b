// Package web provides the HTTP API for aiam: downloads, audio generation,
// readiness checks and remote playback sessions.
package web

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/justestif/go-aiam/internal/playback"
)

// PlaybackSession is a running playlist playback, addressable by ID.
type PlaybackSession struct {
	ID         string
	UserID     string
	PlaylistID string
	VoiceID    string
	Engine     *playback.Engine
	CreatedAt  time.Time
}

// SessionStore tracks live playback sessions in memory.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*PlaybackSession
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*PlaybackSession),
	}
}

// Create registers engine under a new session ID.
func (s *SessionStore) Create(userID, playlistID, voiceID string, engine *playback.Engine) *PlaybackSession {
	session := &PlaybackSession{
		ID:         uuid.NewString(),
		UserID:     userID,
		PlaylistID: playlistID,
		VoiceID:    voiceID,
		Engine:     engine,
		CreatedAt:  time.Now(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return session
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(id string) *PlaybackSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// Delete removes a session by ID.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// StopAll stops every live session. Used on shutdown.
func (s *SessionStore) StopAll() {
	s.mu.RLock()
	engines := make([]*playback.Engine, 0, len(s.sessions))
	for _, session := range s.sessions {
		engines = append(engines, session.Engine)
	}
	s.mu.RUnlock()

	for _, e := range engines {
		e.Stop()
	}
}
