package db

import (
	"time"
)

// Affirmation is a generated affirmation owned by a user.
type Affirmation struct {
	ID            string
	UserID        string
	Text          string
	CategoryID    string
	CategoryTitle string
	ImageURL      *string // nullable
	Favorite      bool
	UseMyVoice    bool
	// AudioURLs maps voice ID to the stored narration URI.
	// A present entry means the (affirmation, voice) clip is durably stored.
	AudioURLs map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AudioURL returns the cached narration URI for a voice.
func (a *Affirmation) AudioURL(voiceID string) (string, bool) {
	if a == nil || a.AudioURLs == nil {
		return "", false
	}
	uri, ok := a.AudioURLs[voiceID]
	return uri, ok && uri != ""
}

// HasImage reports whether the affirmation has a generated image.
func (a *Affirmation) HasImage() bool {
	return a != nil && a.ImageURL != nil && *a.ImageURL != ""
}

// Playlist is an ordered list of affirmation IDs.
// AffirmationIDs may reference affirmations that no longer exist.
type Playlist struct {
	ID             string
	UserID         string
	Name           string
	AffirmationIDs []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MixedArtifact is the most recent combined output for a playlist/voice/music triple.
type MixedArtifact struct {
	PlaylistID  string
	VoiceID     string
	WithMusic   bool
	Fingerprint string // hash of the inputs the mix was produced from
	URI         string
	ContentType string
	Extension   string
	CreatedAt   time.Time
}
