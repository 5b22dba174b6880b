// Package config loads aiam service configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults for optional settings.
const (
	DefaultAddr           = "127.0.0.1:8080"
	DefaultModelID        = "eleven_multilingual_v2"
	DefaultFFmpegPath     = "ffmpeg"
	DefaultMixTimeout     = 2 * time.Minute
	DefaultVoiceCloneCost = 10
	DefaultMusicPrefix    = "music/"
	DefaultLogLevel       = "info"
	DefaultTTSProfile     = "calm"
)

var (
	// ErrMissingDatabaseURL is returned when DATABASE_URL is not set.
	ErrMissingDatabaseURL = errors.New("missing DATABASE_URL environment variable")

	// ErrMissingElevenLabsKey is returned when ELEVENLABS_API_KEY is not set.
	ErrMissingElevenLabsKey = errors.New("missing ELEVENLABS_API_KEY environment variable")
)

// Config holds the service configuration.
type Config struct {
	Addr        string
	DatabaseURL string

	ElevenLabsAPIKey  string
	ElevenLabsModelID string

	// GCSBucket selects Google Cloud Storage. Empty means in-memory storage.
	GCSBucket       string
	CredentialsFile string

	// TTSProfile names the delivery profile used for narration.
	TTSProfile string

	FFmpegPath     string
	MixTimeout     time.Duration
	VoiceCloneCost int
	MusicPrefix    string
	LogLevel       string
}

// Load reads configuration from environment variables.
// Returns ErrMissingDatabaseURL or ErrMissingElevenLabsKey when a required value is absent.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:              getenv("AIAM_ADDR", DefaultAddr),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		ElevenLabsAPIKey:  os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsModelID: getenv("ELEVENLABS_MODEL_ID", DefaultModelID),
		GCSBucket:         os.Getenv("GCS_BUCKET"),
		CredentialsFile:   os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		TTSProfile:        getenv("TTS_PROFILE", DefaultTTSProfile),
		FFmpegPath:        getenv("FFMPEG_PATH", DefaultFFmpegPath),
		MixTimeout:        DefaultMixTimeout,
		VoiceCloneCost:    DefaultVoiceCloneCost,
		MusicPrefix:       getenv("MUSIC_PREFIX", DefaultMusicPrefix),
		LogLevel:          getenv("LOG_LEVEL", DefaultLogLevel),
	}

	if cfg.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	if cfg.ElevenLabsAPIKey == "" {
		return nil, ErrMissingElevenLabsKey
	}

	if v := os.Getenv("MIX_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid MIX_TIMEOUT %q", v)
		}
		cfg.MixTimeout = d
	}

	if v := os.Getenv("VOICE_CLONE_COST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid VOICE_CLONE_COST %q", v)
		}
		cfg.VoiceCloneCost = n
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
