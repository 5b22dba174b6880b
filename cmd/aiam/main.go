// Command aiam runs the affirmation audio and media service.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/justestif/go-aiam/internal/audiocache"
	"github.com/justestif/go-aiam/internal/config"
	"github.com/justestif/go-aiam/internal/db"
	"github.com/justestif/go-aiam/internal/export"
	"github.com/justestif/go-aiam/internal/log"
	"github.com/justestif/go-aiam/internal/mixer"
	"github.com/justestif/go-aiam/internal/storage"
	"github.com/justestif/go-aiam/internal/tts"
	"github.com/justestif/go-aiam/internal/voice"
	"github.com/justestif/go-aiam/internal/web"
	webfs "github.com/justestif/go-aiam/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log.Init(cfg.LogLevel)
	logger := log.L()

	ctx := context.Background()

	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	var (
		store storage.Storage
		media http.Handler
	)
	if cfg.GCSBucket != "" {
		gcs, err := storage.NewGCS(ctx, cfg.GCSBucket, cfg.CredentialsFile)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer gcs.Close()
		store = gcs
	} else {
		logger.Warn("GCS_BUCKET not set, using in-memory storage")
		mem := storage.NewMemory("aiam", "http://"+cfg.Addr+"/media")
		store, media = mem, mem
	}

	profile, ok := voice.ProfileByName(cfg.TTSProfile)
	if !ok {
		return fmt.Errorf("unknown TTS_PROFILE %q", cfg.TTSProfile)
	}

	synth := tts.NewClient(cfg.ElevenLabsAPIKey,
		tts.WithModel(cfg.ElevenLabsModelID),
		tts.WithLogger(logger),
	)
	voiceSvc := voice.NewService(synth, database.Users(),
		voice.WithCost(cfg.VoiceCloneCost),
		voice.WithProfile(profile),
		voice.WithLogger(logger),
	)
	cache := audiocache.New(database.Affirmations(), store, voiceSvc, audiocache.WithLogger(logger))

	mx := mixer.New(
		mixer.WithFFmpeg(cfg.FFmpegPath),
		mixer.WithLogger(logger),
	)
	exporter := export.New(database.Playlists(), database.Affirmations(), store, mx,
		export.WithArtifacts(database.Artifacts()),
		export.WithMusicPrefix(cfg.MusicPrefix),
		export.WithTimeout(cfg.MixTimeout),
		export.WithLogger(logger),
	)

	static, err := fs.Sub(webfs.StaticFS, "static")
	if err != nil {
		return fmt.Errorf("creating static filesystem: %w", err)
	}

	server := web.NewServer(web.ServerConfig{
		Addr:         cfg.Addr,
		WriteTimeout: cfg.MixTimeout + 30*time.Second,
		StaticFS:     static,
		Logger:       logger,
	}, web.Services{
		Exporter:     exporter,
		Audio:        cache,
		Voices:       synth,
		Playlists:    database.Playlists(),
		Affirmations: database.Affirmations(),
		URLs:         store,
		Health:       database,
		Media:        media,
	})

	return server.Run()
}
