package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MixedArtifactRepository stores the latest combined output per playlist, voice and music flag.
type MixedArtifactRepository struct {
	pool *pgxpool.Pool
}

// Get returns the recorded artifact, or ErrNotFound.
func (r *MixedArtifactRepository) Get(ctx context.Context, playlistID, voiceID string, withMusic bool) (*MixedArtifact, error) {
	query := `
		SELECT playlist_id, voice_id, with_music, fingerprint, uri, content_type, extension, created_at
		FROM mixed_artifacts
		WHERE playlist_id = $1 AND voice_id = $2 AND with_music = $3
	`
	var m MixedArtifact
	err := r.pool.QueryRow(ctx, query, playlistID, voiceID, withMusic).Scan(
		&m.PlaylistID,
		&m.VoiceID,
		&m.WithMusic,
		&m.Fingerprint,
		&m.URI,
		&m.ContentType,
		&m.Extension,
		&m.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying mixed artifact: %w", err)
	}
	return &m, nil
}

// Upsert records an artifact, replacing any previous one for the same key.
func (r *MixedArtifactRepository) Upsert(ctx context.Context, m *MixedArtifact) error {
	query := `
		INSERT INTO mixed_artifacts (playlist_id, voice_id, with_music, fingerprint, uri, content_type, extension)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (playlist_id, voice_id, with_music) DO UPDATE SET
			fingerprint = EXCLUDED.fingerprint,
			uri = EXCLUDED.uri,
			content_type = EXCLUDED.content_type,
			extension = EXCLUDED.extension,
			created_at = NOW()
	`
	_, err := r.pool.Exec(ctx, query,
		m.PlaylistID, m.VoiceID, m.WithMusic, m.Fingerprint, m.URI, m.ContentType, m.Extension)
	if err != nil {
		return fmt.Errorf("upserting mixed artifact: %w", err)
	}
	return nil
}
