package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AffirmationRepository handles affirmation and cached-audio operations.
type AffirmationRepository struct {
	pool *pgxpool.Pool
}

const affirmationColumns = `
	a.id, a.user_id, a.text, a.category_id, a.category_title, a.image_url,
	a.favorite, a.use_my_voice, a.created_at, a.updated_at,
	COALESCE(
		jsonb_object_agg(aa.voice_id, aa.uri) FILTER (WHERE aa.voice_id IS NOT NULL),
		'{}'::jsonb
	)
`

func scanAffirmation(row pgx.Row) (*Affirmation, error) {
	var a Affirmation
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.Text,
		&a.CategoryID,
		&a.CategoryTitle,
		&a.ImageURL,
		&a.Favorite,
		&a.UseMyVoice,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.AudioURLs,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Get retrieves a single affirmation with its cached audio URIs.
func (r *AffirmationRepository) Get(ctx context.Context, id string) (*Affirmation, error) {
	query := `
		SELECT ` + affirmationColumns + `
		FROM affirmations a
		LEFT JOIN affirmation_audio aa ON aa.affirmation_id = a.id
		WHERE a.id = $1
		GROUP BY a.id
	`
	a, err := scanAffirmation(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying affirmation: %w", err)
	}
	return a, nil
}

// GetMany retrieves affirmations in the order of ids.
// IDs with no matching row are skipped; duplicated IDs are repeated.
func (r *AffirmationRepository) GetMany(ctx context.Context, ids []string) ([]*Affirmation, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + affirmationColumns + `
		FROM affirmations a
		LEFT JOIN affirmation_audio aa ON aa.affirmation_id = a.id
		WHERE a.id = ANY($1)
		GROUP BY a.id
	`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("querying affirmations: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Affirmation, len(ids))
	for rows.Next() {
		a, err := scanAffirmation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning affirmation: %w", err)
		}
		byID[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating affirmations: %w", err)
	}

	ordered := make([]*Affirmation, 0, len(ids))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			ordered = append(ordered, a)
		}
	}
	return ordered, nil
}

// AudioURL returns the stored narration URI for (affirmationID, voiceID).
// Returns ErrNotFound when no clip has been stored.
func (r *AffirmationRepository) AudioURL(ctx context.Context, affirmationID, voiceID string) (string, error) {
	query := `
		SELECT uri FROM affirmation_audio
		WHERE affirmation_id = $1 AND voice_id = $2
	`
	var uri string
	err := r.pool.QueryRow(ctx, query, affirmationID, voiceID).Scan(&uri)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying audio url: %w", err)
	}
	return uri, nil
}

// SetAudioURL records the stored narration URI for (affirmationID, voiceID).
func (r *AffirmationRepository) SetAudioURL(ctx context.Context, affirmationID, voiceID, uri string) error {
	query := `
		INSERT INTO affirmation_audio (affirmation_id, voice_id, uri)
		VALUES ($1, $2, $3)
		ON CONFLICT (affirmation_id, voice_id) DO UPDATE SET uri = EXCLUDED.uri
	`
	_, err := r.pool.Exec(ctx, query, affirmationID, voiceID, uri)
	if err != nil {
		return fmt.Errorf("upserting audio url: %w", err)
	}
	return nil
}
