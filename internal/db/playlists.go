package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PlaylistRepository handles playlist database operations.
type PlaylistRepository struct {
	pool *pgxpool.Pool
}

// Get retrieves a playlist owned by userID.
// Returns ErrNotFound if the playlist does not exist or belongs to another user.
func (r *PlaylistRepository) Get(ctx context.Context, userID, id string) (*Playlist, error) {
	query := `
		SELECT id, user_id, name, affirmation_ids, created_at, updated_at
		FROM playlists
		WHERE id = $1 AND user_id = $2
	`
	var p Playlist
	err := r.pool.QueryRow(ctx, query, id, userID).Scan(
		&p.ID,
		&p.UserID,
		&p.Name,
		&p.AffirmationIDs,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying playlist: %w", err)
	}
	return &p, nil
}
