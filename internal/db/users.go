package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository handles user database operations.
type UserRepository struct {
	pool *pgxpool.Pool
}

// Credits returns the current credit balance for a user.
func (r *UserRepository) Credits(ctx context.Context, id string) (int, error) {
	query := `SELECT credits FROM users WHERE id = $1`
	var credits int
	err := r.pool.QueryRow(ctx, query, id).Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("querying credits: %w", err)
	}
	return credits, nil
}

// PersonalVoiceID returns the user's cloned voice ID, or "" if none.
func (r *UserRepository) PersonalVoiceID(ctx context.Context, id string) (string, error) {
	query := `SELECT COALESCE(voice_clone_id, '') FROM users WHERE id = $1`
	var voiceID string
	err := r.pool.QueryRow(ctx, query, id).Scan(&voiceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying personal voice: %w", err)
	}
	return voiceID, nil
}

// DeductCredits subtracts amount from the balance, never going below zero.
// Returns the new balance.
func (r *UserRepository) DeductCredits(ctx context.Context, id string, amount int) (int, error) {
	query := `
		UPDATE users
		SET credits = GREATEST(credits - $2, 0), updated_at = NOW()
		WHERE id = $1
		RETURNING credits
	`
	var credits int
	err := r.pool.QueryRow(ctx, query, id, amount).Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("deducting credits: %w", err)
	}
	return credits, nil
}
