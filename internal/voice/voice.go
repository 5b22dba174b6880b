// Package voice resolves a voice selector into a synthesis request and
// enforces the per-use credit cost of a user's personal cloned voice.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/justestif/go-aiam/internal/db"
	"github.com/justestif/go-aiam/internal/tts"
)

// DefaultCost is the credit cost of one personal-voice synthesis.
const DefaultCost = 10

// ErrInsufficientCredits is returned when a personal-voice synthesis is
// requested and the balance cannot cover it.
var ErrInsufficientCredits = errors.New("insufficient credits")

// Synthesizer produces encoded audio for text.
type Synthesizer interface {
	Synthesize(ctx context.Context, voiceID, text string, s tts.Settings) ([]byte, error)
}

// Credits reads and updates user credit balances.
type Credits interface {
	Credits(ctx context.Context, userID string) (int, error)
	PersonalVoiceID(ctx context.Context, userID string) (string, error)
	DeductCredits(ctx context.Context, userID string, amount int) (int, error)
}

// Compile-time interface checks.
var (
	_ Synthesizer = (*tts.Client)(nil)
	_ Credits     = (*db.UserRepository)(nil)
)

// Request is a single synthesis request.
type Request struct {
	UserID  string
	VoiceID string
	Text    string
}

// Synthesis is the result of a successful synthesis.
type Synthesis struct {
	Audio    []byte
	Personal bool // synthesized with the user's cloned voice; charge applies
}

// Service implements voice resolution.
type Service struct {
	synth   Synthesizer
	credits Credits
	cost    int
	profile Profile
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCost sets the per-use credit cost of the personal voice.
func WithCost(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.cost = n
		}
	}
}

// WithProfile sets the delivery profile used for every request.
func WithProfile(p Profile) Option {
	return func(s *Service) {
		s.profile = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// NewService creates a voice resolution service.
func NewService(synth Synthesizer, credits Credits, opts ...Option) *Service {
	s := &Service{
		synth:   synth,
		credits: credits,
		cost:    DefaultCost,
		profile: Calm,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "voice")
	return s
}

// IsPersonal reports whether voiceID is the user's cloned voice.
func (s *Service) IsPersonal(ctx context.Context, userID, voiceID string) (bool, error) {
	personal, err := s.credits.PersonalVoiceID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("looking up personal voice: %w", err)
	}
	return personal != "" && personal == voiceID, nil
}

// Authorize checks that the user can afford a synthesis with voiceID.
// Returns ErrInsufficientCredits for an unaffordable personal voice.
func (s *Service) Authorize(ctx context.Context, userID, voiceID string) (personal bool, err error) {
	personal, err = s.IsPersonal(ctx, userID, voiceID)
	if err != nil || !personal || s.cost == 0 {
		return personal, err
	}

	balance, err := s.credits.Credits(ctx, userID)
	if err != nil {
		return true, fmt.Errorf("reading credits: %w", err)
	}
	if balance < s.cost {
		return true, fmt.Errorf("%w: have %d, need %d", ErrInsufficientCredits, balance, s.cost)
	}
	return true, nil
}

// Synthesize checks credits and synthesizes req.Text. It does not charge;
// callers charge once the clip is stored so discarded clips are free.
func (s *Service) Synthesize(ctx context.Context, req Request) (*Synthesis, error) {
	personal, err := s.Authorize(ctx, req.UserID, req.VoiceID)
	if err != nil {
		return nil, err
	}

	audio, err := s.synth.Synthesize(ctx, req.VoiceID, req.Text, s.profile.Settings)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("synthesized",
		"user_id", req.UserID,
		"voice_id", req.VoiceID,
		"personal", personal,
		"profile", s.profile.Name,
	)
	return &Synthesis{Audio: audio, Personal: personal}, nil
}

// Charge deducts one personal-voice use and returns the new balance.
// The balance never drops below zero.
func (s *Service) Charge(ctx context.Context, userID string) (int, error) {
	remaining, err := s.credits.DeductCredits(ctx, userID, s.cost)
	if err != nil {
		return 0, fmt.Errorf("deducting credits: %w", err)
	}
	s.logger.Info("charged personal voice use", "user_id", userID, "cost", s.cost, "remaining", remaining)
	return remaining, nil
}

// LowBalance reports whether remaining covers exactly one more use.
func (s *Service) LowBalance(remaining int) bool {
	return s.cost > 0 && remaining >= s.cost && remaining < 2*s.cost
}
