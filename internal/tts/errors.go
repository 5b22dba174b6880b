package tts

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. *APIError unwraps to one of these.
var (
	// ErrRateLimited is returned when ElevenLabs refuses the request for quota or abuse reasons.
	ErrRateLimited = errors.New("synthesis rate limited")

	// ErrSynthesisFailed is returned for any other upstream failure.
	ErrSynthesisFailed = errors.New("synthesis failed")
)

// StatusUnusualActivity is the ElevenLabs detail status sent when free-tier
// synthesis has been disabled for the account.
const StatusUnusualActivity = "detected_unusual_activity"

// APIError is an error response from ElevenLabs.
type APIError struct {
	StatusCode int
	Status     string // detail.status, when present
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("elevenlabs: %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("elevenlabs: %d: %s", e.StatusCode, e.Message)
}

// IsRateLimited reports whether the provider throttled or blocked the request.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.Status == StatusUnusualActivity
}

// IsUnusualActivity reports whether free-tier synthesis was disabled upstream.
func (e *APIError) IsUnusualActivity() bool {
	return e.Status == StatusUnusualActivity
}

// retryable reports whether another attempt could succeed.
func (e *APIError) retryable() bool {
	if e.IsUnusualActivity() {
		return false
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func (e *APIError) Unwrap() error {
	if e.IsRateLimited() {
		return ErrRateLimited
	}
	return ErrSynthesisFailed
}
