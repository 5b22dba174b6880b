package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/justestif/go-aiam/internal/db"
	"github.com/justestif/go-aiam/internal/export"
	"github.com/justestif/go-aiam/internal/mixer"
	"github.com/justestif/go-aiam/internal/tts"
	"github.com/justestif/go-aiam/internal/voice"
)

// Error codes returned in the "code" field and logged as error_code.
const (
	CodeEmptyPlaylist        = "EmptyPlaylist"
	CodeIncompleteAudio      = "IncompleteAudio"
	CodeIncompleteImages     = "IncompleteImages"
	CodeSynthesisRateLimited = "SynthesisRateLimited"
	CodeSynthesisFailed      = "SynthesisFailed"
	CodeInsufficientCredits  = "InsufficientCredits"
	CodeStorageFetchFailed   = "StorageFetchFailed"
	CodeMixEncodingFailed    = "MixEncodingFailed"
	CodeMixTimeout           = "MixTimeout"
	CodeNotFound             = "NotFound"
	CodeBadRequest           = "BadRequest"
	CodeInternal             = "Internal"
)

// Actions suggested to the client.
const (
	ActionTopUp   = "top_up"
	ActionUpgrade = "upgrade"
	ActionRetry   = "retry"
)

const unusualActivityMessage = "ElevenLabs temporarily disabled free-tier synthesis due to unusual activity. " +
	"Upgrade your ElevenLabs plan to continue using Play all."

// apiError is the JSON error body.
type apiError struct {
	Status       int    `json:"-"`
	Error        string `json:"error"`
	Code         string `json:"code"`
	MissingCount *int   `json:"missingCount,omitempty"`
	TotalCount   *int   `json:"totalCount,omitempty"`
	Action       string `json:"action,omitempty"`
}

// errBadRequest marks client input errors.
var errBadRequest = errors.New("bad request")

// classify maps an error to its response. fallback is the code used for
// errors outside the taxonomy.
func classify(err error, fallback string) apiError {
	var incomplete *export.IncompleteError
	if errors.As(err, &incomplete) {
		missing, total := incomplete.Missing, incomplete.Total
		resp := apiError{
			Status:       http.StatusBadRequest,
			MissingCount: &missing,
			TotalCount:   &total,
		}
		if incomplete.Kind == export.KindImages {
			resp.Code = CodeIncompleteImages
			resp.Error = "Not all affirmations have images. Generate the missing images before downloading a video."
		} else {
			resp.Code = CodeIncompleteAudio
			resp.Error = "Not all affirmations have cached audio. Play the playlist once to generate the missing audio."
		}
		return resp
	}

	var apiErr *tts.APIError
	switch {
	case errors.Is(err, errBadRequest):
		return apiError{Status: http.StatusBadRequest, Code: CodeBadRequest, Error: err.Error()}
	case errors.Is(err, export.ErrEmptyPlaylist):
		return apiError{Status: http.StatusBadRequest, Code: CodeEmptyPlaylist, Error: "Playlist is empty"}
	case errors.Is(err, export.ErrPlaylistNotFound):
		return apiError{Status: http.StatusNotFound, Code: CodeNotFound, Error: "Playlist not found"}
	case errors.Is(err, db.ErrNotFound):
		return apiError{Status: http.StatusNotFound, Code: CodeNotFound, Error: "Not found"}
	case errors.Is(err, voice.ErrInsufficientCredits):
		return apiError{
			Status: http.StatusPaymentRequired,
			Code:   CodeInsufficientCredits,
			Error:  "Not enough credits to use your voice. Top up to continue.",
			Action: ActionTopUp,
		}
	case errors.As(err, &apiErr) && apiErr.IsUnusualActivity():
		return apiError{
			Status: http.StatusTooManyRequests,
			Code:   CodeSynthesisRateLimited,
			Error:  unusualActivityMessage,
			Action: ActionUpgrade,
		}
	case errors.Is(err, tts.ErrRateLimited):
		return apiError{
			Status: http.StatusTooManyRequests,
			Code:   CodeSynthesisRateLimited,
			Error:  "ElevenLabs rate limit reached. Upgrade your ElevenLabs plan or try again later.",
			Action: ActionUpgrade,
		}
	case errors.Is(err, tts.ErrSynthesisFailed):
		return apiError{
			Status: http.StatusBadGateway,
			Code:   CodeSynthesisFailed,
			Error:  "Audio generation failed. Please try again.",
			Action: ActionRetry,
		}
	case errors.Is(err, export.ErrStorageFetch):
		return apiError{Status: http.StatusBadGateway, Code: CodeStorageFetchFailed, Error: "Failed to fetch media from storage"}
	case errors.Is(err, export.ErrMixTimeout), errors.Is(err, context.DeadlineExceeded):
		return apiError{Status: http.StatusGatewayTimeout, Code: CodeMixTimeout, Error: "Creating the download took too long"}
	case errors.Is(err, mixer.ErrEncodingFailed), errors.Is(err, mixer.ErrVideoUnavailable):
		return apiError{Status: http.StatusInternalServerError, Code: CodeMixEncodingFailed, Error: "Failed to create download"}
	}

	if fallback == "" {
		fallback = CodeInternal
	}
	return apiError{Status: http.StatusInternalServerError, Code: fallback, Error: "Internal server error"}
}

// writeError logs err with its code and writes the JSON body.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, fallback string) {
	resp := classify(err, fallback)

	attrs := []any{
		"error_code", resp.Code,
		"status", resp.Status,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
		"error", err,
	}
	switch {
	case errors.Is(err, context.Canceled):
		logger.Debug("request cancelled", attrs...)
	case resp.Status >= http.StatusInternalServerError:
		logger.Error("request failed", attrs...)
	default:
		logger.Warn("request rejected", attrs...)
	}

	writeJSON(w, resp.Status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
