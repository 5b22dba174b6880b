// Package tts is a client for the ElevenLabs text-to-speech API.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultBaseURL      = "https://api.elevenlabs.io/v1"
	defaultModelID      = "eleven_multilingual_v2"
	defaultOutputFormat = "mp3_44100_128"
)

// Settings are the ElevenLabs voice_settings for a request.
type Settings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	SpeakerBoost    bool    `json:"use_speaker_boost"`
}

// Voice is an entry in the ElevenLabs voice catalog.
type Voice struct {
	VoiceID    string            `json:"voice_id"`
	Name       string            `json:"name"`
	Category   string            `json:"category,omitempty"`
	PreviewURL string            `json:"preview_url,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
}

// Client calls ElevenLabs.
type Client struct {
	apiKey       string
	modelID      string
	outputFormat string
	baseURL      string
	httpClient   *http.Client
	retryDelays  []time.Duration
	logger       *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithModel sets the synthesis model ID.
func WithModel(id string) Option {
	return func(c *Client) {
		if id != "" {
			c.modelID = id
		}
	}
}

// WithBaseURL points the client at a different API root.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetryDelays sets the wait before each retry. An empty slice disables retries.
func WithRetryDelays(d ...time.Duration) Option {
	return func(c *Client) {
		c.retryDelays = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates an ElevenLabs client.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:       apiKey,
		modelID:      defaultModelID,
		outputFormat: defaultOutputFormat,
		baseURL:      defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		retryDelays: []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "tts")
	return c
}

type synthesizeRequest struct {
	Text          string   `json:"text"`
	ModelID       string   `json:"model_id"`
	VoiceSettings Settings `json:"voice_settings"`
	OutputFormat  string   `json:"output_format"`
}

// Synthesize converts text to MP3 audio using voiceID.
// Rate-limit and server errors are retried; the final error unwraps to
// ErrRateLimited or ErrSynthesisFailed.
func (c *Client) Synthesize(ctx context.Context, voiceID, text string, s Settings) ([]byte, error) {
	if voiceID == "" {
		return nil, fmt.Errorf("%w: voice id is required", ErrSynthesisFailed)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", ErrSynthesisFailed)
	}

	body, err := json.Marshal(synthesizeRequest{
		Text:          text,
		ModelID:       c.modelID,
		VoiceSettings: s,
		OutputFormat:  c.outputFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	start := time.Now()
	audio, err := c.do(ctx, http.MethodPost, "/text-to-speech/"+voiceID, body, "audio/mpeg")
	if err != nil {
		return nil, fmt.Errorf("synthesizing speech: %w", err)
	}

	c.logger.Debug("synthesized audio",
		"voice_id", voiceID,
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return audio, nil
}

// ListVoices returns the voice catalog available to the account.
func (c *Client) ListVoices(ctx context.Context) ([]Voice, error) {
	body, err := c.do(ctx, http.MethodGet, "/voices", nil, "application/json")
	if err != nil {
		return nil, fmt.Errorf("listing voices: %w", err)
	}

	var resp struct {
		Voices []Voice `json:"voices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing voices response: %w", err)
	}
	if resp.Voices == nil {
		resp.Voices = []Voice{}
	}
	return resp.Voices, nil
}

// do performs a request, retrying on 429 and 5xx after each configured delay.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, accept string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= len(c.retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelays[attempt-1]):
			}
		}

		body, err := c.doSingle(ctx, method, path, payload, accept)
		if err == nil {
			return body, nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.retryable() {
			c.logger.Warn("retrying request",
				"attempt", attempt+1,
				"status", apiErr.StatusCode,
			)
			lastErr = err
			continue
		}
		return nil, err
	}

	return nil, lastErr
}

func (c *Client) doSingle(ctx context.Context, method, path string, payload []byte, accept string) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Accept", accept)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp.StatusCode, body)
	}
	return body, nil
}

// parseError decodes an ElevenLabs error body. The detail field is either
// an object with status/message or a plain string.
func parseError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode, Message: string(body)}

	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &envelope) != nil || len(envelope.Detail) == 0 {
		return apiErr
	}

	var detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if json.Unmarshal(envelope.Detail, &detail) == nil {
		apiErr.Status = detail.Status
		if detail.Message != "" {
			apiErr.Message = detail.Message
		}
		return apiErr
	}

	var msg string
	if json.Unmarshal(envelope.Detail, &msg) == nil && msg != "" {
		apiErr.Message = msg
	}
	return apiErr
}
