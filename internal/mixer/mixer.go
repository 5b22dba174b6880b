// Package mixer assembles narration clips, an optional looping background
// track and optional per-clip images into a single audio or video file.
package mixer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// ErrVideoUnavailable is returned when video is requested without ffmpeg.
var ErrVideoUnavailable = errors.New("video rendering requires ffmpeg")

// ErrMissingMusic is reported when music was requested but none was supplied.
var ErrMissingMusic = errors.New("background music missing")

// AudioRequest is an audio-only mix.
type AudioRequest struct {
	Clips     [][]byte // encoded narration in playlist order
	WithMusic bool
	Music     []byte // encoded background track; nil if none was found
}

// VideoRequest is a slideshow mix. Images[i] is shown for Clips[i].
type VideoRequest struct {
	Clips  [][]byte
	Images [][]byte
	Music  []byte // optional
}

// Output is a finished mix.
type Output struct {
	Data        []byte
	ContentType string
	Ext         string
	Duration    time.Duration
	// Degraded is set when the mix fell back to naive byte concatenation.
	Degraded bool
}

// Mixer assembles timelines.
type Mixer struct {
	format     Format
	gap        time.Duration
	musicGain  float64
	ffmpegPath string // empty when ffmpeg is unavailable
	encoder    Encoder
	logger     *slog.Logger
}

// Option configures a Mixer.
type Option func(*Mixer)

// WithGap sets the silence between clips in audio-only mixes.
func WithGap(d time.Duration) Option {
	return func(m *Mixer) {
		if d >= 0 {
			m.gap = d
		}
	}
}

// WithMusicGain sets the background attenuation factor.
func WithMusicGain(g float64) Option {
	return func(m *Mixer) {
		if g >= 0 {
			m.musicGain = g
		}
	}
}

// WithFFmpeg sets the ffmpeg binary. If it cannot be found, audio is
// written as WAV and video is unavailable.
func WithFFmpeg(path string) Option {
	return func(m *Mixer) {
		m.ffmpegPath = path
	}
}

// WithEncoder overrides the audio encoder.
func WithEncoder(e Encoder) Option {
	return func(m *Mixer) {
		m.encoder = e
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mixer) {
		m.logger = l
	}
}

// New creates a Mixer.
func New(opts ...Option) *Mixer {
	m := &Mixer{
		format:    DefaultFormat,
		gap:       DefaultGap,
		musicGain: DefaultMusicGain,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "mixer")

	if m.ffmpegPath != "" {
		resolved, err := exec.LookPath(m.ffmpegPath)
		if err != nil {
			m.logger.Warn("ffmpeg not found, using wav output and disabling video", "path", m.ffmpegPath)
			m.ffmpegPath = ""
		} else {
			m.ffmpegPath = resolved
		}
	}
	if m.encoder == nil {
		if m.ffmpegPath != "" {
			m.encoder = MP3Encoder{FFmpegPath: m.ffmpegPath}
		} else {
			m.encoder = WAVEncoder{}
		}
	}
	return m
}

// VideoAvailable reports whether MixVideo can run.
func (m *Mixer) VideoAvailable() bool {
	return m.ffmpegPath != ""
}

// MixAudio concatenates clips with gaps and mixes in the background track.
// Any decode, music or encode failure degrades to naive byte concatenation
// of the clips; only cancellation and an empty request are errors.
func (m *Mixer) MixAudio(ctx context.Context, req AudioRequest) (*Output, error) {
	if len(req.Clips) == 0 {
		return nil, ErrEmptyTimeline
	}

	out, err := m.mixAudio(ctx, req)
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	m.logger.Warn("serving degraded mix",
		"error", err,
		"error_code", errorCode(err),
		"clips", len(req.Clips),
		"with_music", req.WithMusic,
	)
	return &Output{
		Data:        bytes.Join(req.Clips, nil),
		ContentType: "audio/mpeg",
		Ext:         "mp3",
		Degraded:    true,
	}, nil
}

func (m *Mixer) mixAudio(ctx context.Context, req AudioRequest) (*Output, error) {
	if req.WithMusic && len(req.Music) == 0 {
		return nil, ErrMissingMusic
	}

	tl, err := m.timeline(ctx, req.Clips, nil, m.gap)
	if err != nil {
		return nil, err
	}
	if req.WithMusic {
		if tl.Background, err = m.background(req.Music); err != nil {
			return nil, err
		}
	}

	pcm, err := tl.Render(m.format)
	if err != nil {
		return nil, err
	}

	data, err := m.encoder.Encode(ctx, pcm)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("mixed audio",
		"clips", len(tl.Segments),
		"duration", tl.Duration(),
		"with_music", tl.Background != nil,
		"format", m.encoder.Ext(),
	)
	return &Output{
		Data:        data,
		ContentType: m.encoder.ContentType(),
		Ext:         m.encoder.Ext(),
		Duration:    pcm.Duration(),
	}, nil
}

// MixVideo renders a slideshow. Each image is letterboxed to 1920×1080
// and held for exactly its clip's duration; there is no gap. Failures are
// returned, never degraded.
func (m *Mixer) MixVideo(ctx context.Context, req VideoRequest) (*Output, error) {
	if len(req.Clips) == 0 {
		return nil, ErrEmptyTimeline
	}
	if len(req.Images) != len(req.Clips) {
		return nil, fmt.Errorf("video needs one image per clip: %d images, %d clips", len(req.Images), len(req.Clips))
	}
	if !m.VideoAvailable() {
		return nil, ErrVideoUnavailable
	}

	tl, err := m.timeline(ctx, req.Clips, req.Images, 0)
	if err != nil {
		return nil, err
	}
	if len(req.Music) > 0 {
		bg, err := m.background(req.Music)
		if err != nil {
			return nil, err
		}
		tl.Background = bg
	}

	pcm, err := tl.Render(m.format)
	if err != nil {
		return nil, err
	}

	frames := make([][]byte, len(tl.Segments))
	durations := make([]time.Duration, len(tl.Segments))
	for i, s := range tl.Segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if frames[i], err = encodeFrame(Letterbox(s.Image, FrameWidth, FrameHeight)); err != nil {
			return nil, fmt.Errorf("%w: frame %d: %v", ErrEncodingFailed, i, err)
		}
		durations[i] = s.Duration()
	}

	data, err := renderVideo(ctx, m.ffmpegPath, frames, durations, EncodeWAV(pcm))
	if err != nil {
		return nil, err
	}
	return &Output{
		Data:        data,
		ContentType: "video/mp4",
		Ext:         "mp4",
		Duration:    pcm.Duration(),
	}, nil
}

// timeline decodes clips (and images, when given) into segments.
func (m *Mixer) timeline(ctx context.Context, clips, images [][]byte, gap time.Duration) (*Timeline, error) {
	tl := &Timeline{
		Segments: make([]Segment, len(clips)),
		Gap:      gap,
	}
	for i, data := range clips {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pcm, err := Decode(data)
		if err != nil {
			return nil, fmt.Errorf("clip %d: %w", i, err)
		}
		tl.Segments[i] = Segment{Kind: SegmentAudio, Audio: pcm}

		if images != nil {
			img, err := DecodeImage(images[i])
			if err != nil {
				return nil, fmt.Errorf("image %d: %w", i, err)
			}
			tl.Segments[i].Kind = SegmentImageAudio
			tl.Segments[i].Image = img
		}
	}
	return tl, nil
}

func (m *Mixer) background(music []byte) (*Background, error) {
	pcm, err := Decode(music)
	if err != nil {
		return nil, fmt.Errorf("music: %w", err)
	}
	return &Background{Audio: pcm, Gain: m.musicGain}, nil
}

// errorCode labels a mix failure for logs.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrEncodingFailed):
		return "MixEncodingFailed"
	case errors.Is(err, ErrMissingMusic):
		return "MissingMusic"
	default:
		return "MixDecodeFailed"
	}
}
