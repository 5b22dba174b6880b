package mixer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrEncodingFailed is returned when a buffer cannot be encoded.
var ErrEncodingFailed = errors.New("mix encoding failed")

// Encoder turns PCM into a container format.
type Encoder interface {
	Encode(ctx context.Context, b *Buffer) ([]byte, error)
	ContentType() string
	Ext() string
}

// WAVEncoder writes uncompressed PCM.
type WAVEncoder struct{}

func (WAVEncoder) Encode(ctx context.Context, b *Buffer) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return EncodeWAV(b), nil
}

func (WAVEncoder) ContentType() string { return "audio/wav" }
func (WAVEncoder) Ext() string         { return "wav" }

// MP3Encoder pipes WAV into ffmpeg and reads 128 kbps MP3 back.
type MP3Encoder struct {
	FFmpegPath string
}

func (e MP3Encoder) Encode(ctx context.Context, b *Buffer) ([]byte, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "wav", "-i", "pipe:0",
		"-c:a", "libmp3lame", "-b:a", "128k",
		"-f", "mp3", "pipe:1",
	}
	out, err := runFFmpeg(ctx, e.FFmpegPath, args, EncodeWAV(b))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (MP3Encoder) ContentType() string { return "audio/mpeg" }
func (MP3Encoder) Ext() string         { return "mp3" }

// runFFmpeg runs ffmpeg with stdin and returns stdout. Failures carry stderr.
func runFFmpeg(ctx context.Context, path string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, path, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: ffmpeg: %v: %s", ErrEncodingFailed, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

var (
	_ Encoder = WAVEncoder{}
	_ Encoder = MP3Encoder{}
)
