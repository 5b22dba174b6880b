package mixer

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// Decode turns an encoded clip (WAV or MP3) into PCM.
func Decode(data []byte) (*Buffer, error) {
	if IsWAV(data) {
		return DecodeWAV(data)
	}
	return decodeMP3(data)
}

// decodeMP3 decodes MP3 data. go-mp3 always yields 16-bit stereo.
func decodeMP3(data []byte) (*Buffer, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening mp3: %w", err)
	}

	pcm, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("decoding mp3: %w", err)
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	// Drop a trailing half frame.
	samples = samples[:len(samples)-len(samples)%2]

	return &Buffer{
		SampleRate: d.SampleRate(),
		Channels:   2,
		Samples:    samples,
	}, nil
}
