package mixer

import (
	"errors"
	"image"
	"time"
)

// Defaults for audio assembly.
const (
	DefaultGap       = 500 * time.Millisecond
	DefaultMusicGain = 0.2
	narrationGain    = 1.0
)

// ErrEmptyTimeline is returned when there is nothing to assemble.
var ErrEmptyTimeline = errors.New("empty timeline")

// SegmentKind distinguishes narration-only segments from image+narration ones.
type SegmentKind int

const (
	SegmentAudio SegmentKind = iota
	SegmentImageAudio
)

func (k SegmentKind) String() string {
	switch k {
	case SegmentAudio:
		return "audio"
	case SegmentImageAudio:
		return "imageAudio"
	default:
		return "unknown"
	}
}

// Segment is one clip on the timeline. An image has no intrinsic length and
// is held for the duration of its narration.
type Segment struct {
	Kind  SegmentKind
	Audio *Buffer
	Image image.Image
}

// Duration is the segment's length, equal to its narration.
func (s Segment) Duration() time.Duration {
	if s.Audio == nil {
		return 0
	}
	return s.Audio.Duration()
}

// Background is a track looped under the narration.
type Background struct {
	Audio *Buffer
	Gain  float64
}

// Timeline is an ordered assembly plan.
type Timeline struct {
	Segments   []Segment
	Gap        time.Duration // silence between consecutive segments
	Background *Background
}

// Duration is the sum of segment durations plus one gap between each pair.
func (t *Timeline) Duration() time.Duration {
	var total time.Duration
	for _, s := range t.Segments {
		total += s.Duration()
	}
	if n := len(t.Segments); n > 1 {
		total += time.Duration(n-1) * t.Gap
	}
	return total
}

// Render produces the narration track in format f, with the background
// mixed in when present.
func (t *Timeline) Render(f Format) (*Buffer, error) {
	if len(t.Segments) == 0 {
		return nil, ErrEmptyTimeline
	}

	clips := make([]*Buffer, len(t.Segments))
	for i, s := range t.Segments {
		clips[i] = Conform(s.Audio, f)
	}
	out := Concatenate(clips, t.Gap, f)

	if t.Background != nil && t.Background.Audio != nil {
		MixBackground(out, Conform(t.Background.Audio, f), t.Background.Gain)
	}
	return out, nil
}

// Concatenate joins clips in order with a full gap of silence between each
// pair and none at either end. Clips must already be in format f.
func Concatenate(clips []*Buffer, gap time.Duration, f Format) *Buffer {
	gapSamples := framesFor(f.SampleRate, gap) * f.Channels

	total := 0
	for _, c := range clips {
		total += len(c.Samples)
	}
	if len(clips) > 1 {
		total += (len(clips) - 1) * gapSamples
	}

	out := &Buffer{
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		Samples:    make([]int16, total),
	}
	pos := 0
	for i, c := range clips {
		if i > 0 {
			pos += gapSamples // already zero
		}
		pos += copy(out.Samples[pos:], c.Samples)
	}
	return out
}

// MixBackground adds music*gain into narr in place, looping music by frame
// index modulo its length. Narration is unattenuated and sums are clamped.
// Both buffers must share a format.
func MixBackground(narr, music *Buffer, gain float64) {
	musicFrames := music.Frames()
	if musicFrames == 0 {
		return
	}
	ch := narr.Channels

	for i := 0; i < narr.Frames(); i++ {
		m := (i % musicFrames) * ch
		for c := 0; c < ch; c++ {
			v := narrationGain*float64(narr.Samples[i*ch+c]) + gain*float64(music.Samples[m+c])
			narr.Samples[i*ch+c] = clamp16(v)
		}
	}
}
