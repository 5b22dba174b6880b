package mixer

import (
	"math"
	"time"
)

// Format is a PCM sample layout.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is the output layout: 44.1 kHz stereo.
var DefaultFormat = Format{SampleRate: 44100, Channels: 2}

// Buffer holds interleaved signed 16-bit PCM.
type Buffer struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// NewSilence returns a zeroed buffer of the given length.
func NewSilence(f Format, d time.Duration) *Buffer {
	frames := framesFor(f.SampleRate, d)
	return &Buffer{
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		Samples:    make([]int16, frames*f.Channels),
	}
}

// Format returns the buffer's layout.
func (b *Buffer) Format() Format {
	return Format{SampleRate: b.SampleRate, Channels: b.Channels}
}

// Frames returns the number of sample frames (one sample per channel).
func (b *Buffer) Frames() int {
	if b.Channels == 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playing time of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate == 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Conform converts b to f: linear resampling, then channel mapping.
// Mono becomes dual-mono; extra channels beyond the target are dropped.
func Conform(b *Buffer, f Format) *Buffer {
	out := b
	if b.SampleRate != f.SampleRate {
		out = resample(out, f.SampleRate)
	}
	if out.Channels != f.Channels {
		out = remap(out, f.Channels)
	}
	return out
}

// resample converts the sample rate using linear interpolation per channel.
func resample(b *Buffer, toRate int) *Buffer {
	frames := b.Frames()
	out := &Buffer{SampleRate: toRate, Channels: b.Channels}
	if frames == 0 {
		return out
	}

	ratio := float64(b.SampleRate) / float64(toRate)
	newFrames := int(float64(frames) / ratio)
	out.Samples = make([]int16, newFrames*b.Channels)

	for i := 0; i < newFrames; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		for c := 0; c < b.Channels; c++ {
			if srcIdx >= frames-1 {
				out.Samples[i*b.Channels+c] = b.Samples[(frames-1)*b.Channels+c]
				continue
			}
			s1 := float64(b.Samples[srcIdx*b.Channels+c])
			s2 := float64(b.Samples[(srcIdx+1)*b.Channels+c])
			out.Samples[i*b.Channels+c] = int16(s1 + frac*(s2-s1))
		}
	}
	return out
}

// remap changes the channel count.
func remap(b *Buffer, channels int) *Buffer {
	frames := b.Frames()
	out := &Buffer{
		SampleRate: b.SampleRate,
		Channels:   channels,
		Samples:    make([]int16, frames*channels),
	}

	for i := 0; i < frames; i++ {
		src := b.Samples[i*b.Channels : (i+1)*b.Channels]
		dst := out.Samples[i*channels : (i+1)*channels]

		if channels == 1 {
			var sum int32
			for _, s := range src {
				sum += int32(s)
			}
			dst[0] = int16(sum / int32(len(src)))
			continue
		}
		for c := range dst {
			if b.Channels == 1 {
				dst[c] = src[0]
			} else if c < len(src) {
				dst[c] = src[c]
			}
		}
	}
	return out
}

// clamp16 rounds v and limits it to the int16 range.
func clamp16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func framesFor(rate int, d time.Duration) int {
	return int(math.Round(d.Seconds() * float64(rate)))
}
