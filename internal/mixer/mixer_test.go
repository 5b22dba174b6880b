package mixer

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/justestif/go-aiam/internal/log"
)

func constBuffer(f Format, d time.Duration, value int16) *Buffer {
	b := NewSilence(f, d)
	for i := range b.Samples {
		b.Samples[i] = value
	}
	return b
}

func TestTimeline_GapTiming(t *testing.T) {
	f := DefaultFormat
	tl := &Timeline{
		Segments: []Segment{
			{Kind: SegmentAudio, Audio: constBuffer(f, 2*time.Second, 100)},
			{Kind: SegmentAudio, Audio: constBuffer(f, 3*time.Second, 200)},
			{Kind: SegmentAudio, Audio: constBuffer(f, 1500*time.Millisecond, 300)},
		},
		Gap: 500 * time.Millisecond,
	}

	if got := tl.Duration(); got != 7500*time.Millisecond {
		t.Errorf("Duration() = %v, want 7.5s", got)
	}

	out, err := tl.Render(f)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if want := int(7.5 * 44100); out.Frames() != want {
		t.Fatalf("Render() frames = %d, want %d", out.Frames(), want)
	}

	// Segment boundaries in frames: clip 2.0s | gap 0.5s | clip 3.0s | gap 0.5s | clip 1.5s.
	checks := []struct {
		atSeconds float64
		want      int16
	}{
		{0, 100},
		{1.999, 100},
		{2.25, 0},
		{2.5, 200},
		{5.499, 200},
		{5.75, 0},
		{6.0, 300},
		{7.499, 300},
	}
	for _, c := range checks {
		frame := int(c.atSeconds * 44100)
		for ch := 0; ch < 2; ch++ {
			if got := out.Samples[frame*2+ch]; got != c.want {
				t.Errorf("sample at %.3fs ch%d = %d, want %d", c.atSeconds, ch, got, c.want)
			}
		}
	}
}

func TestConcatenate_ShortClipGetsFullGap(t *testing.T) {
	f := Format{SampleRate: 1000, Channels: 1}
	short := constBuffer(f, 100*time.Millisecond, 1)
	long := constBuffer(f, time.Second, 2)

	out := Concatenate([]*Buffer{short, long}, 500*time.Millisecond, f)

	if want := 100 + 500 + 1000; out.Frames() != want {
		t.Errorf("Frames() = %d, want %d", out.Frames(), want)
	}
	if out.Samples[0] != 1 || out.Samples[99] != 1 || out.Samples[100] != 0 || out.Samples[599] != 0 || out.Samples[600] != 2 {
		t.Error("gap not placed after the short clip")
	}
}

func TestConcatenate_SingleClipNoGap(t *testing.T) {
	f := Format{SampleRate: 1000, Channels: 2}
	out := Concatenate([]*Buffer{constBuffer(f, time.Second, 5)}, DefaultGap, f)
	if out.Frames() != 1000 {
		t.Errorf("Frames() = %d, want 1000", out.Frames())
	}
}

func TestMixBackground_Attenuation(t *testing.T) {
	f := DefaultFormat
	narr := NewSilence(f, time.Second)
	music := constBuffer(f, 300*time.Millisecond, math.MaxInt16) // amplitude 1.0, shorter than narration

	MixBackground(narr, music, 0.2)

	const quantum = 1.0 / math.MaxInt16
	for i, s := range narr.Samples {
		got := float64(s) / math.MaxInt16
		if math.Abs(got-0.2) > quantum {
			t.Fatalf("sample %d = %f, want 0.2 ± %g", i, got, quantum)
		}
	}
}

func TestMixBackground_LoopsByModulo(t *testing.T) {
	narr := &Buffer{SampleRate: 10, Channels: 2, Samples: make([]int16, 7*2)}
	music := &Buffer{SampleRate: 10, Channels: 2, Samples: []int16{10, -10, 20, -20, 30, -30}}

	MixBackground(narr, music, 1.0)

	want := []int16{10, -10, 20, -20, 30, -30, 10, -10, 20, -20, 30, -30, 10, -10}
	for i := range want {
		if narr.Samples[i] != want[i] {
			t.Fatalf("Samples = %v, want %v", narr.Samples, want)
		}
	}
}

func TestMixBackground_Clamps(t *testing.T) {
	narr := &Buffer{SampleRate: 10, Channels: 1, Samples: []int16{32000, -32000, 100}}
	music := &Buffer{SampleRate: 10, Channels: 1, Samples: []int16{32767, -32768, 100}}

	MixBackground(narr, music, 0.5)

	want := []int16{math.MaxInt16, math.MinInt16, 150}
	for i := range want {
		if narr.Samples[i] != want[i] {
			t.Errorf("Samples[%d] = %d, want %d", i, narr.Samples[i], want[i])
		}
	}
}

func TestConform(t *testing.T) {
	t.Run("mono to dual mono", func(t *testing.T) {
		mono := &Buffer{SampleRate: 44100, Channels: 1, Samples: []int16{1, 2, 3}}
		got := Conform(mono, DefaultFormat)
		want := []int16{1, 1, 2, 2, 3, 3}
		if got.Channels != 2 || len(got.Samples) != len(want) {
			t.Fatalf("Conform() = %+v", got)
		}
		for i := range want {
			if got.Samples[i] != want[i] {
				t.Errorf("Samples[%d] = %d, want %d", i, got.Samples[i], want[i])
			}
		}
	})

	t.Run("resample keeps duration", func(t *testing.T) {
		in := constBuffer(Format{SampleRate: 22050, Channels: 2}, 2*time.Second, 50)
		got := Conform(in, DefaultFormat)
		if got.SampleRate != 44100 {
			t.Errorf("SampleRate = %d, want 44100", got.SampleRate)
		}
		if got.Frames() != 88200 {
			t.Errorf("Frames() = %d, want 88200", got.Frames())
		}
		for i, s := range got.Samples {
			if s != 50 {
				t.Fatalf("Samples[%d] = %d, want 50", i, s)
			}
		}
	})

	t.Run("stereo to mono averages", func(t *testing.T) {
		st := &Buffer{SampleRate: 100, Channels: 2, Samples: []int16{10, 20, -4, 4}}
		got := Conform(st, Format{SampleRate: 100, Channels: 1})
		if len(got.Samples) != 2 || got.Samples[0] != 15 || got.Samples[1] != 0 {
			t.Errorf("Conform() = %v, want [15 0]", got.Samples)
		}
	})
}

func TestEncodeWAV_Header(t *testing.T) {
	b := &Buffer{SampleRate: 44100, Channels: 2, Samples: []int16{1, -1, 2, -2}}
	data := EncodeWAV(b)

	if len(data) != 44+8 {
		t.Fatalf("len = %d, want 52", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" || string(data[12:16]) != "fmt " || string(data[36:40]) != "data" {
		t.Error("chunk ids not in canonical positions")
	}
	if got := binary.LittleEndian.Uint32(data[4:8]); got != 36+8 {
		t.Errorf("RIFF size = %d, want 44", got)
	}
	if got := binary.LittleEndian.Uint32(data[28:32]); got != 44100*4 {
		t.Errorf("byte rate = %d, want %d", got, 44100*4)
	}
	if got := binary.LittleEndian.Uint32(data[40:44]); got != 8 {
		t.Errorf("data size = %d, want 8", got)
	}

	back, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	for i := range b.Samples {
		if back.Samples[i] != b.Samples[i] {
			t.Errorf("Samples[%d] = %d, want %d", i, back.Samples[i], b.Samples[i])
		}
	}
}

func TestDecodeWAV_SkipsExtraChunks(t *testing.T) {
	plain := EncodeWAV(&Buffer{SampleRate: 8000, Channels: 1, Samples: []int16{7, 8, 9}})

	// Insert an odd-sized LIST chunk (padded) between fmt and data.
	var buf bytes.Buffer
	buf.Write(plain[:36])
	buf.WriteString("LIST")
	binary.Write(&buf, binary.LittleEndian, uint32(3))
	buf.Write([]byte{'a', 'b', 'c', 0})
	buf.Write(plain[36:])

	got, err := DecodeWAV(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if got.SampleRate != 8000 || got.Channels != 1 || len(got.Samples) != 3 || got.Samples[2] != 9 {
		t.Errorf("DecodeWAV() = %+v", got)
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	tests := map[string][]byte{
		"not riff": []byte("ID3 this is an mp3"),
		"no data":  EncodeWAV(&Buffer{SampleRate: 8000, Channels: 1})[:36],
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeWAV(data); !errors.Is(err, ErrInvalidWAV) {
				t.Errorf("DecodeWAV() error = %v, want ErrInvalidWAV", err)
			}
		})
	}
}

func wavClip(d time.Duration, value int16) []byte {
	return EncodeWAV(constBuffer(Format{SampleRate: 44100, Channels: 1}, d, value))
}

func newTestMixer(opts ...Option) *Mixer {
	return New(append([]Option{WithEncoder(WAVEncoder{}), WithLogger(log.Discard())}, opts...)...)
}

func TestMixAudio_OrderAndGaps(t *testing.T) {
	m := newTestMixer()
	clips := [][]byte{
		wavClip(time.Second, 1000),
		wavClip(500*time.Millisecond, 2000),
		wavClip(time.Second, 3000),
	}

	out, err := m.MixAudio(context.Background(), AudioRequest{Clips: clips})
	if err != nil {
		t.Fatalf("MixAudio() error = %v", err)
	}
	if out.Degraded {
		t.Fatal("MixAudio() degraded unexpectedly")
	}
	if out.ContentType != "audio/wav" || out.Ext != "wav" {
		t.Errorf("ContentType/Ext = %s/%s", out.ContentType, out.Ext)
	}
	if out.Duration != 3500*time.Millisecond {
		t.Errorf("Duration = %v, want 3.5s", out.Duration)
	}

	pcm, err := DecodeWAV(out.Data)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}

	// Collapse runs to verify order: clip, gap, clip, gap, clip.
	var runs []int16
	for i := 0; i < pcm.Frames(); i++ {
		s := pcm.Samples[i*2]
		if len(runs) == 0 || runs[len(runs)-1] != s {
			runs = append(runs, s)
		}
	}
	want := []int16{1000, 0, 2000, 0, 3000}
	if len(runs) != len(want) {
		t.Fatalf("runs = %v, want %v", runs, want)
	}
	for i := range want {
		if runs[i] != want[i] {
			t.Fatalf("runs = %v, want %v", runs, want)
		}
	}
}

func TestMixAudio_WithMusic(t *testing.T) {
	m := newTestMixer(WithGap(0))
	music := EncodeWAV(constBuffer(DefaultFormat, 250*time.Millisecond, math.MaxInt16))

	out, err := m.MixAudio(context.Background(), AudioRequest{
		Clips:     [][]byte{wavClip(time.Second, 0)},
		WithMusic: true,
		Music:     music,
	})
	if err != nil {
		t.Fatalf("MixAudio() error = %v", err)
	}
	pcm, _ := DecodeWAV(out.Data)
	for i, s := range pcm.Samples {
		if s != 6553 {
			t.Fatalf("Samples[%d] = %d, want 6553", i, s)
		}
	}
}

func TestMixAudio_Degrades(t *testing.T) {
	good := wavClip(100*time.Millisecond, 5)

	tests := []struct {
		name string
		req  AudioRequest
	}{
		{
			name: "undecodable clip",
			req:  AudioRequest{Clips: [][]byte{good, []byte("not audio")}},
		},
		{
			name: "music requested but missing",
			req:  AudioRequest{Clips: [][]byte{good, good}, WithMusic: true},
		},
		{
			name: "undecodable music",
			req:  AudioRequest{Clips: [][]byte{good}, WithMusic: true, Music: []byte("garbage")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := newTestMixer().MixAudio(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("MixAudio() error = %v", err)
			}
			if !out.Degraded {
				t.Error("Degraded = false, want true")
			}
			if !bytes.Equal(out.Data, bytes.Join(tt.req.Clips, nil)) {
				t.Error("degraded output is not the concatenated clips")
			}
			if out.ContentType != "audio/mpeg" || out.Ext != "mp3" {
				t.Errorf("ContentType/Ext = %s/%s", out.ContentType, out.Ext)
			}
		})
	}
}

func TestMixAudio_Empty(t *testing.T) {
	if _, err := newTestMixer().MixAudio(context.Background(), AudioRequest{}); !errors.Is(err, ErrEmptyTimeline) {
		t.Errorf("MixAudio() error = %v, want ErrEmptyTimeline", err)
	}
}

func TestMixAudio_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestMixer().MixAudio(ctx, AudioRequest{Clips: [][]byte{wavClip(time.Second, 1)}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("MixAudio() error = %v, want context.Canceled", err)
	}
}

func TestLetterbox(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 400, 400))
	for y := 0; y < 400; y++ {
		for x := 0; x < 400; x++ {
			src.Set(x, y, color.White)
		}
	}

	dst := Letterbox(src, FrameWidth, FrameHeight)

	if b := dst.Bounds(); b.Dx() != 1920 || b.Dy() != 1080 {
		t.Fatalf("bounds = %v", b)
	}
	// Square source fits by height: 1080×1080 centered, 420px bars each side.
	if r, _, _, _ := dst.At(960, 540).RGBA(); r>>8 != 0xff {
		t.Errorf("center red = %d, want 255", r>>8)
	}
	if r, _, _, _ := dst.At(100, 540).RGBA(); r != 0 {
		t.Errorf("left bar red = %d, want 0", r)
	}
	if r, _, _, _ := dst.At(1819, 540).RGBA(); r != 0 {
		t.Errorf("right bar red = %d, want 0", r)
	}
}

func TestVideoArgs(t *testing.T) {
	args := videoArgs(
		[]string{"f0.png", "f1.png"},
		[]time.Duration{2 * time.Second, 1500 * time.Millisecond},
		"audio.wav", "out.mp4",
	)
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-loop 1 -framerate 25 -t 2.000 -i f0.png",
		"-loop 1 -framerate 25 -t 1.520 -i f1.png",
		"-i audio.wav",
		"[0:v]trim=end_frame=50,",
		"[1:v]trim=end_frame=38,",
		"[v0][v1]concat=n=2:v=1:a=0,format=yuv420p[outv]",
		"-map [outv] -map 2:a",
		"-c:v libx264 -preset fast -crf 23",
		"-c:a aac -b:a 128k",
		"-movflags +faststart",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q\n%s", want, joined)
		}
	}
	if strings.Contains(joined, "-shortest") {
		t.Error("args truncate to the shortest stream")
	}
	if args[len(args)-1] != "out.mp4" {
		t.Errorf("last arg = %s, want out.mp4", args[len(args)-1])
	}
}

func TestFrameCounts_CumulativeBoundaries(t *testing.T) {
	durations := make([]time.Duration, 20)
	for i := range durations {
		durations[i] = 2013 * time.Millisecond
	}

	counts := frameCounts(durations, 25)

	if counts[0] != 50 || counts[1] != 51 || counts[2] != 50 {
		t.Errorf("first counts = %v, want [50 51 50]", counts[:3])
	}

	// Each image starts within half a frame of its clip.
	const frame = 40 * time.Millisecond
	var clipStart time.Duration
	imageFrames := 0
	for i, n := range counts {
		imageStart := time.Duration(imageFrames) * frame
		if diff := imageStart - clipStart; diff > frame/2 || diff < -frame/2 {
			t.Errorf("image %d starts at %v, clip at %v", i, imageStart, clipStart)
		}
		imageFrames += n
		clipStart += durations[i]
	}
	if imageFrames != 1007 {
		t.Errorf("total frames = %d, want 1007 (40.26s at 25fps)", imageFrames)
	}
}

func TestFrameCounts_ShortClipKeepsOneFrame(t *testing.T) {
	counts := frameCounts([]time.Duration{10 * time.Millisecond, 990 * time.Millisecond}, 25)

	if counts[0] != 1 {
		t.Errorf("short clip frames = %d, want 1", counts[0])
	}
	if total := counts[0] + counts[1]; total != 25 {
		t.Errorf("total frames = %d, want 25", total)
	}
}

func TestMixVideo_Unavailable(t *testing.T) {
	m := newTestMixer(WithFFmpeg("aiam-no-such-ffmpeg"))
	img := solidPNG(t, 64, 48)

	_, err := m.MixVideo(context.Background(), VideoRequest{
		Clips:  [][]byte{wavClip(time.Second, 1)},
		Images: [][]byte{img},
	})
	if !errors.Is(err, ErrVideoUnavailable) {
		t.Errorf("MixVideo() error = %v, want ErrVideoUnavailable", err)
	}
}

func TestMixVideo(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not on PATH")
	}
	m := newTestMixer(WithFFmpeg("ffmpeg"))

	out, err := m.MixVideo(context.Background(), VideoRequest{
		Clips:  [][]byte{wavClip(500*time.Millisecond, 100), wavClip(500*time.Millisecond, 200)},
		Images: [][]byte{solidPNG(t, 320, 240), solidPNG(t, 240, 320)},
	})
	if err != nil {
		t.Fatalf("MixVideo() error = %v", err)
	}
	if out.ContentType != "video/mp4" {
		t.Errorf("ContentType = %s", out.ContentType)
	}
	if len(out.Data) < 12 || string(out.Data[4:8]) != "ftyp" {
		t.Error("output is not an MP4")
	}
	if out.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", out.Duration)
	}
}

func solidPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}
