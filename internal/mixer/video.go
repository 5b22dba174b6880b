package mixer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const videoFrameRate = 25

// videoArgs builds the ffmpeg command line for a slideshow: frame i is held
// for durations[i], frames are concatenated without gaps, and the single
// audio input is attached.
func videoArgs(frames []string, durations []time.Duration, audio, output string) []string {
	counts := frameCounts(durations, videoFrameRate)
	args := []string{"-hide_banner", "-loglevel", "error", "-y"}

	for i, f := range frames {
		args = append(args,
			"-loop", "1",
			"-framerate", strconv.Itoa(videoFrameRate),
			"-t", formatSeconds(frameTime(counts[i], videoFrameRate)),
			"-i", f,
		)
	}
	args = append(args, "-i", audio)

	var filter strings.Builder
	for i := range frames {
		fmt.Fprintf(&filter, "[%d:v]trim=end_frame=%d,setsar=1,setpts=PTS-STARTPTS[v%d];", i, counts[i], i)
	}
	for i := range frames {
		fmt.Fprintf(&filter, "[v%d]", i)
	}
	fmt.Fprintf(&filter, "concat=n=%d:v=1:a=0,format=yuv420p[outv]", len(frames))

	args = append(args,
		"-filter_complex", filter.String(),
		"-map", "[outv]",
		"-map", fmt.Sprintf("%d:a", len(frames)),
		"-c:v", "libx264", "-preset", "fast", "-crf", "23",
		"-r", strconv.Itoa(videoFrameRate),
		"-c:a", "aac", "-b:a", "128k",
		"-movflags", "+faststart",
		output,
	)
	return args
}

// frameCounts splits the narration into whole frames per segment. Segment
// boundaries are rounded from cumulative clip end times, so each image
// changes within half a frame of its clip starting and rounding never
// accumulates. Every segment gets at least one frame.
func frameCounts(durations []time.Duration, fps int) []int {
	counts := make([]int, len(durations))
	var end time.Duration
	emitted := 0
	for i, d := range durations {
		end += d
		boundary := int((int64(end)*int64(fps) + int64(time.Second)/2) / int64(time.Second))
		counts[i] = max(boundary-emitted, 1)
		emitted += counts[i]
	}
	return counts
}

func frameTime(frames, fps int) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(fps)
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// renderVideo writes frames and audio to a scratch directory, runs ffmpeg
// and returns the MP4 bytes.
func renderVideo(ctx context.Context, ffmpegPath string, frames [][]byte, durations []time.Duration, wav []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "aiam-video-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	paths := make([]string, len(frames))
	for i, f := range frames {
		paths[i] = filepath.Join(dir, fmt.Sprintf("frame_%03d.png", i))
		if err := os.WriteFile(paths[i], f, 0o600); err != nil {
			return nil, fmt.Errorf("writing frame %d: %w", i, err)
		}
	}

	audioPath := filepath.Join(dir, "audio.wav")
	if err := os.WriteFile(audioPath, wav, 0o600); err != nil {
		return nil, fmt.Errorf("writing audio: %w", err)
	}

	outPath := filepath.Join(dir, "output.mp4")
	if _, err := runFFmpeg(ctx, ffmpegPath, videoArgs(paths, durations, audioPath, outPath), nil); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("reading video: %w", err)
	}
	return data, nil
}
