package mixer

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Video frame size.
const (
	FrameWidth  = 1920
	FrameHeight = 1080
)

// DecodeImage decodes JPEG, PNG or WebP data.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// Letterbox scales src to fit inside w×h, preserving aspect ratio, and
// centers it on a black canvas.
func Letterbox(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	if sw == 0 || sh == 0 {
		return dst
	}

	// Fit by the tighter dimension.
	fw, fh := w, sh*w/sw
	if fh > h {
		fw, fh = sw*h/sh, h
	}
	x0 := (w - fw) / 2
	y0 := (h - fh) / 2

	draw.CatmullRom.Scale(dst, image.Rect(x0, y0, x0+fw, y0+fh), src, sb, draw.Over, nil)
	return dst
}

// encodeFrame writes a frame as PNG for ffmpeg.
func encodeFrame(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return buf.Bytes(), nil
}
