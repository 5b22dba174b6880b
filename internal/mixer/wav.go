package mixer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const wavHeaderSize = 44

// ErrInvalidWAV is returned for malformed or non-PCM16 WAV data.
var ErrInvalidWAV = errors.New("invalid wav")

// EncodeWAV writes b as a canonical 16-bit PCM RIFF/WAVE file.
func EncodeWAV(b *Buffer) []byte {
	dataSize := len(b.Samples) * 2
	blockAlign := b.Channels * 2

	out := make([]byte, wavHeaderSize+dataSize)
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataSize))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(b.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(b.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(b.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], 16) // bits per sample

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataSize))

	for i, s := range b.Samples {
		binary.LittleEndian.PutUint16(out[wavHeaderSize+i*2:], uint16(s))
	}
	return out
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

// DecodeWAV parses a 16-bit PCM WAV file, skipping unknown chunks.
func DecodeWAV(data []byte) (*Buffer, error) {
	if !IsWAV(data) {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		b       Buffer
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(data) {
			// Tolerate a truncated data chunk; some writers lie about size.
			if id != "data" {
				return nil, fmt.Errorf("%w: chunk %q overruns file", ErrInvalidWAV, id)
			}
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if format != 1 || bits != 16 {
				return nil, fmt.Errorf("%w: format %d with %d bits", ErrInvalidWAV, format, bits)
			}
			b.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			b.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			if b.Channels == 0 || b.SampleRate == 0 {
				return nil, fmt.Errorf("%w: zero channels or sample rate", ErrInvalidWAV)
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data before fmt", ErrInvalidWAV)
			}
			n := size / 2
			n -= n % b.Channels
			b.Samples = make([]int16, n)
			for i := range b.Samples {
				b.Samples[i] = int16(binary.LittleEndian.Uint16(data[body+i*2:]))
			}
			return &b, nil
		}

		// Chunks are word aligned.
		pos = body + size + size%2
	}
	return nil, fmt.Errorf("%w: no data chunk", ErrInvalidWAV)
}
