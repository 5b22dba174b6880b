package export

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// SanitizeName replaces every character outside [A-Za-z0-9_] with '_'.
func SanitizeName(name string) string {
	if name == "" {
		return "playlist"
	}
	return unsafeChars.ReplaceAllString(name, "_")
}

// Filename builds the download name:
// <name>_<voice>[_with_music][_video].<ext>
func Filename(playlistName, voiceID string, withMusic, video bool, ext string) string {
	var b strings.Builder
	b.WriteString(SanitizeName(playlistName))
	b.WriteString("_")
	b.WriteString(unsafeChars.ReplaceAllString(voiceID, "_"))
	if withMusic {
		b.WriteString("_with_music")
	}
	if video {
		b.WriteString("_video")
	}
	b.WriteString(".")
	b.WriteString(ext)
	return b.String()
}

// Fingerprint identifies the inputs of a mix. A stored artifact whose
// fingerprint differs from the current inputs is stale.
func Fingerprint(voiceID string, withMusic bool, audioURIs []string, musicURI string) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(strconv.Itoa(len(s))))
		h.Write([]byte{':'})
		h.Write([]byte(s))
	}
	write(voiceID)
	write(strconv.FormatBool(withMusic))
	write(strconv.Itoa(len(audioURIs)))
	for _, u := range audioURIs {
		write(u)
	}
	write(musicURI)
	return hex.EncodeToString(h.Sum(nil))
}
