package export

import (
	"errors"
	"fmt"
)

var (
	// ErrPlaylistNotFound is returned when the playlist does not exist for the user.
	ErrPlaylistNotFound = errors.New("playlist not found")

	// ErrEmptyPlaylist is returned for a playlist with no affirmations.
	ErrEmptyPlaylist = errors.New("playlist is empty")

	// ErrStorageFetch is returned when a clip or image cannot be downloaded.
	ErrStorageFetch = errors.New("storage fetch failed")

	// ErrMixTimeout is returned when an export exceeds its time budget.
	ErrMixTimeout = errors.New("mix timed out")
)

// Asset kinds reported by IncompleteError.
const (
	KindAudio  = "audio"
	KindImages = "images"
)

// IncompleteError reports playlist entries lacking a required asset.
type IncompleteError struct {
	Kind    string
	Missing int
	Total   int
}

func (e *IncompleteError) Error() string {
	if e.Kind == KindImages {
		return fmt.Sprintf("not all affirmations have images: %d of %d missing", e.Missing, e.Total)
	}
	return fmt.Sprintf("not all affirmations have cached audio: %d of %d missing", e.Missing, e.Total)
}
