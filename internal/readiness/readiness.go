// Package readiness decides whether a playlist's narration is fully cached
// for a voice, which gates mixing and bulk download.
package readiness

import (
	"github.com/justestif/go-aiam/internal/db"
)

// Report is the outcome of a readiness check.
type Report struct {
	Ready        bool `json:"ready"`
	MissingCount int  `json:"missingCount"`
	TotalCount   int  `json:"totalCount"`
}

// Check counts playlist entries without cached audio for voiceID.
// affirmations must be in playlist order; nil entries are slots whose
// affirmation no longer exists and count as missing.
func Check(affirmations []*db.Affirmation, voiceID string) Report {
	r := Report{TotalCount: len(affirmations)}
	for _, a := range affirmations {
		if _, ok := a.AudioURL(voiceID); !ok {
			r.MissingCount++
		}
	}
	r.Ready = r.MissingCount == 0
	return r
}

// Align returns one entry per id in ids, looking each up in found and
// leaving nil where the affirmation is gone.
func Align(ids []string, found []*db.Affirmation) []*db.Affirmation {
	byID := make(map[string]*db.Affirmation, len(found))
	for _, a := range found {
		byID[a.ID] = a
	}
	out := make([]*db.Affirmation, len(ids))
	for i, id := range ids {
		out[i] = byID[id]
	}
	return out
}
