package voice

import "github.com/justestif/go-aiam/internal/tts"

// Profile is a named set of delivery parameters.
type Profile struct {
	Name     string
	Settings tts.Settings
}

// Delivery profiles.
var (
	// Calm is the default meditative narration: consistent, warm, low drama.
	Calm = Profile{
		Name: "calm",
		Settings: tts.Settings{
			Stability:       0.75,
			SimilarityBoost: 0.75,
			Style:           0.15,
			SpeakerBoost:    true,
		},
	}

	// Expressive trades consistency for a livelier read.
	Expressive = Profile{
		Name: "expressive",
		Settings: tts.Settings{
			Stability:       0.4,
			SimilarityBoost: 0.75,
			Style:           0.45,
			SpeakerBoost:    true,
		},
	}
)

var profiles = map[string]Profile{
	Calm.Name:       Calm,
	Expressive.Name: Expressive,
}

// ProfileByName looks up a delivery profile. Empty selects Calm.
func ProfileByName(name string) (Profile, bool) {
	if name == "" {
		return Calm, true
	}
	p, ok := profiles[name]
	return p, ok
}
