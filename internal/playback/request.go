package playback

import (
	"time"

	"github.com/MrWong99/earshot/internal/catalog"
	"github.com/google/uuid"
)

// Request is one sound waiting to be played in a guild.
type Request struct {
	ID      string
	GuildID string
	Sound   catalog.Sound

	// Volume is the linear gain applied before ducking, in
	// [catalog.MinVolume, catalog.MaxVolume].
	Volume float64

	// Phrase is the trigger that selected the sound, empty for direct
	// requests.
	Phrase      string
	RequestedBy string
	EnqueuedAt  time.Time
}

// NewRequest builds a Request with a fresh ID. The volume is taken from the
// sound and clamped.
func NewRequest(guildID string, sound catalog.Sound, phrase, requestedBy string, now time.Time) Request {
	return Request{
		ID:          uuid.NewString(),
		GuildID:     guildID,
		Sound:       sound,
		Volume:      ClampVolume(sound.Gain()),
		Phrase:      phrase,
		RequestedBy: requestedBy,
		EnqueuedAt:  now,
	}
}

// ClampVolume limits v to the supported range.
func ClampVolume(v float64) float64 {
	return min(max(v, catalog.MinVolume), catalog.MaxVolume)
}
