// Package recorder receives one event per finalized transcription and
// persists or logs it.
//
// The voice pipeline emits an [Event] for every final transcript, whether or
// not a trigger matched. Sinks:
//
//   - [LogRecorder] writes a structured log line.
//   - [FileRecorder] appends JSON lines to a file.
//   - [PostgresRecorder] inserts rows into a transcripts table.
//   - [Multi] fans out to several sinks.
//   - [Async] puts a bounded queue in front of a sink so recording never
//     blocks the audio path.
package recorder

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Event is one finalized transcription.
type Event struct {
	ID              string    `json:"id"`
	GuildID         string    `json:"guild_id"`
	UserID          string    `json:"user_id"`
	Text            string    `json:"text"`
	MatchedTriggers []string  `json:"matched_triggers"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewEvent returns an Event with a fresh ID. A nil trigger list is stored as
// empty.
func NewEvent(guildID, userID, text string, triggers []string, at time.Time) Event {
	if triggers == nil {
		triggers = []string{}
	}
	return Event{
		ID:              uuid.NewString(),
		GuildID:         guildID,
		UserID:          userID,
		Text:            text,
		MatchedTriggers: slices.Clone(triggers),
		Timestamp:       at,
	}
}

// Recorder persists transcript events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

// Record implements [Recorder].
func (Nop) Record(context.Context, Event) error { return nil }
