// Package audio defines the voice-platform contract used by Earshot.
//
// A [Platform] joins a voice channel and returns a [Connection]. The
// connection delivers decoded inbound audio from every speaker on a single
// merged channel, accepts PCM output frames for playback, and reports
// participant changes and inbound decode faults through callbacks.
//
// Platform adapters (see audio/discord) own the network transport and the
// codec. Nothing above this package touches opus or websockets directly.
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrChannelUnavailable is returned by [Platform.Connect] when the target
	// channel does not exist (any more) or is not a voice channel.
	ErrChannelUnavailable = errors.New("audio: channel unavailable")

	// ErrNotReady is returned by [Connection.SendKeepalive] while the
	// underlying transport is not fully established.
	ErrNotReady = errors.New("audio: connection not ready")

	// ErrDecodeFault marks an inbound packet that could not be decoded. It is
	// wrapped by [DecodeFault.Err].
	ErrDecodeFault = errors.New("audio: decode fault")
)

// EventType classifies participant lifecycle events emitted by a [Connection].
type EventType int

const (
	// EventJoin is emitted when a participant enters the voice channel.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the voice channel.
	EventLeave
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Event describes a participant lifecycle change on a voice channel.
type Event struct {
	Type     EventType
	UserID   string
	Username string
}

// InputFrame is one decoded frame of inbound audio attributed to a speaker.
type InputFrame struct {
	UserID string
	Frame  AudioFrame
}

// DecodeFault describes an inbound packet the platform could not decode. The
// faulty frame has already been replaced by silence when this is reported.
type DecodeFault struct {
	UserID string
	Err    error
	At     time.Time
}

// Connection represents an active session on a voice channel.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// Input returns the merged stream of decoded inbound frames. The channel is
	// closed when the connection terminates.
	Input() <-chan InputFrame

	// OutputStream returns the channel that accepts PCM frames for playback.
	// The platform never closes it; writes after Disconnect are dropped by the
	// adapter or block until the caller's context ends.
	OutputStream() chan<- AudioFrame

	// Members returns the IDs of the users currently in the channel, excluding
	// the bot itself.
	Members() []string

	// OnParticipantChange registers the participant callback. Subsequent calls
	// replace the previous registration. Callbacks must not block.
	OnParticipantChange(cb func(Event))

	// OnDecodeFault registers the decode fault callback. Subsequent calls
	// replace the previous registration. Callbacks must not block.
	OnDecodeFault(cb func(DecodeFault))

	// SendKeepalive emits a minimal keepalive signal. It returns [ErrNotReady]
	// when the transport is half-open; callers skip that tick.
	SendKeepalive() error

	// Disconnect tears down the connection. Safe to call more than once.
	Disconnect() error
}

// Platform joins voice channels for a single guild.
type Platform interface {
	// Connect joins channelID and returns an active [Connection]. ctx bounds
	// the connection attempt only.
	Connect(ctx context.Context, channelID string) (Connection, error)
}
