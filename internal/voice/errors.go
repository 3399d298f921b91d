package voice

import (
	"errors"

	"github.com/MrWong99/earshot/pkg/audio"
)

var (
	// ErrChannelUnavailable is returned by Connect when the target channel
	// no longer exists or is not a voice channel.
	ErrChannelUnavailable = audio.ErrChannelUnavailable

	// ErrConnectTimeout is returned by Connect when the platform did not
	// acknowledge the join within session.connect_timeout.
	ErrConnectTimeout = errors.New("voice: connect timed out")

	// ErrReconnectExhausted is reported through the state-change hook when
	// every reconnect attempt failed. The session has been torn down.
	ErrReconnectExhausted = errors.New("voice: reconnect attempts exhausted")

	// ErrNotConnected is returned by operations on a guild without a live
	// session.
	ErrNotConnected = errors.New("voice: not connected")

	// ErrUnknownSound is returned by EnqueueSound when the reference matches
	// no catalog entry.
	ErrUnknownSound = errors.New("voice: unknown sound")
)
