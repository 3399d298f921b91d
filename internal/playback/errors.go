package playback

import "errors"

var (
	// ErrQueueFull is returned by [Queue.Enqueue] when the queue is at
	// capacity.
	ErrQueueFull = errors.New("playback: queue full")

	// ErrQueueClosed is returned by [Queue.Enqueue] after [Queue.Close].
	ErrQueueClosed = errors.New("playback: queue closed")

	// ErrPlaybackTimeout wraps a sound that did not finish within the
	// configured timeout.
	ErrPlaybackTimeout = errors.New("playback: timeout")

	// ErrPlaybackError wraps any other failure while playing a sound.
	ErrPlaybackError = errors.New("playback: error")

	// ErrUnsupportedFormat is returned by [Open] for unknown file types.
	ErrUnsupportedFormat = errors.New("playback: unsupported format")
)
