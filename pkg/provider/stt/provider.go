// Package stt defines the speech recognition backends used by the
// recognition engines.
//
// Two shapes exist. A [Provider] opens a streaming [SessionHandle] that takes
// PCM continuously and emits partial and final [Transcript] values. A
// [Transcriber] takes one complete buffer and returns one result. Streaming
// engines use the former, buffered engines the latter.
package stt

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by optional session operations the backend
// cannot perform.
var ErrNotSupported = errors.New("stt: not supported")

// StreamConfig describes the audio handed to a session.
type StreamConfig struct {
	SampleRate int
	Channels   int

	// Language is a BCP-47 tag. Empty lets the backend decide.
	Language string

	Keywords []KeywordBoost
}

// SessionHandle is an open streaming recognition session.
//
// Callers must Close every handle they obtain. All methods are safe for
// concurrent use.
type SessionHandle interface {
	// SendAudio queues a PCM chunk in the format agreed in [StreamConfig].
	// It fails once the session is closed or broken.
	SendAudio(chunk []byte) error

	// Partials emits interim hypotheses. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits committed results. Closed when the session ends; a close
	// the caller did not ask for means the backend went away.
	Finals() <-chan Transcript

	// SetKeywords replaces the keyword list, or returns [ErrNotSupported].
	SetKeywords(keywords []KeywordBoost) error

	// Close flushes and releases the session. Safe to call more than once.
	Close() error
}

// Resetter is implemented by sessions that can discard recognizer state
// without being reopened. Engines reset after every final so that one
// utterance never bleeds into the next.
type Resetter interface {
	Reset() error
}

// Provider opens streaming sessions.
type Provider interface {
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

// Transcriber recognizes one complete buffer of mono int16 PCM.
//
// Implementations must be safe for concurrent use.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (Transcript, error)
}
