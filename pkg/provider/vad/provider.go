// Package vad defines voice activity detection for inbound speech.
//
// A detector session consumes fixed-size mono PCM frames and reports when a
// speaker starts and stops. The voice pipeline uses the edges to duck
// playback and to tell recognition engines that an utterance ended.
package vad

// Config tunes a detector session.
type Config struct {
	SampleRate  int
	FrameSizeMs int

	// SpeechThreshold and SilenceThreshold are levels in [0,1]. Speech starts
	// above the former and ends below the latter, giving hysteresis.
	SpeechThreshold  float64
	SilenceThreshold float64

	// MinSpeechMs is how long the level must stay above SpeechThreshold
	// before speech starts.
	MinSpeechMs int

	// HangoverMs is how long the level must stay below SilenceThreshold
	// before speech ends.
	HangoverMs int
}

// SessionHandle is a stateful detector for one speaker. Not safe for
// concurrent use.
type SessionHandle interface {
	ProcessFrame(frame []byte) (VADEvent, error)
	Reset()
	Close() error
}

// Engine creates detector sessions.
type Engine interface {
	NewSession(cfg Config) (SessionHandle, error)
}
