package stt

import "time"

// Transcript is one recognition result. Partial and final results share the
// type and differ in IsFinal.
type Transcript struct {
	Text    string
	IsFinal bool

	// Confidence is in [0,1]. Zero when the backend does not report it.
	Confidence float64

	// Words is nil for backends without word timing.
	Words []WordDetail

	// Timestamp is the utterance start relative to the start of the stream.
	Timestamp time.Duration
	Duration  time.Duration
}

// WordDetail is per-word timing as reported by the backend.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost biases recognition towards a vocabulary item, typically a
// trigger word from the sound catalog.
type KeywordBoost struct {
	Keyword string

	// Boost is backend specific. Deepgram accepts roughly -10..10.
	Boost float64
}
