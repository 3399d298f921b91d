package vad

// VADEvent is the detector's verdict for one frame.
type VADEvent struct {
	Type VADEventType

	// Probability is a speech likelihood in [0,1]. Energy detectors report
	// the normalized frame level.
	Probability float64
}

// VADEventType enumerates detector states.
type VADEventType int

const (
	VADSpeechStart VADEventType = iota
	VADSpeechContinue
	VADSpeechEnd
	VADSilence
)

// String returns a lower-case name for logs.
func (t VADEventType) String() string {
	switch t {
	case VADSpeechStart:
		return "speech_start"
	case VADSpeechContinue:
		return "speech"
	case VADSpeechEnd:
		return "speech_end"
	case VADSilence:
		return "silence"
	default:
		return "unknown"
	}
}
