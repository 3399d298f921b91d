package audio

import "time"

// Discord-native PCM layout. Inbound frames and playback frames use it.
const (
	NativeSampleRate = 48000
	NativeChannels   = 2
	FrameDuration    = 20 * time.Millisecond
)

// AudioFrame is a chunk of interleaved little-endian int16 PCM.
type AudioFrame struct {
	Data       []byte
	SampleRate int
	Channels   int

	// Timestamp is relative to the start of the stream it belongs to.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// NativeFormat is the 48 kHz stereo layout used on the voice transport.
var NativeFormat = Format{SampleRate: NativeSampleRate, Channels: NativeChannels}

// FrameBytes returns the PCM byte size of one frame of length d.
func (f Format) FrameBytes(d time.Duration) int {
	return int(int64(f.SampleRate)*int64(d)/int64(time.Second)) * f.Channels * 2
}

// Silence returns a zeroed frame of duration d in format f.
func Silence(f Format, d time.Duration) AudioFrame {
	return AudioFrame{
		Data:       make([]byte, f.FrameBytes(d)),
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
	}
}
