package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// FormatConverter converts frames to a fixed target format. Create one per
// stream; it is not meant to be shared across goroutines.
type FormatConverter struct {
	Target Format

	warnOnce sync.Once
}

// Convert returns frame in the target format. Frames that already match are
// returned unchanged. Channel reduction happens before resampling and channel
// expansion after it, so the resampler always runs on the narrower layout.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}
	if frame.SampleRate <= 0 || frame.Channels <= 0 {
		c.warnOnce.Do(func() {
			slog.Warn("audio: frame without format, dropping", "bytes", len(frame.Data))
		})
		return AudioFrame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}
	}

	s := Samples(frame.Data)
	ch := frame.Channels
	if c.Target.Channels < ch {
		s = Remix(s, ch, c.Target.Channels)
		ch = c.Target.Channels
	}
	s = Resample(s, ch, frame.SampleRate, c.Target.SampleRate)
	if c.Target.Channels > ch {
		s = Remix(s, ch, c.Target.Channels)
	}
	return AudioFrame{
		Data:       PCM(s),
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
}

// Samples decodes little-endian int16 PCM. A trailing odd byte is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// PCM encodes samples as little-endian int16 bytes.
func PCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Remix converts interleaved samples from one channel count to another.
// Downmixing to mono averages all channels; upmixing from mono duplicates the
// sample; any other combination maps output channel n to input channel n%from.
func Remix(samples []int16, from, to int) []int16 {
	if from == to || from <= 0 || to <= 0 {
		return samples
	}
	frames := len(samples) / from
	out := make([]int16, frames*to)
	for f := range frames {
		in := samples[f*from : f*from+from]
		switch {
		case to == 1:
			var sum int32
			for _, v := range in {
				sum += int32(v)
			}
			out[f] = int16(sum / int32(from))
		case from == 1:
			for c := range to {
				out[f*to+c] = in[0]
			}
		default:
			for c := range to {
				out[f*to+c] = in[c%from]
			}
		}
	}
	return out
}

// Resample converts interleaved samples between sample rates using linear
// interpolation per channel.
func Resample(samples []int16, channels, srcRate, dstRate int) []int16 {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 || channels <= 0 {
		return samples
	}
	srcFrames := len(samples) / channels
	if srcFrames == 0 {
		return nil
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	out := make([]int16, dstFrames*channels)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = srcFrames - 1
		}
		for c := range channels {
			a := float64(samples[idx*channels+c])
			b := float64(samples[next*channels+c])
			out[i*channels+c] = int16(a + (b-a)*frac)
		}
	}
	return out
}

// RMS returns the root-mean-square level of int16 PCM in sample units.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// ApplyGain scales interleaved PCM in place. The gain moves linearly from
// start to end across the frames of the buffer, so consecutive calls whose end
// and start gains agree produce a continuous envelope. Results are clipped to
// the int16 range.
func ApplyGain(pcm []byte, channels int, start, end float64) {
	if channels <= 0 {
		channels = 1
	}
	frames := len(pcm) / 2 / channels
	if frames == 0 {
		return
	}
	for f := range frames {
		g := start
		if frames > 1 {
			g = start + (end-start)*float64(f)/float64(frames-1)
		}
		for c := range channels {
			off := (f*channels + c) * 2
			v := float64(int16(binary.LittleEndian.Uint16(pcm[off:]))) * g
			binary.LittleEndian.PutUint16(pcm[off:], uint16(clip16(v)))
		}
	}
}

func clip16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}

// String returns a human-readable description such as "48000Hz stereo".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}
