package playback

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"layeh.com/gopus"
)

// Stream yields 20 ms frames of 48 kHz stereo PCM. Next returns io.EOF after
// the last frame. The final frame is padded with silence.
type Stream interface {
	Next() (audio.AudioFrame, error)
	Close() error
}

// Opener opens a sound file as a [Stream].
type Opener func(path string) (Stream, error)

// Open picks a decoder by file extension: .wav for RIFF PCM16, .dca and .opus
// for length-prefixed opus packets.
func Open(path string) (Stream, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return openWAV(path)
	case ".dca", ".opus":
		return openDCA(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

var nativeFrameBytes = audio.NativeFormat.FrameBytes(audio.FrameDuration)

// wavInfo describes the PCM payload of a RIFF file.
type wavInfo struct {
	Format     audio.Format
	DataOffset int
	DataLen    int
}

// parseWAV walks the RIFF chunks of wav. Only 16-bit integer PCM is
// accepted.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 {
		return wavInfo{}, errors.New("playback: wav too short to be a RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return wavInfo{}, errors.New("playback: wav missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("playback: wav missing WAVE identifier")
	}

	var info wavInfo
	foundFmt := false

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || offset+8+16 > len(wav) {
				return wavInfo{}, errors.New("playback: wav fmt chunk truncated")
			}
			f := wav[offset+8:]
			tag := binary.LittleEndian.Uint16(f[0:2])
			bits := binary.LittleEndian.Uint16(f[14:16])
			if (tag != 1 && tag != 0xFFFE) || bits != 16 {
				return wavInfo{}, fmt.Errorf("%w: wav format tag %d with %d bits, want 16-bit PCM", ErrUnsupportedFormat, tag, bits)
			}
			info.Format.Channels = int(binary.LittleEndian.Uint16(f[2:4]))
			info.Format.SampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return wavInfo{}, errors.New("playback: wav data chunk before fmt chunk")
			}
			info.DataOffset = offset + 8
			info.DataLen = min(chunkSize, len(wav)-info.DataOffset)
			if info.Format.Channels <= 0 || info.Format.SampleRate <= 0 {
				return wavInfo{}, fmt.Errorf("playback: wav declares %s", info.Format)
			}
			return info, nil
		}

		// Chunks are word-aligned.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return wavInfo{}, errors.New("playback: wav missing data chunk")
}

type wavStream struct {
	pcm      []byte
	src      audio.Format
	step     int
	conv     audio.FormatConverter
	pos      int
	frameIdx int
}

func openWAV(path string) (Stream, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("playback: read %q: %w", path, err)
	}
	return newWAVStream(data)
}

func newWAVStream(data []byte) (*wavStream, error) {
	info, err := parseWAV(data)
	if err != nil {
		return nil, err
	}
	return &wavStream{
		pcm:  data[info.DataOffset : info.DataOffset+info.DataLen],
		src:  info.Format,
		step: info.Format.FrameBytes(audio.FrameDuration),
		conv: audio.FormatConverter{Target: audio.NativeFormat},
	}, nil
}

func (s *wavStream) Next() (audio.AudioFrame, error) {
	if s.pos >= len(s.pcm) {
		return audio.AudioFrame{}, io.EOF
	}
	end := min(s.pos+s.step, len(s.pcm))
	chunk := make([]byte, s.step)
	copy(chunk, s.pcm[s.pos:end])
	s.pos = end

	out := s.conv.Convert(audio.AudioFrame{
		Data:       chunk,
		SampleRate: s.src.SampleRate,
		Channels:   s.src.Channels,
		Timestamp:  time.Duration(s.frameIdx) * audio.FrameDuration,
	})
	s.frameIdx++
	out.Data = fit(out.Data, nativeFrameBytes)
	return out, nil
}

func (s *wavStream) Close() error { return nil }

// dcaStream decodes a file of [uint16 LE length][opus packet] records.
type dcaStream struct {
	f        *os.File
	r        *bufio.Reader
	dec      *gopus.Decoder
	frameIdx int
}

func openDCA(path string) (Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("playback: open %q: %w", path, err)
	}
	dec, err := gopus.NewDecoder(audio.NativeSampleRate, audio.NativeChannels)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("playback: create opus decoder: %w", err)
	}
	return &dcaStream{f: f, r: bufio.NewReader(f), dec: dec}, nil
}

func (s *dcaStream) Next() (audio.AudioFrame, error) {
	var n uint16
	if err := binary.Read(s.r, binary.LittleEndian, &n); err != nil {
		if errors.Is(err, io.EOF) {
			return audio.AudioFrame{}, io.EOF
		}
		return audio.AudioFrame{}, fmt.Errorf("playback: dca frame header: %w", err)
	}
	packet := make([]byte, n)
	if _, err := io.ReadFull(s.r, packet); err != nil {
		return audio.AudioFrame{}, fmt.Errorf("playback: dca frame body: %w", err)
	}
	samples, err := s.dec.Decode(packet, audio.NativeSampleRate/50, false)
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("playback: opus decode: %w", err)
	}
	frame := audio.AudioFrame{
		Data:       fit(audio.PCM(samples), nativeFrameBytes),
		SampleRate: audio.NativeSampleRate,
		Channels:   audio.NativeChannels,
		Timestamp:  time.Duration(s.frameIdx) * audio.FrameDuration,
	}
	s.frameIdx++
	return frame, nil
}

func (s *dcaStream) Close() error { return s.f.Close() }

// fit pads or truncates pcm to n bytes.
func fit(pcm []byte, n int) []byte {
	if len(pcm) == n {
		return pcm
	}
	out := make([]byte, n)
	copy(out, pcm)
	return out
}
