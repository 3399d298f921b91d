package whisper

import (
	"encoding/binary"

	"github.com/MrWong99/earshot/pkg/audio"
)

// encodeWAV wraps mono 16-bit PCM in a minimal RIFF/WAVE container.
func encodeWAV(pcm []byte, sampleRate int) []byte {
	const headerLen = 44
	buf := make([]byte, headerLen+len(pcm))

	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+len(pcm)))
	copy(buf[8:], "WAVE")

	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:], 2)
	binary.LittleEndian.PutUint16(buf[34:], 16)

	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(len(pcm)))
	copy(buf[headerLen:], pcm)
	return buf
}

// toFloat32 scales mono int16 PCM to [-1, 1) as whisper.cpp expects.
func toFloat32(pcm []byte) []float32 {
	s := audio.Samples(pcm)
	out := make([]float32, len(s))
	for i, v := range s {
		out[i] = float32(v) / 32768
	}
	return out
}
