package discord

import (
	"fmt"

	"github.com/MrWong99/earshot/pkg/audio"
	"layeh.com/gopus"
)

// Discord voice carries 48 kHz stereo opus in 20 ms packets.
const (
	opusSampleRate = audio.NativeSampleRate
	opusChannels   = audio.NativeChannels

	// opusFrameSize is the number of samples per channel in one packet.
	opusFrameSize = opusSampleRate / 50

	// opusFrameBytes is the PCM size of one packet: 960 * 2ch * 2 bytes.
	opusFrameBytes = opusFrameSize * opusChannels * 2
)

// silenceOpus is the canonical three-byte opus silence packet. It doubles as
// the keepalive payload.
var silenceOpus = []byte{0xF8, 0xFF, 0xFE}

// opusDecoder holds decoder state for one inbound SSRC.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

// decode returns one packet as little-endian PCM.
func (d *opusDecoder) decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrDecodeFault, err)
	}
	return audio.PCM(pcm), nil
}

type opusEncoder struct {
	enc *gopus.Encoder
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode compresses exactly one packet worth of PCM (opusFrameBytes).
func (e *opusEncoder) encode(pcm []byte) ([]byte, error) {
	packet, err := e.enc.Encode(audio.Samples(pcm), opusFrameSize, len(pcm))
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return packet, nil
}
