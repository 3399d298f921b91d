// Package energy implements [vad.Engine] as an RMS level detector with
// hysteresis. It needs no model and no cgo, which makes it the default
// detector.
package energy

import (
	"errors"
	"fmt"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Defaults tuned for 20 ms frames of conversational speech.
const (
	DefaultSpeechThreshold  = 0.015
	DefaultSilenceThreshold = 0.008
	DefaultMinSpeechMs      = 60
	DefaultHangoverMs       = 600
)

var _ vad.Engine = (*Engine)(nil)

// Engine creates energy detector sessions.
type Engine struct{}

// New returns an Engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg, fills zero fields with defaults and returns a
// fresh detector.
func (Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.FrameSizeMs <= 0 {
		return nil, errors.New("energy: frame size must be positive")
	}
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = DefaultSpeechThreshold
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = DefaultSilenceThreshold
	}
	if cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: silence threshold %.4f above speech threshold %.4f", cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	if cfg.MinSpeechMs == 0 {
		cfg.MinSpeechMs = DefaultMinSpeechMs
	}
	if cfg.HangoverMs == 0 {
		cfg.HangoverMs = DefaultHangoverMs
	}
	return &session{
		speechThreshold:  cfg.SpeechThreshold,
		silenceThreshold: cfg.SilenceThreshold,
		speechFrames:     max(1, cfg.MinSpeechMs/cfg.FrameSizeMs),
		silenceFrames:    max(1, cfg.HangoverMs/cfg.FrameSizeMs),
	}, nil
}

type session struct {
	speechThreshold  float64
	silenceThreshold float64
	speechFrames     int
	silenceFrames    int

	inSpeech     bool
	speechCount  int
	silenceCount int
}

// ProcessFrame classifies one frame of int16 PCM.
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	level := audio.RMS(frame) / 32768
	ev := vad.VADEvent{Probability: min(1, level/s.speechThreshold/2)}

	if s.inSpeech {
		if level < s.silenceThreshold {
			s.silenceCount++
			if s.silenceCount >= s.silenceFrames {
				s.inSpeech = false
				s.silenceCount = 0
				ev.Type = vad.VADSpeechEnd
				return ev, nil
			}
		} else {
			s.silenceCount = 0
		}
		ev.Type = vad.VADSpeechContinue
		return ev, nil
	}

	if level >= s.speechThreshold {
		s.speechCount++
		if s.speechCount >= s.speechFrames {
			s.inSpeech = true
			s.speechCount = 0
			ev.Type = vad.VADSpeechStart
			return ev, nil
		}
	} else {
		s.speechCount = 0
	}
	ev.Type = vad.VADSilence
	return ev, nil
}

func (s *session) Reset() {
	s.inSpeech = false
	s.speechCount = 0
	s.silenceCount = 0
}

func (s *session) Close() error { return nil }
