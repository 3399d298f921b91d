package energy

import (
	"testing"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

func frame(level int16) []byte {
	s := make([]int16, 320)
	for i := range s {
		if i%2 == 0 {
			s[i] = level
		} else {
			s[i] = -level
		}
	}
	return audio.PCM(s)
}

func TestNewSession_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New().NewSession(vad.Config{}); err == nil {
		t.Error("zero frame size accepted")
	}
	if _, err := New().NewSession(vad.Config{FrameSizeMs: 20, SpeechThreshold: 0.01, SilenceThreshold: 0.02}); err == nil {
		t.Error("inverted thresholds accepted")
	}
}

func TestSession_Hysteresis(t *testing.T) {
	t.Parallel()

	h, err := New().NewSession(vad.Config{FrameSizeMs: 20, MinSpeechMs: 40, HangoverMs: 60})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	loud, mid, quiet := frame(3000), frame(400), frame(10)

	steps := []struct {
		in   []byte
		want vad.VADEventType
	}{
		{loud, vad.VADSilence},
		{loud, vad.VADSpeechStart},
		{loud, vad.VADSpeechContinue},
		{mid, vad.VADSpeechContinue}, // between thresholds keeps speech
		{quiet, vad.VADSpeechContinue},
		{quiet, vad.VADSpeechContinue},
		{quiet, vad.VADSpeechEnd},
		{quiet, vad.VADSilence},
		{mid, vad.VADSilence},
	}
	for i, st := range steps {
		ev, err := h.ProcessFrame(st.in)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if ev.Type != st.want {
			t.Fatalf("step %d: got %v, want %v", i, ev.Type, st.want)
		}
	}
}

func TestSession_Reset(t *testing.T) {
	t.Parallel()

	h, _ := New().NewSession(vad.Config{FrameSizeMs: 20, MinSpeechMs: 20})
	if ev, _ := h.ProcessFrame(frame(3000)); ev.Type != vad.VADSpeechStart {
		t.Fatalf("got %v, want speech start", ev.Type)
	}
	h.Reset()
	if ev, _ := h.ProcessFrame(frame(10)); ev.Type != vad.VADSilence {
		t.Fatalf("after reset got %v, want silence", ev.Type)
	}
}
