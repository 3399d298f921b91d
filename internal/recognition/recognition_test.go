package recognition_test

import (
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/settings"
	"github.com/MrWong99/earshot/pkg/audio"
)

func newStore(t *testing.T, defaults map[string]any) *settings.Store {
	t.Helper()
	s, err := settings.New(defaults, nil)
	if err != nil {
		t.Fatalf("settings.New: %v", err)
	}
	return s
}

// speechFrame is one 20 ms native frame; it converts to 640 bytes of 16 kHz
// mono.
func speechFrame() audio.AudioFrame {
	return audio.AudioFrame{
		Data:       make([]byte, audio.NativeFormat.FrameBytes(audio.FrameDuration)),
		SampleRate: audio.NativeSampleRate,
		Channels:   audio.NativeChannels,
	}
}

const convertedFrameBytes = 640

type result struct {
	user, text string
}

func collector() (chan result, func(string, string)) {
	ch := make(chan result, 16)
	return ch, func(user, text string) { ch <- result{user, text} }
}

func waitResult(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a result")
		return result{}
	}
}

func noResult(t *testing.T, ch <-chan result, d time.Duration) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("unexpected result %+v", r)
	case <-time.After(d):
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
