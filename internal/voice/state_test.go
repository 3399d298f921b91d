package voice_test

import (
	"testing"

	"github.com/MrWong99/earshot/internal/voice"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to voice.State
		want     bool
	}{
		{voice.StateIdle, voice.StateConnecting, true},
		{voice.StateIdle, voice.StateListening, false},
		{voice.StateConnecting, voice.StateConnected, true},
		{voice.StateConnecting, voice.StateReconnecting, false},
		{voice.StateConnected, voice.StateListening, true},
		{voice.StateConnected, voice.StateReconnecting, true},
		{voice.StateListening, voice.StateConnected, true},
		{voice.StateListening, voice.StateReconnecting, true},
		{voice.StateReconnecting, voice.StateListening, true},
		{voice.StateReconnecting, voice.StateConnecting, false},
		{voice.StateConnected, voice.StateDisconnected, true},
		{voice.StateDisconnected, voice.StateConnecting, false},
		{voice.StateDisconnected, voice.StateDisconnected, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			t.Parallel()
			if got := voice.CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestState_Active(t *testing.T) {
	t.Parallel()

	for s, want := range map[voice.State]bool{
		voice.StateIdle:         false,
		voice.StateConnecting:   false,
		voice.StateConnected:    true,
		voice.StateListening:    true,
		voice.StateReconnecting: true,
		voice.StateDisconnected: false,
	} {
		if got := s.Active(); got != want {
			t.Errorf("%s.Active() = %v, want %v", s, got, want)
		}
	}
	if got := voice.State(42).String(); got != "state(42)" {
		t.Errorf("unknown state String = %q", got)
	}
}
