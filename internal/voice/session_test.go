package voice_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/settings"
	"github.com/MrWong99/earshot/internal/voice"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/mock"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	vadmock "github.com/MrWong99/earshot/pkg/provider/vad/mock"
)

var errGatewayDown = errors.New("gateway down")

// dialSequence hands out conns in order, then fails.
func dialSequence(conns ...audio.Connection) func(context.Context, string) (audio.Connection, error) {
	var mu sync.Mutex
	return func(context.Context, string) (audio.Connection, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(conns) == 0 {
			return nil, errGatewayDown
		}
		c := conns[0]
		conns = conns[1:]
		return c, nil
	}
}

func emitFaults(conn *mock.Connection, n int, spacing time.Duration) {
	start := time.Now()
	for i := range n {
		conn.EmitFault(audio.DecodeFault{
			UserID: "alice",
			Err:    audio.ErrDecodeFault,
			At:     start.Add(time.Duration(i) * spacing),
		})
	}
}

func TestSession_DecodeFaultsBelowThreshold(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{settings: map[string]any{settings.ReconnectGrace: "0s"}})
	h.connect(t, true)

	emitFaults(h.conn, 5, 1600*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	if n := len(h.platform.Calls()); n != 1 {
		t.Errorf("platform connects = %d, want 1", n)
	}
	st, _ := h.reg.Status("g1")
	if st.State != voice.StateListening || st.DecodeFaults != 5 {
		t.Errorf("status = %+v, want listening with 5 faults", st)
	}
}

func TestSession_DecodeFaultsTriggerOneReconnect(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{settings: map[string]any{settings.ReconnectGrace: "0s"}})
	second := mock.NewConnection("alice")
	h.platform.ConnectFunc = dialSequence(h.conn, second)
	h.connect(t, true)

	emitFaults(h.conn, 6, 1600*time.Millisecond)

	eventually(t, "reconnect", func() bool {
		states := h.watch.states()
		return slices.Contains(states, voice.StateReconnecting) && states[len(states)-1] == voice.StateListening
	})
	if n := len(h.platform.Calls()); n != 2 {
		t.Errorf("platform connects = %d, want 2", n)
	}
	if h.conn.Disconnects() != 1 {
		t.Errorf("old connection disconnects = %d, want 1", h.conn.Disconnects())
	}
	if starts, stops, _ := h.engine.counts(); starts != 2 || stops != 1 {
		t.Errorf("engine starts/stops = %d/%d, want 2/1", starts, stops)
	}
	if st, _ := h.reg.Status("g1"); st.DecodeFaults != 0 {
		t.Errorf("fault count after reconnect = %d, want 0", st.DecodeFaults)
	}

	// The detached connection no longer counts.
	emitFaults(h.conn, 10, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	if n := len(h.platform.Calls()); n != 2 {
		t.Errorf("stale faults caused a reconnect: %d connects", n)
	}
	if !h.engine.emit("alice", "still here") {
		t.Error("engine not listening after reconnect")
	}
}

func TestSession_InputDropReconnectsConnected(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{settings: map[string]any{settings.ReconnectGrace: "0s"}})
	second := mock.NewConnection("alice")
	h.platform.ConnectFunc = dialSequence(h.conn, second)
	h.connect(t, false)

	h.conn.Drop()

	eventually(t, "reconnect", func() bool { return len(h.platform.Calls()) == 2 && h.state("g1") == voice.StateConnected })
	if starts, _, _ := h.engine.counts(); starts != 0 {
		t.Errorf("engine started %d times for a session that was not listening", starts)
	}
}

func TestSession_ReconnectExhausted(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{settings: map[string]any{
		settings.ReconnectGrace:      "0s",
		settings.ReconnectMaxRetries: 2,
		settings.ReconnectBackoff:    "10ms",
	}})
	h.platform.ConnectFunc = dialSequence(h.conn)
	h.connect(t, true)

	h.conn.Drop()

	eventually(t, "teardown", func() bool { return len(h.reg.Guilds()) == 0 })
	eventually(t, "disconnected state", func() bool {
		c, ok := h.watch.last()
		return ok && c.to == voice.StateDisconnected
	})
	c, _ := h.watch.last()
	if !errors.Is(c.err, voice.ErrReconnectExhausted) || !errors.Is(c.err, errGatewayDown) {
		t.Errorf("cause = %v, want ErrReconnectExhausted wrapping the dial error", c.err)
	}
	if n := len(h.platform.Calls()); n != 3 {
		t.Errorf("platform connects = %d, want 1 + 2 retries", n)
	}
}

func TestSession_Keepalive(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{settings: map[string]any{settings.SessionKeepaliveInterval: "10ms"}})
	h.conn.KeepaliveErr = audio.ErrNotReady
	h.connect(t, false)

	eventually(t, "keepalives", func() bool { return h.conn.Keepalives() >= 3 })
	if st := h.state("g1"); st != voice.StateConnected {
		t.Errorf("state = %s after not-ready keepalives, want connected", st)
	}
}

func TestSession_AutoDisconnect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		members []string
		leaves  bool
	}{
		{"empty channel leaves", nil, true},
		{"occupied channel stays", []string{"alice"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, options{settings: map[string]any{
				settings.SessionKeepaliveInterval: "10ms",
				settings.SessionAutoDisconnect:    "50ms",
			}})
			h.conn = mock.NewConnection(tt.members...)
			h.platform.ConnectResult = h.conn
			h.connect(t, false)

			if tt.leaves {
				eventually(t, "auto-disconnect", func() bool { return len(h.reg.Guilds()) == 0 })
				eventually(t, "connection closed", func() bool { return h.conn.Disconnects() == 1 })
				return
			}
			time.Sleep(200 * time.Millisecond)
			if st := h.state("g1"); st != voice.StateConnected {
				t.Errorf("state = %s, want connected", st)
			}
		})
	}
}

func TestSession_SpeakingHangoverDucksAndEndsSpeech(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{settings: map[string]any{settings.SpeakingHangover: "60ms"}})
	h.connect(t, true)

	for range 3 {
		h.conn.Feed("alice", speech())
	}
	eventually(t, "speaking", func() bool {
		st, _ := h.reg.Status("g1")
		return st.Speaking == 1
	})
	eventually(t, "frames written", func() bool {
		_, _, writes := h.engine.counts()
		return writes == 3
	})
	eventually(t, "hangover", func() bool {
		st, _ := h.reg.Status("g1")
		return st.Speaking == 0
	})
	if got := h.engine.ended(); !slices.Equal(got, []string{"alice"}) {
		t.Errorf("end of speech = %v, want [alice]", got)
	}
}

func TestSession_VADEdges(t *testing.T) {
	t.Parallel()
	det := &vadmock.Session{
		Events: []vad.VADEvent{
			{Type: vad.VADSpeechStart},
			{Type: vad.VADSpeechContinue},
			{Type: vad.VADSpeechEnd},
		},
		Default: vad.VADEvent{Type: vad.VADSilence},
	}
	h := newHarness(t, options{vad: &vadmock.Engine{Session: det}})
	h.connect(t, true)

	for range 4 {
		h.conn.Feed("alice", speech())
	}
	eventually(t, "end of speech", func() bool { return len(h.engine.ended()) == 1 })
	time.Sleep(30 * time.Millisecond)
	if _, _, writes := h.engine.counts(); writes != 3 {
		t.Errorf("frames written = %d, want 3", writes)
	}
	if st, _ := h.reg.Status("g1"); st.Speaking != 0 {
		t.Errorf("speaking = %d after speech end", st.Speaking)
	}
}

func TestSession_LeaveForgetsUser(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{settings: map[string]any{settings.SpeakingHangover: "10s"}})
	h.connect(t, true)

	h.conn.Feed("alice", speech())
	eventually(t, "speaking", func() bool {
		st, _ := h.reg.Status("g1")
		return st.Speaking == 1
	})
	h.conn.EmitEvent(audio.Event{Type: audio.EventLeave, UserID: "alice"})

	eventually(t, "forget", func() bool { return slices.Contains(h.engine.forgotten(), "alice") })
	if st, _ := h.reg.Status("g1"); st.Speaking != 0 {
		t.Errorf("speaking = %d after leave", st.Speaking)
	}
}

func TestSession_StopListeningDuringReconnect(t *testing.T) {
	t.Parallel()
	h := newHarness(t, options{settings: map[string]any{settings.ReconnectGrace: "100ms"}})
	second := mock.NewConnection("alice")
	h.platform.ConnectFunc = dialSequence(h.conn, second)
	h.connect(t, true)

	h.conn.Drop()
	eventually(t, "reconnecting", func() bool { return h.state("g1") == voice.StateReconnecting })
	if err := h.reg.StopListening(context.Background(), "g1"); err != nil {
		t.Fatalf("StopListening: %v", err)
	}

	eventually(t, "reconnected", func() bool { return len(h.platform.Calls()) == 2 && h.state("g1") == voice.StateConnected })
	if starts, _, _ := h.engine.counts(); starts != 1 {
		t.Errorf("engine restarted after StopListening during reconnect")
	}
}
