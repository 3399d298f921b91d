package discord

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/discord/mock"
	"github.com/MrWong99/earshot/internal/voice"
)

func TestStatusEmbed(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := voice.Status{
		GuildID:      "g1",
		ChannelID:    "vc1",
		State:        voice.StateListening,
		Engine:       "streaming",
		Speaking:     2,
		Queued:       3,
		NowPlaying:   "Airhorn",
		DecodeFaults: 1,
		LastActivity: now.Add(-90 * time.Second),
	}

	embed := StatusEmbed(st, now)

	if embed.Color != embedColorGreen {
		t.Errorf("Color = %d, want %d", embed.Color, embedColorGreen)
	}
	want := map[string]string{
		"State":         "listening",
		"Channel":       "<#vc1>",
		"Recognition":   "streaming",
		"Now playing":   "Airhorn",
		"Queued":        "3",
		"Speaking":      "2",
		"Decode faults": "1",
		"Last activity": "1m 30s ago",
	}
	if len(embed.Fields) != len(want) {
		t.Fatalf("fields = %d, want %d", len(embed.Fields), len(want))
	}
	for _, f := range embed.Fields {
		if want[f.Name] != f.Value {
			t.Errorf("field %s = %q, want %q", f.Name, f.Value, want[f.Name])
		}
	}
	if embed.Footer == nil || embed.Footer.Text != "Live session" {
		t.Errorf("Footer = %v, want 'Live session'", embed.Footer)
	}
}

func TestStatusEmbed_Idle(t *testing.T) {
	t.Parallel()

	embed := StatusEmbed(voice.Status{ChannelID: "vc1", State: voice.StateConnected}, time.Now())

	if embed.Color != embedColorYellow {
		t.Errorf("Color = %d, want %d", embed.Color, embedColorYellow)
	}
	for _, f := range embed.Fields {
		switch f.Name {
		case "Recognition":
			if f.Value != "off" {
				t.Errorf("Recognition = %q, want off", f.Value)
			}
		case "Now playing":
			if f.Value != "nothing" {
				t.Errorf("Now playing = %q, want nothing", f.Value)
			}
		case "Last activity":
			t.Error("Last activity shown without activity")
		}
	}
}

func TestStateColor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state voice.State
		want  int
	}{
		{voice.StateConnecting, embedColorYellow},
		{voice.StateConnected, embedColorYellow},
		{voice.StateListening, embedColorGreen},
		{voice.StateReconnecting, embedColorOrange},
		{voice.StateDisconnected, embedColorRed},
	}
	for _, tt := range tests {
		if got := stateColor(tt.state); got != tt.want {
			t.Errorf("stateColor(%s) = %d, want %d", tt.state, got, tt.want)
		}
	}
}

func TestDashboard_Defaults(t *testing.T) {
	t.Parallel()

	d := NewDashboard(DashboardConfig{ChannelID: "ch"})
	if d.interval != defaultInterval {
		t.Errorf("default interval = %v, want %v", d.interval, defaultInterval)
	}
}

func TestDashboard_CreatesThenEditsThenEnds(t *testing.T) {
	t.Parallel()

	ch := &mock.Channel{}
	var (
		mu   sync.Mutex
		live = true
	)
	d := NewDashboard(DashboardConfig{
		Sender:    ch,
		ChannelID: "text-1",
		Interval:  10 * time.Millisecond,
		Status: func() (voice.Status, bool) {
			mu.Lock()
			defer mu.Unlock()
			return voice.Status{ChannelID: "vc1", State: voice.StateConnected}, live
		},
	})
	d.Start(context.Background())

	waitFor(t, func() bool { return len(ch.Sent()) >= 2 })
	mu.Lock()
	live = false
	mu.Unlock()

	waitFor(t, func() bool {
		sent := ch.Sent()
		last := sent[len(sent)-1]
		return last.Embed != nil && last.Embed.Footer != nil && last.Embed.Footer.Text == "Session ended"
	})

	sent := ch.Sent()
	if sent[0].Edited {
		t.Error("first message was an edit, want a new embed")
	}
	for _, m := range sent[1:] {
		if !m.Edited || m.ID != sent[0].ID {
			t.Errorf("message %+v, want edit of %s", m, sent[0].ID)
		}
	}
	d.Stop()
}

func TestDashboard_StopWithoutMessage(t *testing.T) {
	t.Parallel()

	ch := &mock.Channel{}
	d := NewDashboard(DashboardConfig{
		Sender:    ch,
		ChannelID: "text-1",
		Status:    func() (voice.Status, bool) { return voice.Status{}, false },
	})
	d.Stop()
	d.Stop()
	if n := len(ch.Sent()); n != 0 {
		t.Errorf("sent %d messages, want 0", n)
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		d    time.Duration
		want string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 3*time.Minute + 15*time.Second, "3m 15s"},
		{"hours minutes seconds", 2*time.Hour + 30*time.Minute + 5*time.Second, "2h 30m 5s"},
		{"zero", 0, "0s"},
		{"negative clamps", -time.Second, "0s"},
		{"sub-second truncated", 500 * time.Millisecond, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := formatDuration(tt.d); got != tt.want {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}
