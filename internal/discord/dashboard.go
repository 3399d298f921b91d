package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/earshot/internal/voice"
)

// MessageSender posts and edits channel messages. *discordgo.Session
// satisfies it.
type MessageSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ MessageSender = (*discordgo.Session)(nil)

// Embed sidebar colors per session state.
const (
	embedColorGreen  = 0x2ECC71
	embedColorYellow = 0xF1C40F
	embedColorOrange = 0xE67E22
	embedColorRed    = 0xE74C3C
)

// defaultInterval is the default dashboard update interval.
const defaultInterval = 10 * time.Second

// ClearQueuePrefix prefixes the custom_id of the status embed's clear button.
// The guild ID follows the prefix.
const ClearQueuePrefix = "sfx_clear:"

// Dashboard keeps one embed in a text channel in sync with a guild's voice
// session. The embed is created on the first update and edited in place
// afterwards. When the session disappears the embed is marked ended and the
// loop stops.
//
// Thread-safe for concurrent use.
type Dashboard struct {
	mu        sync.Mutex
	sender    MessageSender
	channelID string
	messageID string
	interval  time.Duration
	status    func() (voice.Status, bool)
	done      chan struct{}
	stopOnce  sync.Once
}

// DashboardConfig holds dependencies for creating a Dashboard.
type DashboardConfig struct {
	Sender    MessageSender
	ChannelID string
	Interval  time.Duration // Default: 10 seconds
	Status    func() (voice.Status, bool)
}

// NewDashboard creates a Dashboard.
func NewDashboard(cfg DashboardConfig) *Dashboard {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Dashboard{
		sender:    cfg.Sender,
		channelID: cfg.ChannelID,
		interval:  interval,
		status:    cfg.Status,
		done:      make(chan struct{}),
	}
}

// Start begins the periodic update loop in a background goroutine.
func (d *Dashboard) Start(ctx context.Context) {
	go d.loop(ctx)
}

// Stop halts the update loop and marks the embed ended.
func (d *Dashboard) Stop() {
	d.stopOnce.Do(func() {
		close(d.done)
		d.postFinal()
	})
}

func (d *Dashboard) loop(ctx context.Context) {
	if !d.update() {
		d.Stop()
		return
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !d.update() {
				d.Stop()
				return
			}
		}
	}
}

// update renders the current status. It reports false once the session is
// gone.
func (d *Dashboard) update() bool {
	st, ok := d.status()
	if !ok {
		return false
	}
	embed := StatusEmbed(st, time.Now())

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.messageID == "" {
		msg, err := d.sender.ChannelMessageSendEmbed(d.channelID, embed)
		if err != nil {
			slog.Warn("discord: failed to create dashboard", "channel", d.channelID, "err", err)
			return true
		}
		d.messageID = msg.ID
		slog.Debug("discord: dashboard created", "message_id", msg.ID, "channel", d.channelID)
		return true
	}
	if _, err := d.sender.ChannelMessageEditEmbed(d.channelID, d.messageID, embed); err != nil {
		slog.Warn("discord: failed to edit dashboard", "message_id", d.messageID, "err", err)
	}
	return true
}

func (d *Dashboard) postFinal() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.messageID == "" {
		return
	}
	embed := &discordgo.MessageEmbed{
		Title:       "Earshot",
		Description: "Left the voice channel.",
		Color:       embedColorRed,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Session ended"},
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := d.sender.ChannelMessageEditEmbed(d.channelID, d.messageID, embed); err != nil {
		slog.Warn("discord: failed to post final dashboard", "message_id", d.messageID, "err", err)
	}
}

// StatusEmbed renders a session snapshot.
func StatusEmbed(st voice.Status, now time.Time) *discordgo.MessageEmbed {
	engine := st.Engine
	if engine == "" {
		engine = "off"
	}
	playing := st.NowPlaying
	if playing == "" {
		playing = "nothing"
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "State", Value: st.State.String(), Inline: true},
		{Name: "Channel", Value: fmt.Sprintf("<#%s>", st.ChannelID), Inline: true},
		{Name: "Recognition", Value: engine, Inline: true},
		{Name: "Now playing", Value: playing, Inline: true},
		{Name: "Queued", Value: strconv.Itoa(st.Queued), Inline: true},
		{Name: "Speaking", Value: strconv.Itoa(st.Speaking), Inline: true},
		{Name: "Decode faults", Value: strconv.Itoa(st.DecodeFaults), Inline: true},
	}
	if !st.LastActivity.IsZero() {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Last activity",
			Value:  formatDuration(now.Sub(st.LastActivity)) + " ago",
			Inline: true,
		})
	}

	return &discordgo.MessageEmbed{
		Title:     "Earshot",
		Color:     stateColor(st.State),
		Fields:    fields,
		Footer:    &discordgo.MessageEmbedFooter{Text: "Live session"},
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// ClearButton returns the action row holding the clear-queue button for
// guildID.
func ClearButton(guildID string) discordgo.MessageComponent {
	return discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.Button{
				Label:    "Clear queue",
				Style:    discordgo.DangerButton,
				CustomID: ClearQueuePrefix + guildID,
			},
		},
	}
}

func stateColor(s voice.State) int {
	switch s {
	case voice.StateListening:
		return embedColorGreen
	case voice.StateConnected, voice.StateConnecting:
		return embedColorYellow
	case voice.StateReconnecting:
		return embedColorOrange
	default:
		return embedColorRed
	}
}

// formatDuration formats a duration as "Xh Ym Zs".
func formatDuration(d time.Duration) string {
	d = max(d, 0).Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
