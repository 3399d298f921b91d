// Package discord owns the gateway session of the bot. It routes slash
// command interactions, checks the control role and keeps the live status
// dashboard of each guild.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/earshot/pkg/audio"
	discordaudio "github.com/MrWong99/earshot/pkg/audio/discord"
)

var (
	// ErrNotInVoice is returned by UserVoiceChannel for users outside any
	// voice channel of the guild.
	ErrNotInVoice = errors.New("discord: user is not in a voice channel")

	// ErrNotReady is reported by Check until the gateway sent READY.
	ErrNotReady = errors.New("discord: gateway not ready")
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// GuildID restricts command registration to one guild. Voice works in
	// every guild the bot is in.
	GuildID string

	// ControlRoleID gates commands that change voice state.
	ControlRoleID string
}

// Bot owns the gateway connection.
type Bot struct {
	session  *discordgo.Session
	platform *discordaudio.Platform
	router   *CommandRouter
	perms    *PermissionChecker
	guildID  string
	ready    atomic.Bool

	mu         sync.Mutex
	registered []*discordgo.ApplicationCommand
	evicted    func(guildID string)
	closeOnce  sync.Once
}

// New connects to the gateway with the guild and voice state intents.
func New(_ context.Context, cfg Config) (*Bot, error) {
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	b := &Bot{
		session:  s,
		platform: discordaudio.New(s, ""),
		router:   NewCommandRouter(),
		perms:    NewPermissionChecker(cfg.ControlRoleID),
		guildID:  cfg.GuildID,
	}
	b.addHandlers(s)

	if err := s.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return b, nil
}

func (b *Bot) addHandlers(s *discordgo.Session) {
	s.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.ready.Store(true)
		slog.Info("discord: gateway ready", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	s.AddHandler(func(*discordgo.Session, *discordgo.Resumed) {
		b.ready.Store(true)
		slog.Info("discord: gateway resumed")
	})
	s.AddHandler(func(*discordgo.Session, *discordgo.Disconnect) {
		b.ready.Store(false)
		slog.Warn("discord: gateway disconnected")
	})
	s.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildDelete) {
		b.onGuildDelete(g)
	})
}

func (b *Bot) onGuildDelete(g *discordgo.GuildDelete) {
	// Unavailable means an outage, not a removal.
	if g.Unavailable {
		return
	}
	slog.Info("discord: removed from guild", "guild_id", g.ID)
	b.evict(g.ID)
}

// OnEvicted sets fn to run when the bot is kicked from a guild or the guild
// is deleted. fn runs on the gateway goroutine.
func (b *Bot) OnEvicted(fn func(guildID string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evicted = fn
}

func (b *Bot) evict(guildID string) {
	b.mu.Lock()
	fn := b.evicted
	b.mu.Unlock()
	if fn != nil {
		fn(guildID)
	}
}

// Platform returns the voice platform backed by this session.
func (b *Bot) Platform() audio.Platform { return b.platform }

// Session returns the underlying discordgo session.
func (b *Bot) Session() *discordgo.Session { return b.session }

// Router returns the interaction router.
func (b *Bot) Router() *CommandRouter { return b.router }

// Permissions returns the control role checker.
func (b *Bot) Permissions() *PermissionChecker { return b.perms }

// UserVoiceChannel returns the voice channel userID is in, from the gateway
// state cache.
func (b *Bot) UserVoiceChannel(guildID, userID string) (string, error) {
	vs, err := b.session.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", ErrNotInVoice
	}
	return vs.ChannelID, nil
}

// Check backs the readiness probe.
func (b *Bot) Check(context.Context) error {
	if !b.ready.Load() {
		return ErrNotReady
	}
	return nil
}

// Run registers the router's commands and blocks until ctx ends.
func (b *Bot) Run(ctx context.Context) error {
	if cmds := b.router.ApplicationCommands(); len(cmds) > 0 {
		got, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.guildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.registered = got
		b.mu.Unlock()
		slog.Info("discord: commands registered", "count", len(got), "guild_id", b.guildID)
	}
	<-ctx.Done()
	return ctx.Err()
}

// Close removes guild-scoped commands and closes the gateway. Global
// commands are left registered.
func (b *Bot) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		cmds := b.registered
		b.mu.Unlock()
		if b.guildID != "" {
			for _, c := range cmds {
				if derr := b.session.ApplicationCommandDelete(b.session.State.User.ID, b.guildID, c.ID); derr != nil {
					slog.Warn("discord: delete command", "name", c.Name, "error", derr)
				}
			}
		}
		b.ready.Store(false)
		if cerr := b.session.Close(); cerr != nil {
			err = fmt.Errorf("discord: close session: %w", cerr)
		}
		slog.Info("discord: bot closed")
	})
	return err
}
