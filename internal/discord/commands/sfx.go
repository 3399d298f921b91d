// Package commands implements the /sfx slash command group.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/earshot/internal/catalog"
	"github.com/MrWong99/earshot/internal/discord"
	"github.com/MrWong99/earshot/internal/playback"
	"github.com/MrWong99/earshot/internal/recognition"
	"github.com/MrWong99/earshot/internal/settings"
	"github.com/MrWong99/earshot/internal/voice"
)

// maxChoices is the Discord limit for autocomplete results.
const maxChoices = 25

// commandTimeout bounds every voice operation started from a command.
const commandTimeout = 30 * time.Second

// noticeBuffer is how many state notices may wait for the delivery goroutine.
const noticeBuffer = 32

// Voice is the part of the voice registry the commands drive.
// *voice.Registry satisfies it.
type Voice interface {
	Connect(ctx context.Context, guildID, channelID string) error
	Disconnect(ctx context.Context, guildID string) error
	StartListening(ctx context.Context, guildID string) error
	StopListening(ctx context.Context, guildID string) error
	EnqueueSound(ctx context.Context, guildID, soundRef, requestedBy string) (playback.Request, error)
	ClearQueue(guildID string) (int, error)
	Status(guildID string) (voice.Status, bool)
}

var _ Voice = (*voice.Registry)(nil)

// SettingsWriter stores per-guild overrides. *settings.Store satisfies it.
type SettingsWriter interface {
	Set(guildID, name string, value any) error
}

// Locator returns the voice channel a user is in.
type Locator func(guildID, userID string) (string, error)

// SFXConfig holds the dependencies of [SFXCommands].
type SFXConfig struct {
	Voice    Voice
	Catalog  *catalog.Store
	Settings SettingsWriter
	Perms    *discord.PermissionChecker
	Locate   Locator

	// Sender posts the live status embed and connection notices to the
	// channel the last /sfx join came from. Nil disables both.
	Sender            discord.MessageSender
	DashboardInterval time.Duration
}

// SFXCommands holds the dependencies for /sfx slash commands.
type SFXCommands struct {
	cfg SFXConfig

	mu         sync.Mutex
	channels   map[string]string // guild -> text channel of the last join
	dashboards map[string]*discord.Dashboard

	notices   chan notice
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// notice is one state change waiting to be posted. A non-nil dashboard
// was detached by the change and still has to be stopped.
type notice struct {
	guildID   string
	channelID string
	text      string
	dashboard *discord.Dashboard
}

// NewSFXCommands creates SFXCommands and registers its handlers with router.
func NewSFXCommands(router *discord.CommandRouter, cfg SFXConfig) *SFXCommands {
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.NewStore(nil)
	}
	if cfg.Perms == nil {
		cfg.Perms = discord.NewPermissionChecker("")
	}
	sc := &SFXCommands{
		cfg:        cfg,
		channels:   make(map[string]string),
		dashboards: make(map[string]*discord.Dashboard),
		notices:    make(chan notice, noticeBuffer),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	sc.Register(router)
	go sc.deliver()
	return sc
}

// Register registers the /sfx command group with the router.
func (sc *SFXCommands) Register(router *discord.CommandRouter) {
	router.Define(sc.Definition())
	router.HandleCommand("sfx/join", sc.handleJoin)
	router.HandleCommand("sfx/leave", sc.handleLeave)
	router.HandleCommand("sfx/listen", sc.handleListen)
	router.HandleCommand("sfx/stop", sc.handleStop)
	router.HandleCommand("sfx/play", sc.handlePlay)
	router.HandleCommand("sfx/clear", sc.handleClear)
	router.HandleCommand("sfx/status", sc.handleStatus)
	router.HandleCommand("sfx/set", sc.handleSet)
	router.HandleAutocomplete("sfx/play", sc.autocompleteSound)
	router.HandleAutocomplete("sfx/set", sc.autocompleteKey)
	router.HandleComponent(discord.ClearQueuePrefix, sc.handleClearButton)
}

// Definition returns the ApplicationCommand definition for Discord.
func (sc *SFXCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "sfx",
		Description: "Voice triggered sound effects",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "join",
				Description: "Join your voice channel or the given one",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:         discordgo.ApplicationCommandOptionChannel,
						Name:         "channel",
						Description:  "Voice channel to join",
						ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildStageVoice},
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "leave",
				Description: "Leave the voice channel",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "listen",
				Description: "Start listening for trigger words",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "stop",
				Description: "Stop listening for trigger words",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "play",
				Description: "Queue a sound by title or trigger",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:         discordgo.ApplicationCommandOptionString,
						Name:         "sound",
						Description:  "Sound title, trigger word or phrase",
						Required:     true,
						Autocomplete: true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "clear",
				Description: "Drop every queued sound",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "status",
				Description: "Show the voice session status",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set",
				Description: "Override a setting for this server",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:         discordgo.ApplicationCommandOptionString,
						Name:         "key",
						Description:  "Setting name",
						Required:     true,
						Autocomplete: true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "value",
						Description: "Number, duration such as 250ms, or text",
						Required:    true,
					},
				},
			},
		},
	}
}

// handleJoin handles /sfx join.
func (sc *SFXCommands) handleJoin(r discord.Responder, i *discordgo.InteractionCreate) {
	if !sc.cfg.Perms.CanControl(i) {
		discord.RespondEphemeral(r, i, "You need the control role to move the bot.")
		return
	}

	channelID := ""
	if opt, ok := subOptions(i)["channel"]; ok {
		channelID = opt.ChannelValue(nil).ID
	}
	if channelID == "" && sc.cfg.Locate != nil {
		channelID, _ = sc.cfg.Locate(i.GuildID, interactionUserID(i))
	}
	if channelID == "" {
		discord.RespondEphemeral(r, i, "Join a voice channel first or pass one.")
		return
	}

	discord.DeferReply(r, i)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := sc.cfg.Voice.Connect(ctx, i.GuildID, channelID); err != nil {
		discord.FollowUp(r, i, "Failed to join: "+describe(err))
		return
	}
	sc.watch(i.GuildID, i.ChannelID)
	discord.FollowUp(r, i, fmt.Sprintf("Joined <#%s>. Use `/sfx listen` to react to trigger words.", channelID))
}

// handleLeave handles /sfx leave.
func (sc *SFXCommands) handleLeave(r discord.Responder, i *discordgo.InteractionCreate) {
	if !sc.cfg.Perms.CanControl(i) {
		discord.RespondEphemeral(r, i, "You need the control role to disconnect the bot.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := sc.cfg.Voice.Disconnect(ctx, i.GuildID); err != nil {
		discord.RespondEphemeral(r, i, describe(err))
		return
	}
	sc.unwatch(i.GuildID)
	discord.RespondEphemeral(r, i, "Left the voice channel.")
}

// handleListen handles /sfx listen.
func (sc *SFXCommands) handleListen(r discord.Responder, i *discordgo.InteractionCreate) {
	if !sc.cfg.Perms.CanControl(i) {
		discord.RespondEphemeral(r, i, "You need the control role to start listening.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := sc.cfg.Voice.StartListening(ctx, i.GuildID); err != nil {
		discord.RespondEphemeral(r, i, "Could not start listening: "+describe(err))
		return
	}
	discord.RespondEphemeral(r, i, "Listening for trigger words.")
}

// handleStop handles /sfx stop.
func (sc *SFXCommands) handleStop(r discord.Responder, i *discordgo.InteractionCreate) {
	if !sc.cfg.Perms.CanControl(i) {
		discord.RespondEphemeral(r, i, "You need the control role to stop listening.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := sc.cfg.Voice.StopListening(ctx, i.GuildID); err != nil {
		discord.RespondError(r, i, err)
		return
	}
	discord.RespondEphemeral(r, i, "Stopped listening.")
}

// handlePlay handles /sfx play.
func (sc *SFXCommands) handlePlay(r discord.Responder, i *discordgo.InteractionCreate) {
	opt, ok := subOptions(i)["sound"]
	if !ok {
		discord.RespondEphemeral(r, i, "Missing sound.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	req, err := sc.cfg.Voice.EnqueueSound(ctx, i.GuildID, opt.StringValue(), interactionUserID(i))
	if err != nil {
		discord.RespondEphemeral(r, i, describe(err))
		return
	}
	discord.RespondEphemeral(r, i, fmt.Sprintf("Queued **%s**.", req.Sound.Title))
}

// handleClear handles /sfx clear.
func (sc *SFXCommands) handleClear(r discord.Responder, i *discordgo.InteractionCreate) {
	sc.clear(r, i, i.GuildID)
}

// handleClearButton handles the clear button under the status embed.
func (sc *SFXCommands) handleClearButton(r discord.Responder, i *discordgo.InteractionCreate) {
	guildID := strings.TrimPrefix(i.MessageComponentData().CustomID, discord.ClearQueuePrefix)
	sc.clear(r, i, guildID)
}

func (sc *SFXCommands) clear(r discord.Responder, i *discordgo.InteractionCreate, guildID string) {
	if !sc.cfg.Perms.CanControl(i) {
		discord.RespondEphemeral(r, i, "You need the control role to clear the queue.")
		return
	}
	n, err := sc.cfg.Voice.ClearQueue(guildID)
	if err != nil {
		discord.RespondEphemeral(r, i, describe(err))
		return
	}
	discord.RespondEphemeral(r, i, fmt.Sprintf("Cleared %d queued %s.", n, plural(n, "sound", "sounds")))
}

// handleStatus handles /sfx status.
func (sc *SFXCommands) handleStatus(r discord.Responder, i *discordgo.InteractionCreate) {
	st, ok := sc.cfg.Voice.Status(i.GuildID)
	if !ok {
		discord.RespondEphemeral(r, i, "Not connected to a voice channel.")
		return
	}
	discord.RespondEmbed(r, i, discord.StatusEmbed(st, time.Now()), discord.ClearButton(i.GuildID))
}

// handleSet handles /sfx set.
func (sc *SFXCommands) handleSet(r discord.Responder, i *discordgo.InteractionCreate) {
	if !sc.cfg.Perms.CanControl(i) {
		discord.RespondEphemeral(r, i, "You need the control role to change settings.")
		return
	}
	if sc.cfg.Settings == nil {
		discord.RespondEphemeral(r, i, "Settings are read-only.")
		return
	}
	opts := subOptions(i)
	key, hasKey := opts["key"]
	raw, hasValue := opts["value"]
	if !hasKey || !hasValue {
		discord.RespondEphemeral(r, i, "Both key and value are required.")
		return
	}

	name, text := key.StringValue(), strings.TrimSpace(raw.StringValue())
	if err := sc.cfg.Settings.Set(i.GuildID, name, parseValue(text)); err != nil {
		discord.RespondError(r, i, err)
		return
	}
	slog.Info("commands: setting overridden", "guild_id", i.GuildID, "key", name, "value", text, "user_id", interactionUserID(i))
	discord.RespondEphemeral(r, i, fmt.Sprintf("Set `%s` to `%s` for this server.", name, text))
}

// parseValue turns command text into the value shapes YAML decoding yields:
// numbers become float64, everything else stays a string.
func parseValue(text string) any {
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f
	}
	return text
}

// autocompleteSound suggests sound titles for /sfx play.
func (sc *SFXCommands) autocompleteSound(r discord.Responder, i *discordgo.InteractionCreate) {
	query := focusedValue(i)
	sounds := sc.cfg.Catalog.Current().Suggest(query, maxChoices)
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(sounds))
	for _, s := range sounds {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: s.Title, Value: s.Title})
	}
	discord.RespondChoices(r, i, choices)
}

// autocompleteKey suggests setting names for /sfx set.
func (sc *SFXCommands) autocompleteKey(r discord.Responder, i *discordgo.InteractionCreate) {
	query := strings.ToLower(focusedValue(i))
	var choices []*discordgo.ApplicationCommandOptionChoice
	for _, k := range settings.Keys() {
		if len(choices) == maxChoices {
			break
		}
		if strings.Contains(k, query) {
			choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: k, Value: k})
		}
	}
	discord.RespondChoices(r, i, choices)
}

// OnStateChange posts connection problems to the channel of the last join
// and stops the guild's dashboard once the session ends. It is meant for
// [voice.Registry.OnStateChange] and never blocks: Discord calls happen on
// a delivery goroutine, in the order the changes arrived.
func (sc *SFXCommands) OnStateChange(guildID string, _, to voice.State, err error) {
	var text string
	switch to {
	case voice.StateReconnecting:
		text = "Voice connection is unstable, reconnecting..."
	case voice.StateDisconnected:
		switch {
		case errors.Is(err, voice.ErrReconnectExhausted):
			text = "Lost the voice connection and could not reconnect. Use `/sfx join` to try again."
		case err != nil:
			text = "Left the voice channel: " + describe(err)
		}
	default:
		return
	}

	sc.mu.Lock()
	n := notice{guildID: guildID, channelID: sc.channels[guildID], text: text}
	if to == voice.StateDisconnected {
		// Detach now so a join racing the delivery keeps its new dashboard.
		n.dashboard = sc.dashboards[guildID]
		delete(sc.dashboards, guildID)
		delete(sc.channels, guildID)
	}
	sc.mu.Unlock()

	if sc.cfg.Sender == nil || n.channelID == "" {
		n.text = ""
	}
	if n.text == "" && n.dashboard == nil {
		return
	}
	select {
	case sc.notices <- n:
	default:
		slog.Warn("commands: notice queue full, dropping notice", "guild_id", guildID, "state", to)
		if n.dashboard != nil {
			go n.dashboard.Stop()
		}
	}
}

// deliver posts queued notices until Close. Dashboards detached by notices
// still queued at Close are stopped without posting.
func (sc *SFXCommands) deliver() {
	defer close(sc.stopped)
	for {
		select {
		case n := <-sc.notices:
			sc.post(n)
		case <-sc.quit:
			for {
				select {
				case n := <-sc.notices:
					if n.dashboard != nil {
						n.dashboard.Stop()
					}
				default:
					return
				}
			}
		}
	}
}

func (sc *SFXCommands) post(n notice) {
	if n.text != "" {
		if _, err := sc.cfg.Sender.ChannelMessageSend(n.channelID, n.text); err != nil {
			slog.Warn("commands: failed to post notice", "guild_id", n.guildID, "channel", n.channelID, "err", err)
		}
	}
	if n.dashboard != nil {
		n.dashboard.Stop()
	}
}

// watch remembers the text channel for guildID and starts its dashboard.
func (sc *SFXCommands) watch(guildID, channelID string) {
	if channelID == "" {
		return
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.channels[guildID] = channelID
	if sc.cfg.Sender == nil {
		return
	}
	if old, ok := sc.dashboards[guildID]; ok {
		old.Stop()
	}
	d := discord.NewDashboard(discord.DashboardConfig{
		Sender:    sc.cfg.Sender,
		ChannelID: channelID,
		Interval:  sc.cfg.DashboardInterval,
		Status:    func() (voice.Status, bool) { return sc.cfg.Voice.Status(guildID) },
	})
	sc.dashboards[guildID] = d
	d.Start(context.Background())
}

func (sc *SFXCommands) unwatch(guildID string) {
	sc.mu.Lock()
	d, ok := sc.dashboards[guildID]
	delete(sc.dashboards, guildID)
	delete(sc.channels, guildID)
	sc.mu.Unlock()
	if ok {
		d.Stop()
	}
}

// Close stops the notice delivery and every dashboard.
func (sc *SFXCommands) Close() {
	sc.closeOnce.Do(func() { close(sc.quit) })
	<-sc.stopped
	sc.mu.Lock()
	ds := sc.dashboards
	sc.dashboards = make(map[string]*discord.Dashboard)
	sc.mu.Unlock()
	for _, d := range ds {
		d.Stop()
	}
}

// describe maps pipeline errors to user facing text.
func describe(err error) string {
	switch {
	case errors.Is(err, voice.ErrNotConnected):
		return "Not connected to a voice channel. Use `/sfx join` first."
	case errors.Is(err, voice.ErrUnknownSound):
		return "No sound matches that title or trigger."
	case errors.Is(err, voice.ErrChannelUnavailable):
		return "That voice channel is not available."
	case errors.Is(err, voice.ErrConnectTimeout):
		return "Connecting to voice timed out."
	case errors.Is(err, voice.ErrReconnectExhausted):
		return "The voice connection was lost."
	case errors.Is(err, recognition.ErrEngineUnavailable):
		return "Speech recognition is not available."
	case errors.Is(err, playback.ErrQueueFull):
		return "The queue is full, try again shortly."
	case errors.Is(err, voice.ErrShutdown):
		return "The bot is shutting down."
	default:
		return err.Error()
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// subOptions returns the options of the invoked subcommand keyed by name.
func subOptions(i *discordgo.InteractionCreate) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption)
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return out
	}
	for _, o := range data.Options[0].Options {
		out[o.Name] = o
	}
	return out
}

// focusedValue returns the text typed into the focused autocomplete option.
func focusedValue(i *discordgo.InteractionCreate) string {
	for _, o := range subOptions(i) {
		if o.Focused {
			s, _ := o.Value.(string)
			return s
		}
	}
	return ""
}

// interactionUserID extracts the user ID from an interaction, handling
// both guild (Member) and DM (User) contexts.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
