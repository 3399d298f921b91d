package discord

import (
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// HandlerFunc handles one interaction.
type HandlerFunc func(r Responder, i *discordgo.InteractionCreate)

// CommandRouter dispatches interactions by route key. Command and
// autocomplete keys are "command" or "command/subcommand"; components are
// matched by the longest registered custom_id prefix.
//
// Interactions outside a guild are refused, and a panicking handler is
// logged and answered instead of taking down the gateway loop.
type CommandRouter struct {
	mu           sync.RWMutex
	definitions  map[string]*discordgo.ApplicationCommand
	commands     map[string]HandlerFunc
	autocomplete map[string]HandlerFunc
	components   map[string]HandlerFunc
}

// NewCommandRouter creates an empty router.
func NewCommandRouter() *CommandRouter {
	return &CommandRouter{
		definitions:  make(map[string]*discordgo.ApplicationCommand),
		commands:     make(map[string]HandlerFunc),
		autocomplete: make(map[string]HandlerFunc),
		components:   make(map[string]HandlerFunc),
	}
}

// Define adds a top-level command definition to register with Discord.
// Redefining a name replaces it.
func (r *CommandRouter) Define(cmd *discordgo.ApplicationCommand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions[cmd.Name] = cmd
}

// HandleCommand routes the slash command key to h.
func (r *CommandRouter) HandleCommand(key string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[key] = h
}

// HandleAutocomplete routes autocomplete requests for key to h.
func (r *CommandRouter) HandleAutocomplete(key string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autocomplete[key] = h
}

// HandleComponent routes components whose custom_id starts with prefix.
func (r *CommandRouter) HandleComponent(prefix string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[prefix] = h
}

// ApplicationCommands returns the defined commands sorted by name.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*discordgo.ApplicationCommand, 0, len(r.definitions))
	for _, name := range slices.Sorted(maps.Keys(r.definitions)) {
		out = append(out, r.definitions[name])
	}
	return out
}

// Handle dispatches one interaction.
func (r *CommandRouter) Handle(resp Responder, i *discordgo.InteractionCreate) {
	key, h, fallback := r.route(i)
	if h == nil {
		slog.Warn("discord: unrouted interaction", "type", i.Type, "key", key)
		fallback(resp, i)
		return
	}
	if i.GuildID == "" {
		RespondEphemeral(resp, i, "Earshot only works inside a server.")
		return
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			slog.Error("discord: handler panicked",
				"key", key,
				"guild_id", i.GuildID,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			RespondEphemeral(resp, i, "Something went wrong handling that.")
			return
		}
		slog.Debug("discord: interaction handled", "key", key, "guild_id", i.GuildID, "duration", time.Since(start))
	}()
	h(resp, i)
}

func (r *CommandRouter) route(i *discordgo.InteractionCreate) (string, HandlerFunc, HandlerFunc) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		key := routeKey(i.ApplicationCommandData())
		return key, r.commands[key], func(resp Responder, i *discordgo.InteractionCreate) {
			RespondEphemeral(resp, i, "Unknown command.")
		}
	case discordgo.InteractionApplicationCommandAutocomplete:
		key := routeKey(i.ApplicationCommandData())
		return key, r.autocomplete[key], func(resp Responder, i *discordgo.InteractionCreate) {
			RespondChoices(resp, i, nil)
		}
	case discordgo.InteractionMessageComponent:
		id := i.MessageComponentData().CustomID
		var best string
		for prefix := range r.components {
			if strings.HasPrefix(id, prefix) && len(prefix) > len(best) {
				best = prefix
			}
		}
		return id, r.components[best], func(resp Responder, i *discordgo.InteractionCreate) {
			RespondEphemeral(resp, i, "That button is no longer active.")
		}
	}
	return "", nil, func(Responder, *discordgo.InteractionCreate) {}
}

func routeKey(data discordgo.ApplicationCommandInteractionData) string {
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return data.Name + "/" + data.Options[0].Name
	}
	return data.Name
}
