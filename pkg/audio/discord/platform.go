// Package discord implements [audio.Platform] on top of bwmarrin/discordgo.
//
// The platform borrows the bot's *discordgo.Session. It serves either one
// guild or, when created without a guild ID, every guild the bot is in.
// [Platform.Connect] validates the target channel, joins it and returns a
// [Connection] that decodes inbound opus into a merged PCM stream and encodes
// outbound PCM back to opus.
package discord

import (
	"context"
	"fmt"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

var _ audio.Platform = (*Platform)(nil)

// Platform joins voice channels.
type Platform struct {
	session *discordgo.Session
	guildID string
}

// New returns a Platform for guildID using the given session. An empty
// guildID accepts voice channels of any guild.
func New(session *discordgo.Session, guildID string) *Platform {
	return &Platform{session: session, guildID: guildID}
}

// Connect joins channelID. The join runs in the background so that ctx can
// abandon a handshake that never completes; a late connection is torn down as
// soon as it arrives.
func (p *Platform) Connect(ctx context.Context, channelID string) (audio.Connection, error) {
	guildID, err := p.checkChannel(channelID)
	if err != nil {
		return nil, err
	}

	type joined struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	res := make(chan joined, 1)
	go func() {
		vc, err := p.session.ChannelVoiceJoin(guildID, channelID, false, false)
		res <- joined{vc: vc, err: err}
	}()

	select {
	case r := <-res:
		if r.err != nil {
			return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, r.err)
		}
		return newConnection(r.vc, p.session, guildID, channelID), nil
	case <-ctx.Done():
		go func() {
			if r := <-res; r.vc != nil {
				_ = r.vc.Disconnect()
			}
		}()
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, ctx.Err())
	}
}

// checkChannel returns the channel's guild, or [audio.ErrChannelUnavailable]
// unless channelID names a voice or stage channel this platform serves.
func (p *Platform) checkChannel(channelID string) (string, error) {
	var ch *discordgo.Channel
	if p.session.State != nil {
		ch, _ = p.session.State.Channel(channelID)
	}
	if ch == nil {
		var err error
		ch, err = p.session.Channel(channelID)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", audio.ErrChannelUnavailable, channelID, err)
		}
	}
	if !isVoiceChannel(ch) {
		return "", fmt.Errorf("%w: %s is not a voice channel", audio.ErrChannelUnavailable, channelID)
	}
	switch {
	case p.guildID == "":
		if ch.GuildID == "" {
			return "", fmt.Errorf("%w: %s has no guild", audio.ErrChannelUnavailable, channelID)
		}
		return ch.GuildID, nil
	case ch.GuildID != "" && ch.GuildID != p.guildID:
		return "", fmt.Errorf("%w: %s is not a voice channel of this guild", audio.ErrChannelUnavailable, channelID)
	}
	return p.guildID, nil
}

func isVoiceChannel(ch *discordgo.Channel) bool {
	return ch != nil && (ch.Type == discordgo.ChannelTypeGuildVoice || ch.Type == discordgo.ChannelTypeGuildStageVoice)
}
