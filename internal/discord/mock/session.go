// Package mock records what the bot sends to Discord.
package mock

import (
	"slices"
	"strconv"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// InteractionResponder records what a handler answered. It satisfies
// discord.Responder. Set Err to make every call fail.
type InteractionResponder struct {
	mu        sync.Mutex
	Responses []*discordgo.InteractionResponse
	FollowUps []*discordgo.WebhookParams
	Err       error

	// text holds the content of every reply in order, follow-ups included.
	text []string
}

func (m *InteractionResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, resp)
	if resp.Data != nil && resp.Data.Content != "" {
		m.text = append(m.text, resp.Data.Content)
	}
	return m.Err
}

func (m *InteractionResponder) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, params *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FollowUps = append(m.FollowUps, params)
	m.text = append(m.text, params.Content)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "followup-" + strconv.Itoa(len(m.FollowUps))}, nil
}

// LastResponse returns the latest interaction response, or nil.
func (m *InteractionResponder) LastResponse() *discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return last(m.Responses)
}

// LastText returns the content of the latest text reply or follow-up.
func (m *InteractionResponder) LastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.text) == 0 {
		return ""
	}
	return m.text[len(m.text)-1]
}

// Reset forgets everything recorded and clears Err.
func (m *InteractionResponder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses, m.FollowUps, m.text, m.Err = nil, nil, nil, nil
}

func last[T any](xs []*T) *T {
	if len(xs) == 0 {
		return nil
	}
	return xs[len(xs)-1]
}

// Message is one message sent or edited through [Channel].
type Message struct {
	ChannelID string
	ID        string
	Content   string
	Embed     *discordgo.MessageEmbed
	Edited    bool
}

// Channel records channel messages. It satisfies discord.MessageSender.
type Channel struct {
	mu       sync.Mutex
	Messages []Message
	Err      error
	next     int
}

// ChannelMessageSend records a text message.
func (c *Channel) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return c.add(Message{ChannelID: channelID, Content: content})
}

// ChannelMessageSendEmbed records an embed message.
func (c *Channel) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return c.add(Message{ChannelID: channelID, Embed: embed})
}

// ChannelMessageEditEmbed records an embed edit.
func (c *Channel) ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	c.Messages = append(c.Messages, Message{ChannelID: channelID, ID: messageID, Embed: embed, Edited: true})
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

func (c *Channel) add(m Message) (*discordgo.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	c.next++
	m.ID = "msg-" + strconv.Itoa(c.next)
	c.Messages = append(c.Messages, m)
	return &discordgo.Message{ID: m.ID, ChannelID: m.ChannelID}, nil
}

// Sent returns a copy of the recorded messages.
func (c *Channel) Sent() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.Messages)
}
