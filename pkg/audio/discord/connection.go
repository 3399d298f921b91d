package discord

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

var _ audio.Connection = (*Connection)(nil)

const (
	inputBuffer  = 256
	outputBuffer = 64

	// speakingIdle is how long the send loop waits without output before it
	// clears the speaking flag.
	speakingIdle = 250 * time.Millisecond
)

// Connection adapts a discordgo voice connection to [audio.Connection].
//
// Inbound packets are attributed to users through the SSRC announcements
// Discord sends as speaking updates. Until a mapping is known a packet is
// attributed to "ssrc:<n>".
type Connection struct {
	vc        *discordgo.VoiceConnection
	session   *discordgo.Session
	guildID   string
	channelID string

	input  chan audio.InputFrame
	output chan audio.AudioFrame

	mu       sync.RWMutex
	ssrcUser map[uint32]string
	members  map[string]string // userID -> username
	changeCb func(audio.Event)
	faultCb  func(audio.DecodeFault)

	// speaking is set by the send loop while it streams output.
	speaking atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	removeHandler func()

	// Test seams. They default to the live voice connection.
	disconnectVC func() error
	ready        func() bool
}

func newConnection(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID, channelID string) *Connection {
	c := &Connection{
		vc:           vc,
		session:      session,
		guildID:      guildID,
		channelID:    channelID,
		input:        make(chan audio.InputFrame, inputBuffer),
		output:       make(chan audio.AudioFrame, outputBuffer),
		ssrcUser:     make(map[uint32]string),
		members:      make(map[string]string),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
		ready: func() bool {
			vc.RLock()
			defer vc.RUnlock()
			return vc.Ready
		},
	}
	c.seedMembers()
	c.removeHandler = session.AddHandler(c.handleVoiceStateUpdate)
	vc.AddHandler(c.handleSpeaking)
	c.start()
	return c
}

func (c *Connection) start() {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		defer close(c.input)
		c.recvLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.sendLoop()
	}()
}

// Input implements [audio.Connection].
func (c *Connection) Input() <-chan audio.InputFrame { return c.input }

// OutputStream implements [audio.Connection].
func (c *Connection) OutputStream() chan<- audio.AudioFrame { return c.output }

// Members implements [audio.Connection]. The result is sorted.
func (c *Connection) Members() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.members))
}

// OnParticipantChange implements [audio.Connection].
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.mu.Lock()
	c.changeCb = cb
	c.mu.Unlock()
}

// OnDecodeFault implements [audio.Connection].
func (c *Connection) OnDecodeFault(cb func(audio.DecodeFault)) {
	c.mu.Lock()
	c.faultCb = cb
	c.mu.Unlock()
}

// SendKeepalive queues one opus silence packet. It is skipped while output
// is streaming, which keeps the transport alive on its own, and it never
// blocks: a full send buffer already proves the transport is alive.
func (c *Connection) SendKeepalive() error {
	select {
	case <-c.done:
		return fmt.Errorf("discord: keepalive: connection closed")
	default:
	}
	if c.ready != nil && !c.ready() {
		return audio.ErrNotReady
	}
	if c.speaking.Load() {
		return nil
	}
	select {
	case c.vc.OpusSend <- silenceOpus:
	default:
	}
	return nil
}

// Disconnect implements [audio.Connection].
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.removeHandler != nil {
			c.removeHandler()
		}
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
		c.wg.Wait()
	})
	return err
}

func (c *Connection) recvLoop() {
	decoders := make(map[uint32]*opusDecoder)
	for {
		var pkt *discordgo.Packet
		var ok bool
		select {
		case <-c.done:
			return
		case pkt, ok = <-c.vc.OpusRecv:
			if !ok {
				return
			}
		}
		if pkt == nil {
			continue
		}

		userID := c.userFor(pkt.SSRC)
		dec, exists := decoders[pkt.SSRC]
		if !exists {
			var err error
			if dec, err = newOpusDecoder(); err != nil {
				slog.Error("discord: create decoder", "ssrc", pkt.SSRC, "err", err)
				continue
			}
			decoders[pkt.SSRC] = dec
		}

		frame := audio.AudioFrame{
			SampleRate: opusSampleRate,
			Channels:   opusChannels,
			Timestamp:  time.Duration(pkt.Timestamp) * time.Second / opusSampleRate,
		}
		pcm, err := dec.decode(pkt.Opus)
		if err != nil {
			// Substitute silence so downstream timing stays intact.
			frame.Data = make([]byte, opusFrameBytes)
			c.emitFault(audio.DecodeFault{UserID: userID, Err: err, At: time.Now()})
		} else {
			frame.Data = pcm
		}

		select {
		case c.input <- audio.InputFrame{UserID: userID, Frame: frame}:
		default:
		}
	}
}

func (c *Connection) sendLoop() {
	enc, err := newOpusEncoder()
	if err != nil {
		slog.Error("discord: create encoder", "err", err)
		return
	}
	conv := audio.FormatConverter{Target: audio.NativeFormat}
	idle := time.NewTimer(speakingIdle)
	defer idle.Stop()

	var buf []byte
	for {
		select {
		case <-c.done:
			if c.speaking.Load() {
				c.setSpeaking(false)
			}
			return
		case <-idle.C:
			if c.speaking.Load() {
				c.setSpeaking(false)
			}
		case frame := <-c.output:
			idle.Reset(speakingIdle)
			if !c.speaking.Load() {
				c.setSpeaking(true)
			}
			buf = append(buf, conv.Convert(frame).Data...)
			for len(buf) >= opusFrameBytes {
				packet, err := enc.encode(buf[:opusFrameBytes])
				buf = buf[opusFrameBytes:]
				if err != nil {
					slog.Warn("discord: encode output", "err", err)
					continue
				}
				select {
				case c.vc.OpusSend <- packet:
				case <-c.done:
					return
				}
			}
		}
	}
}

// handleSpeaking records the SSRC announced for a user.
func (c *Connection) handleSpeaking(_ *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
	if su == nil || su.UserID == "" {
		return
	}
	c.mu.Lock()
	c.ssrcUser[uint32(su.SSRC)] = su.UserID
	c.mu.Unlock()
	slog.Debug("discord: mapped ssrc", "guild_id", c.guildID, "ssrc", su.SSRC, "user_id", su.UserID)
}

func (c *Connection) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu == nil || vsu.VoiceState == nil || vsu.GuildID != c.guildID || c.isSelf(vsu.UserID) {
		return
	}
	username := ""
	if vsu.Member != nil && vsu.Member.User != nil {
		username = vsu.Member.User.Username
	}
	wasHere := vsu.BeforeUpdate != nil && vsu.BeforeUpdate.ChannelID == c.channelID
	isHere := vsu.ChannelID == c.channelID

	switch {
	case isHere && !wasHere:
		c.mu.Lock()
		c.members[vsu.UserID] = username
		c.mu.Unlock()
		c.emitEvent(audio.Event{Type: audio.EventJoin, UserID: vsu.UserID, Username: username})
	case wasHere && !isHere:
		c.mu.Lock()
		delete(c.members, vsu.UserID)
		c.mu.Unlock()
		c.emitEvent(audio.Event{Type: audio.EventLeave, UserID: vsu.UserID, Username: username})
	}
}

// seedMembers fills the member set from the cached guild voice states.
func (c *Connection) seedMembers() {
	if c.session == nil || c.session.State == nil {
		return
	}
	g, err := c.session.State.Guild(c.guildID)
	if err != nil || g == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == c.channelID && !c.isSelf(vs.UserID) {
			c.members[vs.UserID] = ""
		}
	}
}

func (c *Connection) isSelf(userID string) bool {
	if c.session == nil || c.session.State == nil || c.session.State.User == nil {
		return false
	}
	return c.session.State.User.ID == userID
}

func (c *Connection) userFor(ssrc uint32) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if id, ok := c.ssrcUser[ssrc]; ok {
		return id
	}
	return "ssrc:" + strconv.FormatUint(uint64(ssrc), 10)
}

func (c *Connection) setSpeaking(on bool) {
	c.speaking.Store(on)
	if err := c.vc.Speaking(on); err != nil {
		slog.Warn("discord: speaking flag", "speaking", on, "err", err)
	}
}

func (c *Connection) emitEvent(ev audio.Event) {
	c.mu.RLock()
	cb := c.changeCb
	c.mu.RUnlock()
	if cb != nil {
		cb(ev)
	}
}

func (c *Connection) emitFault(f audio.DecodeFault) {
	c.mu.RLock()
	cb := c.faultCb
	c.mu.RUnlock()
	if cb != nil {
		cb(f)
	}
}
