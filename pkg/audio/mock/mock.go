// Package mock provides in-memory implementations of [audio.Platform] and
// [audio.Connection] for unit tests.
//
// Both mocks are safe for concurrent use. They record calls and expose
// exported fields that tests set to steer return values.
//
// Typical usage:
//
//	conn := mock.NewConnection("alice", "bob")
//	platform := &mock.Platform{ConnectResult: conn}
//	got, _ := platform.Connect(ctx, "voice-1")
//	conn.Feed("alice", frame)
//	conn.EmitFault(audio.DecodeFault{UserID: "alice"})
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Connection is a mock [audio.Connection].
type Connection struct {
	mu sync.Mutex

	// KeepaliveErr is returned by SendKeepalive.
	KeepaliveErr error

	// DisconnectErr is returned by Disconnect.
	DisconnectErr error

	// KeepaliveCount counts SendKeepalive calls, including failing ones.
	KeepaliveCount int

	// DisconnectCount counts Disconnect calls.
	DisconnectCount int

	members  []string
	input    chan audio.InputFrame
	output   chan audio.AudioFrame
	changeCb func(audio.Event)
	faultCb  func(audio.DecodeFault)
	closed   bool
}

var _ audio.Connection = (*Connection)(nil)

// NewConnection returns a live mock connection whose channel holds members.
func NewConnection(members ...string) *Connection {
	return &Connection{
		members: members,
		input:   make(chan audio.InputFrame, 256),
		output:  make(chan audio.AudioFrame, 256),
	}
}

// Input implements [audio.Connection].
func (c *Connection) Input() <-chan audio.InputFrame { return c.input }

// OutputStream implements [audio.Connection].
func (c *Connection) OutputStream() chan<- audio.AudioFrame { return c.output }

// Output exposes the receive side of the output stream to tests.
func (c *Connection) Output() <-chan audio.AudioFrame { return c.output }

// Members implements [audio.Connection].
func (c *Connection) Members() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.members)
}

// SetMembers replaces the member list without emitting events.
func (c *Connection) SetMembers(members ...string) {
	c.mu.Lock()
	c.members = members
	c.mu.Unlock()
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

// SendKeepalive implements [audio.Connection].
func (c *Connection) SendKeepalive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.KeepaliveCount++
	return c.KeepaliveErr
}

// Keepalives returns KeepaliveCount under the lock.
func (c *Connection) Keepalives() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.KeepaliveCount
}

// Disconnect implements [audio.Connection]. The input channel is closed on
// the first call.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DisconnectCount++
	if !c.closed {
		c.closed = true
		close(c.input)
	}
	return c.DisconnectErr
}

// Disconnects returns DisconnectCount under the lock.
func (c *Connection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.DisconnectCount
}

// Feed delivers a frame on the input stream. It is a no-op after Disconnect.
func (c *Connection) Feed(userID string, frame audio.AudioFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.input <- audio.InputFrame{UserID: userID, Frame: frame}
}

// Drop closes the input stream as if the transport died underneath.
func (c *Connection) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.input)
	}
}

// EmitEvent invokes the participant callback and updates the member list.
func (c *Connection) EmitEvent(ev audio.Event) {
	c.mu.Lock()
	switch ev.Type {
	case audio.EventJoin:
		if !slices.Contains(c.members, ev.UserID) {
			c.members = append(c.members, ev.UserID)
		}
	case audio.EventLeave:
		c.members = slices.DeleteFunc(c.members, func(id string) bool { return id == ev.UserID })
	}
	cb := c.changeCb
	c.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// EmitFault invokes the decode fault callback.
func (c *Connection) EmitFault(f audio.DecodeFault) {
	c.mu.Lock()
	cb := c.faultCb
	c.mu.Unlock()
	if cb != nil {
		cb(f)
	}
}

// ConnectCall records one [Platform.Connect] invocation.
type ConnectCall struct {
	ChannelID string
}

// Platform is a mock [audio.Platform].
//
// When ConnectFunc is set it takes precedence over ConnectResult and
// ConnectErr. When Block is true Connect waits for ctx to end.
type Platform struct {
	mu sync.Mutex

	ConnectResult audio.Connection
	ConnectErr    error
	ConnectFunc   func(ctx context.Context, channelID string) (audio.Connection, error)
	Block         bool

	ConnectCalls []ConnectCall
}

var _ audio.Platform = (*Platform)(nil)

// Connect implements [audio.Platform].
func (p *Platform) Connect(ctx context.Context, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{ChannelID: channelID})
	fn, block := p.ConnectFunc, p.Block
	res, err := p.ConnectResult, p.ConnectErr
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fn != nil {
		return fn(ctx, channelID)
	}
	return res, err
}

// Calls returns a snapshot of ConnectCalls.
func (p *Platform) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.ConnectCalls)
}
