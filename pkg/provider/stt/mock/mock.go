// Package mock provides test doubles for the stt package interfaces.
//
// Provider hands out Session values and keeps them in Sessions so a test can
// push transcripts into the session a component opened:
//
//	p := &mock.Provider{}
//	engine.StartListening(ctx, onResult)
//	sess := p.Last()
//	sess.Final("airhorn")
package mock

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// ErrSessionClosed is returned by Session.SendAudio after Close or Fail.
var ErrSessionClosed = errors.New("mock: session closed")

// StartStreamCall records one Provider.StartStream invocation.
type StartStreamCall struct {
	Cfg stt.StreamConfig
}

// Provider is a mock [stt.Provider].
type Provider struct {
	mu sync.Mutex

	// StartStreamErr, if non-nil, is returned by StartStream.
	StartStreamErr error

	StartStreamCalls []StartStreamCall

	// Sessions holds every session handed out, in order.
	Sessions []*Session
}

var _ stt.Provider = (*Provider)(nil)

// StartStream records the call and returns a fresh Session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := NewSession()
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// Opened returns a snapshot of Sessions.
func (p *Provider) Opened() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.Sessions)
}

// Last returns the most recent session or nil.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

// Session is a mock [stt.SessionHandle] that also implements [stt.Resetter].
type Session struct {
	mu sync.Mutex

	// SendAudioErr, if non-nil, is returned by SendAudio.
	SendAudioErr error

	// ResetErr, if non-nil, is returned by Reset.
	ResetErr error

	// Audio holds a copy of every chunk received.
	Audio [][]byte

	ResetCount int
	CloseCount int

	partials chan stt.Transcript
	finals   chan stt.Transcript
	closed   bool
}

var (
	_ stt.SessionHandle = (*Session)(nil)
	_ stt.Resetter      = (*Session)(nil)
)

// NewSession returns a session with buffered result channels.
func NewSession() *Session {
	return &Session{
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
	}
}

// SendAudio records chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	s.Audio = append(s.Audio, slices.Clone(chunk))
	return nil
}

// Reset counts the call.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCount++
	return s.ResetErr
}

func (s *Session) Partials() <-chan stt.Transcript { return s.partials }

func (s *Session) Finals() <-chan stt.Transcript { return s.finals }

// SetKeywords always reports [stt.ErrNotSupported].
func (s *Session) SetKeywords([]stt.KeywordBoost) error { return stt.ErrNotSupported }

// Close closes both result channels once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	s.closeLocked()
	return nil
}

// Fail simulates the backend dropping the session.
func (s *Session) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.partials)
		close(s.finals)
	}
}

// Final emits a final transcript. It is a no-op on a closed session.
func (s *Session) Final(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.finals <- stt.Transcript{Text: text, IsFinal: true}
	}
}

// Partial emits an interim transcript.
func (s *Session) Partial(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.partials <- stt.Transcript{Text: text}
	}
}

// Stats returns chunk, reset and close counts under the lock.
func (s *Session) Stats() (chunks, resets, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Audio), s.ResetCount, s.CloseCount
}

// TranscribeCall records one Transcriber.Transcribe invocation.
type TranscribeCall struct {
	PCM        []byte
	SampleRate int
}

// Transcriber is a mock [stt.Transcriber].
//
// TranscribeFunc, when set, decides the result. Otherwise Text and Err are
// returned. When Block is true the call waits for ctx to end.
type Transcriber struct {
	mu sync.Mutex

	Text           string
	Err            error
	Block          bool
	TranscribeFunc func(ctx context.Context, pcm []byte) (stt.Transcript, error)

	Calls []TranscribeCall
}

var _ stt.Transcriber = (*Transcriber)(nil)

// Transcribe records the call and returns the configured result.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (stt.Transcript, error) {
	t.mu.Lock()
	t.Calls = append(t.Calls, TranscribeCall{PCM: slices.Clone(pcm), SampleRate: sampleRate})
	fn, block, text, err := t.TranscribeFunc, t.Block, t.Text, t.Err
	t.mu.Unlock()

	if block {
		<-ctx.Done()
		return stt.Transcript{}, ctx.Err()
	}
	if fn != nil {
		return fn(ctx, pcm)
	}
	if err != nil {
		return stt.Transcript{}, err
	}
	return stt.Transcript{Text: text, IsFinal: true}, nil
}

// CallCount returns len(Calls) under the lock.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// LastCall returns the most recent call and whether there was one.
func (t *Transcriber) LastCall() (TranscribeCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.Calls) == 0 {
		return TranscribeCall{}, false
	}
	return t.Calls[len(t.Calls)-1], true
}
