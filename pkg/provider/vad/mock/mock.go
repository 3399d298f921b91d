// Package mock provides test doubles for the vad package interfaces.
//
// Session replays Events in order and then keeps returning Default:
//
//	sess := &mock.Session{Events: []vad.VADEvent{{Type: vad.VADSpeechStart}}}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Engine is a mock [vad.Engine].
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. Nil yields a fresh silent Session.
	Session vad.SessionHandle

	NewSessionErr error

	Configs []vad.Config
}

var _ vad.Engine = (*Engine)(nil)

// NewSession records cfg and returns Session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Configs = append(e.Configs, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{Default: vad.VADEvent{Type: vad.VADSilence}}, nil
}

// Session is a scripted [vad.SessionHandle].
type Session struct {
	mu sync.Mutex

	Events  []vad.VADEvent
	Default vad.VADEvent
	Err     error

	Frames     int
	ResetCount int
	Closed     bool
}

var _ vad.SessionHandle = (*Session)(nil)

// ProcessFrame pops the next scripted event.
func (s *Session) ProcessFrame([]byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames++
	if s.Err != nil {
		return vad.VADEvent{}, s.Err
	}
	if len(s.Events) == 0 {
		return s.Default, nil
	}
	ev := s.Events[0]
	s.Events = s.Events[1:]
	return ev, nil
}

func (s *Session) Reset() {
	s.mu.Lock()
	s.ResetCount++
	s.mu.Unlock()
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.Closed = true
	s.mu.Unlock()
	return nil
}
