package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// Streaming is the low-latency [Engine]. Each speaking user gets one
// streaming session, opened in the background on their first frame. Frames
// written while the session opens are held and sent once it is up; after
// that audio is sent inline from [Sink.Write]. A reader goroutine per
// session forwards final results.
//
// Recognizer state is reset after every final result so one utterance never
// bleeds into the next. Sessions implementing [stt.Resetter] are reset in
// place; others are closed and reopened on the next frame. Any send error, a
// failed reset or a session the backend dropped forces the same reset.
type Streaming struct {
	guildID  string
	provider stt.Provider
	opts     options

	mu        sync.Mutex
	listening bool
	ctx       context.Context
	cancel    context.CancelFunc
	onResult  ResultFunc
	users     map[string]*streamUser
	wg        sync.WaitGroup
}

// maxPendingFrames bounds the audio held while a session opens. Older
// frames are dropped first.
const maxPendingFrames = 50

type streamUser struct {
	id   string
	conv audio.FormatConverter

	mu      sync.Mutex
	handle  stt.SessionHandle
	opening bool
	pending [][]byte
	closed  bool
}

var (
	_ Engine = (*Streaming)(nil)
	_ Sink   = (*Streaming)(nil)
)

// NewStreaming returns a stopped streaming engine for guildID.
func NewStreaming(guildID string, p stt.Provider, opts ...Option) *Streaming {
	return &Streaming{
		guildID:  guildID,
		provider: p,
		opts:     buildOptions(opts),
	}
}

// Name implements [Engine].
func (s *Streaming) Name() string { return "streaming" }

// StartListening implements [Engine].
func (s *Streaming) StartListening(ctx context.Context, onResult ResultFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listening {
		return ErrAlreadyListening
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.onResult = onResult
	s.users = make(map[string]*streamUser)
	s.listening = true
	slog.Info("recognition: listening", "guild_id", s.guildID, "engine", s.Name())
	return nil
}

// StopListening implements [Engine].
func (s *Streaming) StopListening(ctx context.Context) error {
	s.mu.Lock()
	if !s.listening {
		s.mu.Unlock()
		return nil
	}
	s.listening = false
	s.cancel()
	users := s.users
	s.users = nil
	s.mu.Unlock()

	for _, u := range users {
		u.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("recognition: stopped", "guild_id", s.guildID, "engine", s.Name())
		return nil
	case <-ctx.Done():
		return fmt.Errorf("recognition: stop streaming: %w", ctx.Err())
	}
}

// CurrentSink implements [Engine].
func (s *Streaming) CurrentSink() Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.listening {
		return nil
	}
	return s
}

// Write implements [Sink]. It never waits for a session to open.
func (s *Streaming) Write(userID string, frame audio.AudioFrame) {
	u, ctx, onResult := s.user(userID)
	if u == nil {
		return
	}
	pcm := u.conv.Convert(frame).Data
	if len(pcm) == 0 {
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return
	}
	if u.handle == nil {
		u.pending = append(u.pending, slices.Clone(pcm))
		if len(u.pending) > maxPendingFrames {
			u.pending = u.pending[1:]
		}
		if !u.opening {
			u.opening = s.spawn(func() { s.open(ctx, u, onResult) })
		}
		return
	}
	if err := u.handle.SendAudio(pcm); err != nil {
		s.fault(userID, fmt.Errorf("send audio: %w", err))
		s.dropLocked(u)
	}
}

// open dials a session for u and flushes the audio held meanwhile. A
// session that opens after u was closed is closed right away.
func (s *Streaming) open(ctx context.Context, u *streamUser, onResult ResultFunc) {
	h, err := s.provider.StartStream(ctx, stt.StreamConfig{
		SampleRate: RecognitionFormat.SampleRate,
		Channels:   RecognitionFormat.Channels,
	})

	u.mu.Lock()
	defer u.mu.Unlock()
	u.opening = false
	pending := u.pending
	u.pending = nil
	if err != nil {
		if ctx.Err() == nil && !u.closed {
			s.fault(u.id, fmt.Errorf("open session: %w", err))
		}
		return
	}
	if u.closed {
		_ = h.Close()
		return
	}
	u.handle = h
	if !s.startReader(ctx, u, h, onResult) {
		s.dropLocked(u)
		return
	}
	for _, pcm := range pending {
		if err := h.SendAudio(pcm); err != nil {
			s.fault(u.id, fmt.Errorf("send audio: %w", err))
			s.dropLocked(u)
			return
		}
	}
}

// EndOfSpeech implements [Sink]. Streaming backends detect silence on their
// own, so this is a no-op.
func (s *Streaming) EndOfSpeech(string) {}

// Forget implements [Sink].
func (s *Streaming) Forget(userID string) {
	s.mu.Lock()
	u := s.users[userID]
	delete(s.users, userID)
	s.mu.Unlock()
	if u != nil {
		u.close()
	}
}

func (s *Streaming) user(userID string) (*streamUser, context.Context, ResultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.listening {
		return nil, nil, nil
	}
	u, ok := s.users[userID]
	if !ok {
		u = &streamUser{id: userID, conv: audio.FormatConverter{Target: RecognitionFormat}}
		s.users[userID] = u
	}
	return u, s.ctx, s.onResult
}

// spawn runs fn on the engine's wait group unless listening has stopped.
// Checking under s.mu keeps every Add ahead of the Wait in StopListening.
func (s *Streaming) spawn(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.listening {
		return false
	}
	s.wg.Go(fn)
	return true
}

func (s *Streaming) startReader(ctx context.Context, u *streamUser, h stt.SessionHandle, onResult ResultFunc) bool {
	return s.spawn(func() {
		_ = resilience.Supervise(ctx, "recognition.streaming."+u.id, func(ctx context.Context) error {
			s.readFinals(ctx, u, h, onResult)
			return nil
		})
	})
}

// readFinals forwards final results from h until it closes. Partials are
// drained and discarded.
func (s *Streaming) readFinals(ctx context.Context, u *streamUser, h stt.SessionHandle, onResult ResultFunc) {
	partials, finals := h.Partials(), h.Finals()
	for partials != nil || finals != nil {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-partials:
			if !ok {
				partials = nil
			}
		case tr, ok := <-finals:
			if !ok {
				finals = nil
				u.mu.Lock()
				if u.handle == h {
					s.fault(u.id, errors.New("session closed by backend"))
					s.dropLocked(u)
				}
				u.mu.Unlock()
				continue
			}
			if text := strings.TrimSpace(tr.Text); text != "" {
				s.opts.metrics.RecordTranscript(ctx, s.Name())
				onResult(u.id, text)
			}
			s.reset(u, h)
		}
	}
}

// reset clears recognizer state after a final result.
func (s *Streaming) reset(u *streamUser, h stt.SessionHandle) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.handle != h {
		return
	}
	r, ok := h.(stt.Resetter)
	if !ok {
		s.dropLocked(u)
		return
	}
	if err := r.Reset(); err != nil {
		s.fault(u.id, fmt.Errorf("reset: %w", err))
		s.dropLocked(u)
	}
}

// dropLocked closes the current session so the next frame opens a fresh
// one. u.mu must be held.
func (s *Streaming) dropLocked(u *streamUser) {
	if u.handle == nil {
		return
	}
	h := u.handle
	u.handle = nil
	if err := h.Close(); err != nil {
		slog.Debug("recognition: close session", "guild_id", s.guildID, "user_id", u.id, "error", err)
	}
}

func (s *Streaming) fault(userID string, err error) {
	s.opts.metrics.RecordRecognizerFault(context.Background(), s.Name())
	slog.Warn("recognition: recognizer fault, resetting",
		"guild_id", s.guildID,
		"user_id", userID,
		"engine", s.Name(),
		"error", fmt.Errorf("%w: %w", ErrRecognizerFault, err),
	)
}

func (u *streamUser) close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	u.pending = nil
	if u.handle != nil {
		_ = u.handle.Close()
		u.handle = nil
	}
}
