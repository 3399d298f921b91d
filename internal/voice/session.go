package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/playback"
	"github.com/MrWong99/earshot/internal/recognition"
	"github.com/MrWong99/earshot/internal/recorder"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/audio"
)

// eventBuffer bounds participant events waiting for the input pump.
const eventBuffer = 32

// guildSession is the voice pipeline of one guild.
//
// mu guards the mutable fields. opMu serializes the operations that start or
// stop the engine or swap the connection: StartListening, StopListening,
// the engine steps of a reconnect, and close.
type guildSession struct {
	registry  *Registry
	guildID   string
	channelID string

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	queue   *playback.Queue
	ducker  *playback.Ducker
	tracker *resilience.ErrorTracker
	out     chan audio.AudioFrame
	events  chan audio.Event
	redo    chan struct{}

	opMu sync.Mutex

	mu           sync.Mutex
	state        State
	conn         audio.Connection
	connCancel   context.CancelFunc
	engine       recognition.Engine
	wantListen   bool
	closed       bool
	lastActivity time.Time
	faults       int
}

func newGuildSession(r *Registry, guildID, channelID string) *guildSession {
	ctx, cancel := context.WithCancel(context.Background())
	s := &guildSession{
		registry:     r,
		guildID:      guildID,
		channelID:    channelID,
		ctx:          ctx,
		cancel:       cancel,
		ducker:       playback.NewDucker(guildID, r.tunables),
		tracker:      resilience.NewErrorTracker(guildID, r.tunables),
		out:          make(chan audio.AudioFrame),
		events:       make(chan audio.Event, eventBuffer),
		redo:         make(chan struct{}, 1),
		state:        StateIdle,
		lastActivity: r.now(),
	}
	player := playback.NewPlayer(s.ducker, playback.WithOpener(r.opener))
	s.queue = playback.NewQueue(guildID, player, s.out, r.tunables, playback.WithMetrics(r.metrics))
	return s
}

// State returns the current lifecycle state.
func (s *guildSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *guildSession) transition(to State, cause error) error {
	s.mu.Lock()
	from := s.state
	if err := checkTransition(from, to); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = to
	s.mu.Unlock()

	attrs := []any{"guild_id", s.guildID, "channel_id", s.channelID, "from", from.String(), "to", to.String()}
	if cause != nil {
		slog.Warn("voice: state changed", append(attrs, "error", cause)...)
	} else {
		slog.Info("voice: state changed", attrs...)
	}
	s.registry.notify(s.guildID, from, to, cause)
	return nil
}

func (s *guildSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *guildSession) touch(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
	s.mu.Unlock()
}

func (s *guildSession) connection() audio.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *guildSession) isCurrent(conn audio.Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn == conn && !s.closed
}

// sink returns the engine's sink while listening, or nil.
func (s *guildSession) sink() recognition.Sink {
	s.mu.Lock()
	eng, st := s.engine, s.state
	s.mu.Unlock()
	if eng == nil || st != StateListening {
		return nil
	}
	return eng.CurrentSink()
}

// spawn runs fn under supervision until the session context ends.
func (s *guildSession) spawn(name string, fn func(context.Context) error) {
	ctx := s.ctx
	s.group.Go(func() error {
		return resilience.Supervise(ctx, "voice."+name, fn)
	})
}

// start brings up the background tasks on the first connection.
func (s *guildSession) start(conn audio.Connection) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.isClosed() {
		_ = conn.Disconnect()
		return ErrNotConnected
	}
	s.attach(conn)
	s.spawn("queue", s.queue.Run)
	s.spawn("output", s.pumpOutput)
	s.spawn("keepalive", s.keepalive)
	s.spawn("reconnect", s.monitorReconnect)
	return s.transition(StateConnected, nil)
}

// attach makes conn the session's connection and starts its input pump.
func (s *guildSession) attach(conn audio.Connection) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.conn = conn
	s.connCancel = cancel
	s.lastActivity = s.registry.now()
	s.mu.Unlock()

	conn.OnDecodeFault(func(f audio.DecodeFault) { s.onDecodeFault(conn, f) })
	conn.OnParticipantChange(func(ev audio.Event) { s.onParticipant(conn, ev) })
	s.group.Go(func() error {
		return resilience.Supervise(ctx, "voice.input", func(ctx context.Context) error {
			return s.pumpInput(ctx, conn)
		})
	})
}

// detach stops the input pump and returns the connection, which the caller
// disconnects.
func (s *guildSession) detach() audio.Connection {
	s.mu.Lock()
	conn, cancel := s.conn, s.connCancel
	s.conn, s.connCancel = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return conn
}

func (s *guildSession) startListening(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	st, closed := s.state, s.closed
	if !closed && st == StateReconnecting {
		s.wantListen = true
	}
	s.mu.Unlock()

	switch {
	case closed:
		return ErrNotConnected
	case st == StateListening, st == StateReconnecting:
		return nil
	case st != StateConnected:
		return ErrNotConnected
	}
	if err := s.startEngine(); err != nil {
		return err
	}
	s.mu.Lock()
	s.wantListen = true
	s.mu.Unlock()
	slog.InfoContext(ctx, "voice: listening", "guild_id", s.guildID)
	return s.transition(StateListening, nil)
}

// startEngine starts the session's engine, selecting one first when none is
// held. opMu must be held.
func (s *guildSession) startEngine() error {
	s.mu.Lock()
	eng := s.engine
	s.mu.Unlock()

	if eng == nil {
		if s.registry.engines == nil {
			return recognition.ErrEngineUnavailable
		}
		e, err := s.registry.engines.Select(s.guildID)
		if err != nil {
			return err
		}
		eng = e
	}
	err := eng.StartListening(s.ctx, s.onTranscript)
	if err != nil && !errors.Is(err, recognition.ErrAlreadyListening) {
		return fmt.Errorf("voice: start %s engine: %w", eng.Name(), err)
	}
	s.mu.Lock()
	s.engine = eng
	s.mu.Unlock()
	return nil
}

func (s *guildSession) stopListening(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	st, eng := s.state, s.engine
	s.wantListen = false
	if st == StateListening || st == StateReconnecting {
		s.engine = nil
	}
	s.mu.Unlock()

	if st != StateListening {
		return nil
	}
	var err error
	if eng != nil {
		if err = eng.StopListening(ctx); err != nil {
			err = fmt.Errorf("voice: stop %s engine: %w", eng.Name(), err)
		}
	}
	s.ducker.Reset()
	if terr := s.transition(StateConnected, nil); terr != nil {
		return errors.Join(err, terr)
	}
	slog.InfoContext(ctx, "voice: stopped listening", "guild_id", s.guildID)
	return err
}

// onTranscript matches finalized text, queues the selected sounds and hands
// the transcript to the recorder.
func (s *guildSession) onTranscript(userID, text string) {
	r := s.registry
	now := r.now()
	s.touch(now)

	matches := r.matcher.Match(s.guildID, userID, text, now)
	phrases := make([]string, 0, len(matches))
	for _, m := range matches {
		phrases = append(phrases, m.Phrase)
		req := playback.NewRequest(s.guildID, m.Sound, m.Phrase, userID, now)
		if err := s.queue.Enqueue(req); err != nil {
			slog.Warn("voice: dropping matched sound",
				"guild_id", s.guildID,
				"sound", m.Sound.Title,
				"phrase", m.Phrase,
				"error", err,
			)
		}
	}
	if len(matches) > 0 {
		r.metrics.TriggersMatched.Add(s.ctx, int64(len(matches)))
		slog.Debug("voice: triggers matched", "guild_id", s.guildID, "user_id", userID, "phrases", phrases)
	}

	ev := recorder.NewEvent(s.guildID, userID, text, phrases, now)
	if err := r.recorder.Record(s.ctx, ev); err != nil {
		slog.Warn("voice: record transcript", "guild_id", s.guildID, "error", err)
	}
}

func (s *guildSession) onDecodeFault(conn audio.Connection, f audio.DecodeFault) {
	if !s.isCurrent(conn) {
		return
	}
	s.registry.metrics.DecodeFaults.Add(s.ctx, 1)
	at := f.At
	if at.IsZero() {
		at = s.registry.now()
	}
	v := s.tracker.Record(at)

	s.mu.Lock()
	s.faults = v.Count
	s.mu.Unlock()

	if v.Log {
		slog.Warn("voice: decode faults",
			"guild_id", s.guildID,
			"user_id", f.UserID,
			"count", v.Count,
			"error", f.Err,
		)
	}
	if v.Reconnect {
		slog.Warn("voice: decode fault threshold exceeded, reconnecting", "guild_id", s.guildID, "channel_id", s.channelID)
		s.requestReconnect()
	}
}

func (s *guildSession) onParticipant(conn audio.Connection, ev audio.Event) {
	if !s.isCurrent(conn) {
		return
	}
	s.touch(s.registry.now())
	select {
	case s.events <- ev:
	default:
		slog.Debug("voice: participant event dropped", "guild_id", s.guildID, "user_id", ev.UserID)
	}
}

// requestReconnect schedules a reconnect unless one is already pending.
func (s *guildSession) requestReconnect() {
	select {
	case s.redo <- struct{}{}:
	default:
	}
}

func (s *guildSession) status() Status {
	s.mu.Lock()
	st := Status{
		GuildID:      s.guildID,
		ChannelID:    s.channelID,
		State:        s.state,
		DecodeFaults: s.faults,
		LastActivity: s.lastActivity,
	}
	if s.engine != nil {
		st.Engine = s.engine.Name()
	}
	s.mu.Unlock()

	st.Speaking = s.ducker.Speaking()
	st.Queued = s.queue.Len()
	if req, ok := s.queue.Playing(); ok {
		st.NowPlaying = req.Sound.Title
	}
	return st
}

// close releases everything the session owns. It is idempotent; only the
// first call reports errors.
func (s *guildSession) close(ctx context.Context, cause error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// Abort a pending connect or reconnect wait before taking opMu.
	s.cancel()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	var errs []error
	s.mu.Lock()
	eng := s.engine
	s.engine = nil
	s.mu.Unlock()
	if eng != nil {
		if err := eng.StopListening(ctx); err != nil {
			errs = append(errs, fmt.Errorf("voice: stop %s engine: %w", eng.Name(), err))
		}
	}

	s.queue.Close()
	conn := s.detach()

	done := make(chan struct{})
	go func() {
		_ = s.group.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("voice: wait for session tasks: %w", ctx.Err()))
	}

	if conn != nil {
		if err := conn.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("voice: disconnect: %w", err))
		}
	}
	s.registry.matcher.ForgetGuild(s.guildID)
	s.ducker.Reset()
	s.tracker.Reset()

	if err := s.transition(StateDisconnected, cause); err != nil {
		errs = append(errs, err)
	}
	s.registry.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	return errors.Join(errs...)
}
