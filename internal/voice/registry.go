// Package voice owns the per-guild voice pipeline.
//
// A [Registry] holds one session per guild. Each session owns the guild's
// connection, its recognition engine, its playback queue with ducking, and
// its decode-fault tracker. The session's background tasks are supervised
// and cancelled as a unit on disconnect:
//
//   - queue consumer
//   - output pump that forwards playback to the current connection
//   - input pump that runs speaking detection and feeds the engine
//   - keepalive and idle watcher
//   - reconnect monitor
//
// Inbound audio flows into the engine; finalized text goes through the
// trigger matcher into the playback queue and out to the transcript
// recorder. Decode faults past the configured threshold trigger exactly one
// reconnect at a time.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/catalog"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/playback"
	"github.com/MrWong99/earshot/internal/recognition"
	"github.com/MrWong99/earshot/internal/recorder"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/internal/settings"
	"github.com/MrWong99/earshot/internal/trigger"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// ErrShutdown is returned by Connect after [Registry.Shutdown].
var ErrShutdown = errors.New("voice: registry shut down")

// maxReconnectBackoff caps the doubling delay between reconnect attempts.
const maxReconnectBackoff = 30 * time.Second

// Tunables supplies per-guild settings. *settings.Store satisfies it.
type Tunables interface {
	Float(name, guildID string) float64
	Int(name, guildID string) int
	Duration(name, guildID string) time.Duration
	String(name, guildID string) string
}

// EngineSelector builds the recognition engine for a guild.
// *recognition.Selector satisfies it.
type EngineSelector interface {
	Select(guildID string) (recognition.Engine, error)
}

// StateFunc observes session state changes. err is set when the change was
// caused by a failure, such as [ErrReconnectExhausted].
type StateFunc func(guildID string, from, to State, err error)

// Config holds the collaborators of a [Registry]. Platform and Settings are
// required.
type Config struct {
	Platform audio.Platform
	Settings Tunables

	// Catalog resolves sound references. Nil behaves as an empty catalog.
	Catalog *catalog.Store

	// Matcher defaults to a matcher over Catalog.
	Matcher *trigger.Matcher

	// Engines is required for StartListening.
	Engines EngineSelector

	// Recorder receives one event per finalized transcript. Defaults to
	// [recorder.Nop].
	Recorder recorder.Recorder

	// VAD classifies inbound frames. Nil treats every received packet as
	// speech, relying on the platform not sending audio during silence.
	VAD vad.Engine

	// Opener opens sound files. Defaults to [playback.Open].
	Opener playback.Opener

	Metrics *observe.Metrics

	// Now replaces time.Now for activity, trigger history and fault
	// tracking.
	Now func() time.Time
}

// Status is a snapshot of one guild session.
type Status struct {
	GuildID      string
	ChannelID    string
	State        State
	Engine       string
	Speaking     int
	Queued       int
	NowPlaying   string
	DecodeFaults int
	LastActivity time.Time
}

// Registry owns every guild session.
//
// All methods are safe for concurrent use. Operations on different guilds
// never block each other.
type Registry struct {
	platform audio.Platform
	tunables Tunables
	catalog  *catalog.Store
	matcher  *trigger.Matcher
	engines  EngineSelector
	recorder recorder.Recorder
	vad      vad.Engine
	opener   playback.Opener
	metrics  *observe.Metrics
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*guildSession
	closed   bool

	hookMu sync.RWMutex
	hook   StateFunc

	cancel context.CancelFunc
	group  errgroup.Group
}

// NewRegistry returns a registry and starts its trigger-history sweep.
// Call [Registry.Shutdown] to release it.
func NewRegistry(cfg Config) *Registry {
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.NewStore(nil)
	}
	if cfg.Matcher == nil {
		cfg.Matcher = trigger.NewMatcher(cfg.Catalog, cfg.Settings)
	}
	if cfg.Recorder == nil {
		cfg.Recorder = recorder.Nop{}
	}
	if cfg.Opener == nil {
		cfg.Opener = playback.Open
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		platform: cfg.Platform,
		tunables: cfg.Settings,
		catalog:  cfg.Catalog,
		matcher:  cfg.Matcher,
		engines:  cfg.Engines,
		recorder: cfg.Recorder,
		vad:      cfg.VAD,
		opener:   cfg.Opener,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		sessions: make(map[string]*guildSession),
		cancel:   cancel,
	}
	r.group.Go(func() error {
		return resilience.Supervise(ctx, "voice.sweep", r.sweep)
	})
	return r
}

// OnStateChange registers fn for every session state change. Subsequent
// calls replace the previous registration. fn must not block.
func (r *Registry) OnStateChange(fn StateFunc) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.hook = fn
}

func (r *Registry) notify(guildID string, from, to State, err error) {
	r.hookMu.RLock()
	fn := r.hook
	r.hookMu.RUnlock()
	if fn != nil {
		fn(guildID, from, to, err)
	}
}

// Connect joins channelID in guildID. A guild already connected to the same
// channel is left alone; one connected elsewhere is moved.
//
// The join is bounded by session.connect_timeout. It fails with an error
// wrapping [ErrChannelUnavailable] or [ErrConnectTimeout]; in either case no
// session remains.
func (r *Registry) Connect(ctx context.Context, guildID, channelID string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrShutdown
	}
	if s, ok := r.sessions[guildID]; ok {
		r.mu.Unlock()
		if s.channelID == channelID {
			return nil
		}
		slog.Info("voice: moving to another channel", "guild_id", guildID, "from", s.channelID, "to", channelID)
		if err := r.Disconnect(ctx, guildID); err != nil && !errors.Is(err, ErrNotConnected) {
			return err
		}
		return r.Connect(ctx, guildID, channelID)
	}
	s := newGuildSession(r, guildID, channelID)
	r.sessions[guildID] = s
	r.mu.Unlock()
	r.metrics.ActiveSessions.Add(ctx, 1)

	if err := s.transition(StateConnecting, nil); err != nil {
		return err
	}

	timeout := r.tunables.Duration(settings.SessionConnectTimeout, guildID)
	cctx, cancel := context.WithTimeout(ctx, timeout)
	stop := context.AfterFunc(s.ctx, cancel)
	conn, err := r.platform.Connect(cctx, channelID)
	stop()
	cancel()

	if err != nil {
		switch {
		case errors.Is(err, ErrChannelUnavailable):
			err = fmt.Errorf("voice: connect %s: %w", channelID, err)
		case ctx.Err() == nil && s.ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded):
			err = fmt.Errorf("%w: channel %s after %s", ErrConnectTimeout, channelID, timeout)
		default:
			err = fmt.Errorf("voice: connect %s: %w", channelID, err)
		}
		r.remove(s, err)
		return err
	}
	return s.start(conn)
}

// Disconnect leaves the guild's channel and releases every resource the
// session owns. It returns [ErrNotConnected] for unknown guilds.
func (r *Registry) Disconnect(ctx context.Context, guildID string) error {
	r.mu.Lock()
	s, ok := r.sessions[guildID]
	delete(r.sessions, guildID)
	r.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	return s.close(ctx, nil)
}

// remove drops s from the registry and closes it. It is used for internal
// teardown, where no caller context exists.
func (r *Registry) remove(s *guildSession, cause error) {
	r.mu.Lock()
	if r.sessions[s.guildID] == s {
		delete(r.sessions, s.guildID)
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.close(ctx, cause); err != nil {
		slog.Warn("voice: teardown", "guild_id", s.guildID, "error", err)
	}
}

// StartListening selects and starts the recognition engine for guildID.
// Calling it while already listening is a no-op.
func (r *Registry) StartListening(ctx context.Context, guildID string) error {
	s, ok := r.session(guildID)
	if !ok {
		return ErrNotConnected
	}
	return s.startListening(ctx)
}

// StopListening stops recognition for guildID. It is a no-op for guilds
// that are not listening, including guilds without a session.
func (r *Registry) StopListening(ctx context.Context, guildID string) error {
	s, ok := r.session(guildID)
	if !ok {
		return nil
	}
	return s.stopListening(ctx)
}

// EnqueueSound queues the sound named by soundRef. The reference is matched
// against titles first, then against triggers.
func (r *Registry) EnqueueSound(ctx context.Context, guildID, soundRef, requestedBy string) (playback.Request, error) {
	s, ok := r.session(guildID)
	if !ok || !s.State().Active() {
		return playback.Request{}, ErrNotConnected
	}
	snd, ok := r.resolve(soundRef)
	if !ok {
		return playback.Request{}, fmt.Errorf("%w: %q", ErrUnknownSound, soundRef)
	}
	now := r.now()
	req := playback.NewRequest(guildID, snd, "", requestedBy, now)
	if err := s.queue.Enqueue(req); err != nil {
		return playback.Request{}, fmt.Errorf("voice: enqueue %q: %w", snd.Title, err)
	}
	s.touch(now)
	slog.DebugContext(ctx, "voice: sound queued", "guild_id", guildID, "sound", snd.Title, "requested_by", requestedBy)
	return req, nil
}

func (r *Registry) resolve(ref string) (catalog.Sound, bool) {
	cat := r.catalog.Current()
	if snd, ok := cat.ByTitle(ref); ok {
		return snd, true
	}
	words := catalog.Words(ref)
	var sounds []catalog.Sound
	switch len(words) {
	case 0:
	case 1:
		sounds = cat.LookupByTrigger(words[0])
	default:
		sounds = cat.LookupByPhrase(strings.Join(words, " "))
	}
	if len(sounds) == 0 {
		return catalog.Sound{}, false
	}
	return sounds[rand.IntN(len(sounds))], true
}

// ClearQueue drops the guild's pending sounds and returns how many were
// dropped.
func (r *Registry) ClearQueue(guildID string) (int, error) {
	s, ok := r.session(guildID)
	if !ok {
		return 0, ErrNotConnected
	}
	return s.queue.Clear(), nil
}

// Status returns a snapshot of the guild's session.
func (r *Registry) Status(guildID string) (Status, bool) {
	s, ok := r.session(guildID)
	if !ok {
		return Status{}, false
	}
	return s.status(), true
}

// Guilds returns the IDs of all guilds with a session, sorted.
func (r *Registry) Guilds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.sessions))
}

// Shutdown closes every session in parallel and stops the sweep. Later
// Connect calls fail with [ErrShutdown].
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sessions := slices.Collect(maps.Values(r.sessions))
	clear(r.sessions)
	r.mu.Unlock()

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, s := range sessions {
		wg.Go(func() {
			if err := s.close(ctx, nil); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("guild %s: %w", s.guildID, err))
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	r.cancel()
	_ = r.group.Wait()
	return errors.Join(errs...)
}

func (r *Registry) session(guildID string) (*guildSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[guildID]
	return s, ok
}

// sweep expires stale trigger history every trigger.sweep_interval.
func (r *Registry) sweep(ctx context.Context) error {
	t := time.NewTimer(r.tunables.Duration(settings.TriggerSweepInterval, ""))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if n := r.matcher.Sweep(r.now()); n > 0 {
			slog.Debug("voice: expired trigger history", "users", n)
		}
		t.Reset(r.tunables.Duration(settings.TriggerSweepInterval, ""))
	}
}
