package voice_test

import (
	"context"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/catalog"
	"github.com/MrWong99/earshot/internal/playback"
	"github.com/MrWong99/earshot/internal/recognition"
	recmock "github.com/MrWong99/earshot/internal/recorder/mock"
	"github.com/MrWong99/earshot/internal/settings"
	"github.com/MrWong99/earshot/internal/voice"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/mock"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// stubEngine is a recognition engine that is its own sink. Tests push
// transcripts with emit.
type stubEngine struct {
	mu        sync.Mutex
	listening bool
	onResult  recognition.ResultFunc
	starts    int
	stops     int
	writes    int
	ends      []string
	forgets   []string
}

var _ recognition.Engine = (*stubEngine)(nil)

func (e *stubEngine) Name() string { return "stub" }

func (e *stubEngine) StartListening(_ context.Context, fn recognition.ResultFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listening {
		return recognition.ErrAlreadyListening
	}
	e.starts++
	e.listening = true
	e.onResult = fn
	return nil
}

func (e *stubEngine) StopListening(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listening {
		e.stops++
	}
	e.listening = false
	e.onResult = nil
	return nil
}

func (e *stubEngine) CurrentSink() recognition.Sink {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.listening {
		return nil
	}
	return e
}

func (e *stubEngine) Write(string, audio.AudioFrame) {
	e.mu.Lock()
	e.writes++
	e.mu.Unlock()
}

func (e *stubEngine) EndOfSpeech(userID string) {
	e.mu.Lock()
	e.ends = append(e.ends, userID)
	e.mu.Unlock()
}

func (e *stubEngine) Forget(userID string) {
	e.mu.Lock()
	e.forgets = append(e.forgets, userID)
	e.mu.Unlock()
}

func (e *stubEngine) emit(userID, text string) bool {
	e.mu.Lock()
	fn := e.onResult
	e.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(userID, text)
	return true
}

func (e *stubEngine) counts() (starts, stops, writes int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts, e.stops, e.writes
}

func (e *stubEngine) ended() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.ends)
}

func (e *stubEngine) forgotten() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.forgets)
}

type selectFunc func(guildID string) (recognition.Engine, error)

func (f selectFunc) Select(guildID string) (recognition.Engine, error) { return f(guildID) }

// fakeOpener records opened paths in order. Each stream is one silent frame.
// While gate is non-nil, open blocks until it is closed.
type fakeOpener struct {
	mu     sync.Mutex
	paths  []string
	opened chan string
	gate   chan struct{}
}

func newOpener() *fakeOpener {
	return &fakeOpener{opened: make(chan string, 64)}
}

func (o *fakeOpener) open(path string) (playback.Stream, error) {
	o.mu.Lock()
	o.paths = append(o.paths, path)
	gate := o.gate
	o.mu.Unlock()
	o.opened <- path
	if gate != nil {
		<-gate
	}
	return &oneFrame{}, nil
}

func (o *fakeOpener) wait(t *testing.T) string {
	t.Helper()
	select {
	case p := <-o.opened:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for playback")
		return ""
	}
}

type oneFrame struct{ done bool }

func (s *oneFrame) Next() (audio.AudioFrame, error) {
	if s.done {
		return audio.AudioFrame{}, io.EOF
	}
	s.done = true
	return audio.Silence(audio.NativeFormat, audio.FrameDuration), nil
}

func (*oneFrame) Close() error { return nil }

// change is one observed state transition.
type change struct {
	guild    string
	from, to voice.State
	err      error
}

type watcher struct {
	mu      sync.Mutex
	changes []change
}

func (w *watcher) record(guildID string, from, to voice.State, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.changes = append(w.changes, change{guildID, from, to, err})
}

func (w *watcher) states() []voice.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]voice.State, len(w.changes))
	for i, c := range w.changes {
		out[i] = c.to
	}
	return out
}

func (w *watcher) last() (change, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.changes) == 0 {
		return change{}, false
	}
	return w.changes[len(w.changes)-1], true
}

type harness struct {
	reg      *voice.Registry
	platform *mock.Platform
	conn     *mock.Connection
	engine   *stubEngine
	opener   *fakeOpener
	rec      *recmock.Recorder
	watch    *watcher
}

type options struct {
	settings map[string]any
	sounds   []catalog.Sound
	vad      vad.Engine
}

func newHarness(t *testing.T, o options) *harness {
	t.Helper()
	store, err := settings.New(o.settings, nil)
	if err != nil {
		t.Fatalf("settings.New: %v", err)
	}
	cat, err := catalog.New(o.sounds)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	h := &harness{
		conn:   mock.NewConnection("alice"),
		engine: &stubEngine{},
		opener: newOpener(),
		rec:    &recmock.Recorder{},
		watch:  &watcher{},
	}
	h.platform = &mock.Platform{ConnectResult: h.conn}
	h.reg = voice.NewRegistry(voice.Config{
		Platform: h.platform,
		Settings: store,
		Catalog:  catalog.NewStore(cat),
		Engines:  selectFunc(func(string) (recognition.Engine, error) { return h.engine, nil }),
		Recorder: h.rec,
		VAD:      o.vad,
		Opener:   h.opener.open,
	})
	h.reg.OnStateChange(h.watch.record)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.reg.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return h
}

func (h *harness) connect(t *testing.T, listen bool) {
	t.Helper()
	ctx := context.Background()
	if err := h.reg.Connect(ctx, "g1", "voice-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if listen {
		if err := h.reg.StartListening(ctx, "g1"); err != nil {
			t.Fatalf("StartListening: %v", err)
		}
	}
}

func (h *harness) state(guildID string) voice.State {
	st, ok := h.reg.Status(guildID)
	if !ok {
		return voice.StateDisconnected
	}
	return st.State
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func speech() audio.AudioFrame {
	f := audio.Silence(audio.NativeFormat, audio.FrameDuration)
	for i := 0; i < len(f.Data); i += 2 {
		f.Data[i+1] = 0x20
	}
	return f
}

func sound(title string, triggers ...string) catalog.Sound {
	return catalog.Sound{Title: title, Path: title + ".wav", Triggers: triggers}
}
