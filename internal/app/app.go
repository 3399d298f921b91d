// Package app wires all Earshot subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the settings store, the
// sound catalog, the transcript recorders, the recognition engine selector
// and the voice registry; Run serves the observability endpoints until the
// context ends; Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithCatalog,
// WithRecorder, WithOpener). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/earshot/internal/catalog"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/playback"
	"github.com/MrWong99/earshot/internal/recognition"
	"github.com/MrWong99/earshot/internal/recorder"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/internal/settings"
	"github.com/MrWong99/earshot/internal/voice"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// ErrCatalogNotLoaded is reported by the readiness check until a catalog is
// loaded.
var ErrCatalogNotLoaded = errors.New("app: sound catalog not loaded")

// NamedTranscriber is one batch recognizer with its config name.
type NamedTranscriber struct {
	Name        string
	Transcriber stt.Transcriber
}

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	STT          stt.Provider
	Transcribers []NamedTranscriber // failover order
	VAD          vad.Engine
	Audio        audio.Platform
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	settings *settings.Store
	catalog  *catalog.Store
	selector *recognition.Selector
	registry *voice.Registry
	metrics  *observe.Metrics
	scrape   http.Handler

	recorder recorder.Recorder
	async    *recorder.Async
	postgres *recorder.PostgresRecorder

	opener    playback.Opener
	checkers  []health.Checker
	logLevel  *slog.LevelVar
	watchPath string
	watchers  []interface{ Stop() }

	server *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCatalog uses c instead of loading catalog.path. The file is not
// watched.
func WithCatalog(c *catalog.Catalog) Option {
	return func(a *App) { a.catalog = catalog.NewStore(c) }
}

// WithRecorder records transcripts to r instead of the configured sinks.
func WithRecorder(r recorder.Recorder) Option {
	return func(a *App) { a.recorder = r }
}

// WithOpener replaces the sound file opener used for playback.
func WithOpener(o playback.Opener) Option {
	return func(a *App) { a.opener = o }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTelemetry records on the metrics installed by [observe.InitProvider]
// and serves its registry at /metrics.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) {
		a.metrics = t.Metrics
		a.scrape = t.Handler()
	}
}

// WithCheckers adds readiness checks, such as the Discord gateway.
func WithCheckers(cs ...health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, cs...) }
}

// WithConfigReload watches path and applies log level and settings changes
// live. level is adjusted when server.log_level changes.
func WithConfigReload(path string, level *slog.LevelVar) Option {
	return func(a *App) {
		a.watchPath = path
		a.logLevel = level
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if providers == nil || providers.Audio == nil {
		return nil, errors.New("app: an audio platform is required")
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Settings ──────────────────────────────────────────────────────
	s, err := settings.New(cfg.Settings.Defaults, cfg.Settings.Guilds)
	if err != nil {
		return nil, fmt.Errorf("app: init settings: %w", err)
	}
	a.settings = s

	// ── 2. Sound catalog ─────────────────────────────────────────────────
	if err := a.initCatalog(); err != nil {
		a.stopWatchers()
		return nil, fmt.Errorf("app: init catalog: %w", err)
	}

	// ── 3. Transcript recorder ───────────────────────────────────────────
	if err := a.initRecorder(ctx); err != nil {
		a.stopWatchers()
		return nil, fmt.Errorf("app: init recorder: %w", err)
	}

	// ── 4. Recognition engines ───────────────────────────────────────────
	a.initSelector()

	// ── 5. Voice registry ────────────────────────────────────────────────
	a.registry = voice.NewRegistry(voice.Config{
		Platform: providers.Audio,
		Settings: a.settings,
		Catalog:  a.catalog,
		Engines:  a.selector,
		Recorder: a.recorder,
		VAD:      providers.VAD,
		Opener:   a.opener,
		Metrics:  a.metrics,
	})

	// ── 6. Config reload ─────────────────────────────────────────────────
	if a.watchPath != "" {
		w, err := config.NewConfigWatcher(a.watchPath, a.reload)
		if err != nil {
			slog.Warn("app: config reload disabled", "path", a.watchPath, "err", err)
		} else {
			a.watchers = append(a.watchers, w)
		}
	}

	slog.Info("app: initialised",
		"sounds", a.catalog.Current().Len(),
		"engines", a.selector.Names(),
		"vad", providers.VAD != nil,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCatalog loads the sound catalog and starts watching its file.
func (a *App) initCatalog() error {
	if a.catalog != nil {
		return nil
	}
	a.catalog = catalog.NewStore(nil)

	soundsDir := a.cfg.Catalog.SoundsDir
	if soundsDir == "" {
		soundsDir = filepath.Dir(a.cfg.Catalog.Path)
	}
	parse := func(data []byte) (*catalog.Catalog, error) {
		return catalog.Parse(data, soundsDir)
	}
	w, err := config.NewWatcher(a.cfg.Catalog.Path, parse, func(_, c *catalog.Catalog) {
		a.catalog.Swap(c)
		slog.Info("app: catalog reloaded", "sounds", c.Len())
	})
	if err != nil {
		return err
	}
	a.catalog.Swap(w.Current())
	a.watchers = append(a.watchers, w)
	return nil
}

// initRecorder builds the configured transcript sinks behind an async queue.
func (a *App) initRecorder(ctx context.Context) error {
	if a.recorder != nil {
		return nil
	}
	rc := a.cfg.Recorder

	var sinks []recorder.Recorder
	if rc.Log {
		sinks = append(sinks, recorder.NewLogRecorder(slog.Default()))
	}
	if rc.File != "" {
		f, err := recorder.OpenFile(rc.File)
		if err != nil {
			return err
		}
		sinks = append(sinks, f)
		a.closers = append(a.closers, f.Close)
	}
	if rc.PostgresDSN != "" {
		pg, err := recorder.NewPostgres(ctx, rc.PostgresDSN)
		if err != nil {
			a.runClosers()
			return err
		}
		a.postgres = pg
		sinks = append(sinks, pg)
		a.closers = append(a.closers, func() error {
			pg.Close()
			return nil
		})
	}

	if len(sinks) == 0 {
		a.recorder = recorder.Nop{}
		return nil
	}
	a.async = recorder.NewAsync(recorder.Multi(sinks...), rc.Buffer)
	a.recorder = a.async
	return nil
}

// initSelector registers the streaming and buffered engine factories.
// The default engine is the streaming one when a streaming recognizer is
// configured and the buffered one otherwise.
func (a *App) initSelector() {
	defaultName := "streaming"
	if a.providers.STT == nil && len(a.providers.Transcribers) > 0 {
		defaultName = "buffered"
	}
	a.selector = recognition.NewSelector(a.settings, defaultName)

	a.selector.Register("streaming", func(guildID string) (recognition.Engine, error) {
		if a.providers.STT == nil {
			return nil, fmt.Errorf("%w: no streaming recognizer configured", recognition.ErrEngineUnavailable)
		}
		return recognition.NewStreaming(guildID, a.providers.STT, recognition.WithMetrics(a.metrics)), nil
	})

	transcriber := a.transcriber()
	a.selector.Register("buffered", func(guildID string) (recognition.Engine, error) {
		if transcriber == nil {
			return nil, fmt.Errorf("%w: no batch recognizer configured", recognition.ErrEngineUnavailable)
		}
		return recognition.NewBuffered(guildID, transcriber, a.settings, recognition.WithMetrics(a.metrics)), nil
	})
}

// transcriber returns the single configured batch recognizer, or a
// circuit-breaking fallback over all of them in config order.
func (a *App) transcriber() stt.Transcriber {
	ts := a.providers.Transcribers
	switch len(ts) {
	case 0:
		return nil
	case 1:
		return ts[0].Transcriber
	}
	fb := resilience.NewTranscriberFallback(ts[0].Transcriber, ts[0].Name, resilience.CircuitBreakerConfig{})
	for _, t := range ts[1:] {
		fb.AddFallback(t.Name, t.Transcriber)
	}
	slog.Info("app: batch recognizer failover", "order", fb.Names())
	return fb
}

// reload applies the hot-reloadable part of a changed config file.
func (a *App) reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(ParseLevel(d.NewLogLevel))
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.SettingsChanged() {
		if err := a.settings.Replace(new.Settings.Defaults, new.Settings.Guilds); err != nil {
			slog.Warn("app: settings reload rejected", "err", err)
		} else {
			slog.Info("app: settings reloaded",
				"defaults_changed", d.DefaultsChanged,
				"guilds_changed", d.GuildsChanged,
			)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// ParseLevel maps a config log level to a slog level. Unknown values map to
// info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Registry returns the voice registry driven by the bot commands.
func (a *App) Registry() *voice.Registry { return a.registry }

// Settings returns the live settings store.
func (a *App) Settings() *settings.Store { return a.settings }

// Catalog returns the live sound catalog.
func (a *App) Catalog() *catalog.Store { return a.catalog }

// Handler returns the observability mux: /metrics, /healthz and /readyz,
// wrapped in the tracing and metrics middleware.
func (a *App) Handler() http.Handler {
	checkers := append([]health.Checker{
		health.Flag("catalog", a.catalog.Loaded, ErrCatalogNotLoaded),
	}, a.checkers...)
	if a.postgres != nil {
		checkers = append(checkers, health.Optional(health.Ping("postgres", a.postgres)))
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	scrape := a.scrape
	if scrape == nil {
		scrape = observe.MetricsHandler(nil)
	}
	mux.Handle("GET /metrics", scrape)
	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the observability endpoints when server.listen_addr is set and
// blocks until ctx is cancelled. Voice sessions are driven by the bot
// commands through [App.Registry].
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		a.server = &http.Server{
			Addr:              addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			var err error
			if tls := a.cfg.Server.TLS; tls != nil {
				err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = a.server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("app: serve %s: %w", addr, err)
			}
		}()
		slog.Info("app: observability server listening", "addr", addr, "tls", a.cfg.Server.TLS != nil)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems: voice sessions first so no new
// transcripts arrive, then the recorder queue, then the remaining closers.
// It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "guilds", len(a.registry.Guilds()), "closers", len(a.closers))

		if err := a.registry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: voice shutdown: %w", err))
		}
		a.stopWatchers()

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
			}
		}
		if a.async != nil {
			if err := a.async.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("app: recorder drain: %w", err))
			}
			if n := a.async.Dropped(); n > 0 {
				slog.Warn("app: transcript events dropped", "count", n)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, ctx.Err())
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}

		slog.Info("app: shutdown complete")
	})
	return errors.Join(errs...)
}

func (a *App) stopWatchers() {
	for _, w := range a.watchers {
		w.Stop()
	}
	a.watchers = nil
}

func (a *App) runClosers() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("app: closer error", "err", err)
		}
	}
	a.closers = nil
}
