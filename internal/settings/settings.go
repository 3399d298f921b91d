// Package settings is the declarative store for pipeline tunables.
//
// Every tunable has a dotted name, a type and a built-in default. Values
// resolve in three layers: a per-guild override, then the configured
// default, then the built-in default. The store swaps its layers atomically
// on reload, so readers never observe a half-applied change and never block.
//
// Lookups of unknown names or of guilds without overrides are not errors;
// they fall through to the next layer.
package settings

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Documented keys.
const (
	DuckingLevel      = "ducking.level"
	DuckingTransition = "ducking.transition"

	DecodeErrorThreshold   = "decode_errors.threshold"
	DecodeErrorWindow      = "decode_errors.window"
	DecodeErrorLogInterval = "decode_errors.log_interval"

	PlaybackTimeout   = "playback.timeout"
	PlaybackQueueSize = "playback.queue_size"

	RecognitionEngine       = "recognition.engine"
	RecognitionBuffer       = "recognition.buffer"
	RecognitionDebounce     = "recognition.debounce"
	RecognitionWatchdog     = "recognition.watchdog"
	RecognitionWorkers      = "recognition.workers"
	RecognitionDrainTimeout = "recognition.drain_timeout"

	TriggerHistoryWindows = "trigger.history_windows"
	TriggerHistoryMaxAge  = "trigger.history_max_age"
	TriggerMaxPhraseWords = "trigger.max_phrase_words"
	TriggerSweepInterval  = "trigger.sweep_interval"

	SessionConnectTimeout    = "session.connect_timeout"
	SessionAutoDisconnect    = "session.auto_disconnect"
	SessionKeepaliveInterval = "session.keepalive_interval"

	ReconnectGrace      = "reconnect.grace"
	ReconnectMaxRetries = "reconnect.max_retries"
	ReconnectBackoff    = "reconnect.backoff"

	SpeakingHangover = "speaking.hangover"
)

// ErrUnknownKey is wrapped by Validate and Set for names not listed above.
var ErrUnknownKey = errors.New("settings: unknown key")

type kind int

const (
	kindFloat kind = iota
	kindInt
	kindDuration
	kindString
)

func (k kind) String() string {
	return [...]string{"number", "integer", "duration", "string"}[k]
}

type def struct {
	kind kind
	val  any
	min  float64 // inclusive lower bound for numbers; durations in seconds
	max  float64 // zero means unbounded
}

var builtins = map[string]def{
	DuckingLevel:      {kind: kindFloat, val: 0.3, min: 0, max: 1},
	DuckingTransition: {kind: kindDuration, val: 50 * time.Millisecond},

	DecodeErrorThreshold:   {kind: kindInt, val: 5, min: 1},
	DecodeErrorWindow:      {kind: kindDuration, val: 10 * time.Second, min: 0.001},
	DecodeErrorLogInterval: {kind: kindInt, val: 5, min: 1},

	PlaybackTimeout:   {kind: kindDuration, val: 30 * time.Second, min: 0.001},
	PlaybackQueueSize: {kind: kindInt, val: 32, min: 1},

	RecognitionEngine:       {kind: kindString, val: "streaming"},
	RecognitionBuffer:       {kind: kindDuration, val: 3 * time.Second, min: 0.1},
	RecognitionDebounce:     {kind: kindDuration, val: time.Second},
	RecognitionWatchdog:     {kind: kindDuration, val: 30 * time.Second, min: 0.001},
	RecognitionWorkers:      {kind: kindInt, val: 2, min: 1},
	RecognitionDrainTimeout: {kind: kindDuration, val: 5 * time.Second},

	TriggerHistoryWindows: {kind: kindInt, val: 2, min: 0},
	TriggerHistoryMaxAge:  {kind: kindDuration, val: 30 * time.Second},
	TriggerMaxPhraseWords: {kind: kindInt, val: 8, min: 2},
	TriggerSweepInterval:  {kind: kindDuration, val: time.Minute, min: 0.001},

	SessionConnectTimeout:    {kind: kindDuration, val: 10 * time.Second, min: 0.001},
	SessionAutoDisconnect:    {kind: kindDuration, val: 5 * time.Minute},
	SessionKeepaliveInterval: {kind: kindDuration, val: 15 * time.Second, min: 0.001},

	ReconnectGrace:      {kind: kindDuration, val: time.Second},
	ReconnectMaxRetries: {kind: kindInt, val: 3, min: 1},
	ReconnectBackoff:    {kind: kindDuration, val: 2 * time.Second},

	SpeakingHangover: {kind: kindDuration, val: 300 * time.Millisecond, min: 0.02},
}

// Keys returns every documented key, sorted.
func Keys() []string {
	return slices.Sorted(maps.Keys(builtins))
}

// Default returns the built-in default for name.
func Default(name string) (any, bool) {
	d, ok := builtins[name]
	return d.val, ok
}

// Validate checks raw values as decoded from YAML. It reports every unknown
// key, type mismatch and out-of-range value.
func Validate(raw map[string]any) error {
	_, err := normalize(raw)
	return err
}

func normalize(raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(raw)) {
		v, err := coerce(name, raw[name])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[name] = v
	}
	return out, errors.Join(errs...)
}

// coerce converts v to the canonical Go type of name: float64, int,
// time.Duration or string.
func coerce(name string, v any) (any, error) {
	d, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownKey, name)
	}
	var (
		out any
		num float64
	)
	switch d.kind {
	case kindFloat:
		f, ok := asFloat(v)
		if !ok {
			return nil, typeErr(name, d.kind, v)
		}
		out, num = f, f
	case kindInt:
		f, ok := asFloat(v)
		if !ok || f != math.Trunc(f) {
			return nil, typeErr(name, d.kind, v)
		}
		out, num = int(f), f
	case kindDuration:
		var dur time.Duration
		switch x := v.(type) {
		case time.Duration:
			dur = x
		case string:
			p, err := time.ParseDuration(x)
			if err != nil {
				return nil, fmt.Errorf("settings: %s: %w", name, err)
			}
			dur = p
		default:
			return nil, typeErr(name, d.kind, v)
		}
		out, num = dur, dur.Seconds()
	case kindString:
		s, ok := v.(string)
		if !ok || s == "" {
			return nil, typeErr(name, d.kind, v)
		}
		return s, nil
	}
	if num < d.min || (d.max != 0 && num > d.max) {
		return nil, fmt.Errorf("settings: %s: %v out of range", name, v)
	}
	return out, nil
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	return 0, false
}

func typeErr(name string, k kind, v any) error {
	return fmt.Errorf("settings: %s: want %s, got %T", name, k, v)
}

type layers struct {
	defaults map[string]any
	guilds   map[string]map[string]any
}

// Store resolves settings. The zero value is not usable; call [New].
//
// Store is safe for concurrent use.
type Store struct {
	cur atomic.Pointer[layers]
	mu  sync.Mutex // serializes writers
}

// New validates the configured layers and returns a Store.
func New(defaults map[string]any, guilds map[string]map[string]any) (*Store, error) {
	s := &Store{}
	if err := s.Replace(defaults, guilds); err != nil {
		return nil, err
	}
	return s, nil
}

// Replace swaps both configured layers at once. On error nothing changes.
func (s *Store) Replace(defaults map[string]any, guilds map[string]map[string]any) error {
	l := &layers{guilds: make(map[string]map[string]any, len(guilds))}
	var errs []error
	var err error
	if l.defaults, err = normalize(defaults); err != nil {
		errs = append(errs, err)
	}
	for id, raw := range guilds {
		n, err := normalize(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("guild %s: %w", id, err))
		}
		l.guilds[id] = n
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.mu.Lock()
	s.cur.Store(l)
	s.mu.Unlock()
	return nil
}

// Set overrides one key for one guild. The override lives until the next
// Replace.
func (s *Store) Set(guildID, name string, value any) error {
	v, err := coerce(name, value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cur.Load()
	next := &layers{defaults: old.defaults, guilds: maps.Clone(old.guilds)}
	g := maps.Clone(next.guilds[guildID])
	if g == nil {
		g = make(map[string]any, 1)
	}
	g[name] = v
	next.guilds[guildID] = g
	s.cur.Store(next)
	return nil
}

// Get resolves name for guildID. ok is false only for unknown names.
func (s *Store) Get(name, guildID string) (any, bool) {
	l := s.cur.Load()
	if l != nil {
		if v, ok := l.guilds[guildID][name]; ok {
			return v, true
		}
		if v, ok := l.defaults[name]; ok {
			return v, true
		}
	}
	return Default(name)
}

// Float returns a number setting, or 0 for unknown names.
func (s *Store) Float(name, guildID string) float64 {
	v, _ := s.Get(name, guildID)
	f, _ := v.(float64)
	return f
}

// Int returns an integer setting, or 0 for unknown names.
func (s *Store) Int(name, guildID string) int {
	v, _ := s.Get(name, guildID)
	i, _ := v.(int)
	return i
}

// Duration returns a duration setting, or 0 for unknown names.
func (s *Store) Duration(name, guildID string) time.Duration {
	v, _ := s.Get(name, guildID)
	d, _ := v.(time.Duration)
	return d
}

// String returns a string setting, or "" for unknown names.
func (s *Store) String(name, guildID string) string {
	v, _ := s.Get(name, guildID)
	str, _ := v.(string)
	return str
}
