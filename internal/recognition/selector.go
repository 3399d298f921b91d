package recognition

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/earshot/internal/settings"
)

// Factory builds an engine for one guild. It returns an error wrapping
// [ErrEngineUnavailable] when its backend is missing.
type Factory func(guildID string) (Engine, error)

// Selector picks an engine variant by the recognition.engine setting.
//
// A configured engine whose factory reports [ErrEngineUnavailable] is
// replaced by the default engine; the substitution is logged once per engine
// name.
type Selector struct {
	tunables    Tunables
	defaultName string

	mu        sync.Mutex
	factories map[string]Factory
	warned    map[string]*sync.Once
}

// NewSelector returns a selector falling back to defaultName.
func NewSelector(t Tunables, defaultName string) *Selector {
	return &Selector{
		tunables:    t,
		defaultName: defaultName,
		factories:   make(map[string]Factory),
		warned:      make(map[string]*sync.Once),
	}
}

// Register adds or replaces the factory for name.
func (s *Selector) Register(name string, f Factory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[name] = f
}

// Names returns the registered engine names, sorted.
func (s *Selector) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.factories))
}

// Select builds the engine configured for guildID.
func (s *Selector) Select(guildID string) (Engine, error) {
	name := s.tunables.String(settings.RecognitionEngine, guildID)
	e, err := s.build(name, guildID)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, ErrEngineUnavailable) || name == s.defaultName {
		return nil, err
	}

	s.once(name).Do(func() {
		slog.Warn("recognition: engine unavailable, falling back to default",
			"engine", name,
			"default", s.defaultName,
			"error", err,
		)
	})
	return s.build(s.defaultName, guildID)
}

func (s *Selector) build(name, guildID string) (Engine, error) {
	s.mu.Lock()
	f, ok := s.factories[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no engine named %q", ErrEngineUnavailable, name)
	}
	e, err := f(guildID)
	if err != nil {
		return nil, fmt.Errorf("recognition: build %s engine: %w", name, err)
	}
	return e, nil
}

func (s *Selector) once(name string) *sync.Once {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.warned[name]
	if !ok {
		o = &sync.Once{}
		s.warned[name] = o
	}
	return o
}
