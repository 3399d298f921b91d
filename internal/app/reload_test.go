package app

import (
	"log/slog"
	"testing"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/settings"
)

func TestReload(t *testing.T) {
	t.Parallel()

	s, err := settings.New(map[string]any{settings.DuckingLevel: 0.2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	level := new(slog.LevelVar)
	a := &App{settings: s, logLevel: level}

	old := &config.Config{
		Server:   config.ServerConfig{LogLevel: config.LogInfo},
		Settings: config.SettingsConfig{Defaults: map[string]any{settings.DuckingLevel: 0.2}},
	}
	next := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogDebug},
		Settings: config.SettingsConfig{
			Defaults: map[string]any{settings.DuckingLevel: 0.6},
			Guilds:   map[string]map[string]any{"g1": {settings.DuckingLevel: 0.1}},
		},
	}
	a.reload(old, next)

	if level.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", level.Level())
	}
	if got := s.Float(settings.DuckingLevel, "g2"); got != 0.6 {
		t.Errorf("default = %v, want 0.6", got)
	}
	if got := s.Float(settings.DuckingLevel, "g1"); got != 0.1 {
		t.Errorf("g1 override = %v, want 0.1", got)
	}
}

func TestReload_InvalidSettingsKeepPrevious(t *testing.T) {
	t.Parallel()

	s, _ := settings.New(map[string]any{settings.DuckingLevel: 0.2}, nil)
	a := &App{settings: s}

	old := &config.Config{Settings: config.SettingsConfig{Defaults: map[string]any{settings.DuckingLevel: 0.2}}}
	next := &config.Config{Settings: config.SettingsConfig{Defaults: map[string]any{settings.DuckingLevel: 7.0}}}
	a.reload(old, next)

	if got := s.Float(settings.DuckingLevel, ""); got != 0.2 {
		t.Errorf("ducking level = %v, want 0.2 kept", got)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
