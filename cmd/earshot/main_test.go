package main

import (
	"errors"
	"testing"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/pkg/audio"
	audiomock "github.com/MrWong99/earshot/pkg/audio/mock"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	sttmock "github.com/MrWong99/earshot/pkg/provider/stt/mock"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/energy"
)

type closingTranscriber struct {
	sttmock.Transcriber
	closed bool
}

func (c *closingTranscriber) Close() error {
	c.closed = true
	return nil
}

func stubRegistry(native *closingTranscriber) *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterSTT("deepgram", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	reg.RegisterTranscriber("whisper", func(config.ProviderEntry) (stt.Transcriber, error) { return &sttmock.Transcriber{}, nil })
	reg.RegisterTranscriber("whisper-native", func(config.ProviderEntry) (stt.Transcriber, error) { return native, nil })
	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) { return energy.New(), nil })
	reg.RegisterAudio("discord", func(config.ProviderEntry) (audio.Platform, error) { return &audiomock.Platform{}, nil })
	return reg
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	native := &closingTranscriber{}
	cfg := &config.Config{Providers: config.ProvidersConfig{
		STT:         config.ProviderEntry{Name: "deepgram"},
		Transcriber: []config.ProviderEntry{{Name: "whisper-native"}, {Name: "whisper"}},
	}}

	ps, closers, err := buildProviders(cfg, stubRegistry(native))
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.STT == nil || ps.VAD == nil || ps.Audio == nil {
		t.Fatalf("providers = %+v, want stt, vad and audio set", ps)
	}
	if len(ps.Transcribers) != 2 || ps.Transcribers[0].Name != "whisper-native" || ps.Transcribers[1].Name != "whisper" {
		t.Fatalf("transcribers = %+v, want config order", ps.Transcribers)
	}
	if len(closers) != 1 {
		t.Fatalf("closers = %d, want 1 for the native transcriber", len(closers))
	}
	_ = closers[0]()
	if !native.closed {
		t.Error("native transcriber not closed")
	}
}

func TestBuildProviders_Unregistered(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Providers: config.ProvidersConfig{
		Transcriber: []config.ProviderEntry{{Name: "nope"}},
	}}
	_, _, err := buildProviders(cfg, stubRegistry(&closingTranscriber{}))
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestOptHelpers(t *testing.T) {
	t.Parallel()

	opts := map[string]any{"language": "de", "endpointing_ms": 300, "float_ms": 250.0, "bad": "x"}
	if got := optString(opts, "language"); got != "de" {
		t.Errorf("optString = %q", got)
	}
	if got := optString(nil, "language"); got != "" {
		t.Errorf("optString(nil) = %q", got)
	}
	if v, ok := optInt(opts, "endpointing_ms"); !ok || v != 300 {
		t.Errorf("optInt int = %d, %v", v, ok)
	}
	if v, ok := optInt(opts, "float_ms"); !ok || v != 250 {
		t.Errorf("optInt float = %d, %v", v, ok)
	}
	if _, ok := optInt(opts, "bad"); ok {
		t.Error("optInt accepted a string")
	}
}
