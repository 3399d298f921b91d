package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/MrWong99/earshot/internal/settings"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the built-in provider names per kind. Unknown
// names only warn because third-party factories can be registered.
var ValidProviderNames = map[string][]string{
	"stt":         {"deepgram"},
	"transcriber": {"whisper", "whisper-native"},
	"vad":         {"energy"},
	"audio":       {"discord"},
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates YAML bytes.
func Parse(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// LoadFromReader decodes YAML from r and validates the result. Unknown fields
// are rejected. An empty document yields an empty, valid config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)
	seen := make(map[string]int, len(cfg.Providers.Transcriber))
	for i, e := range cfg.Providers.Transcriber {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.transcriber[%d].name is required", i))
			continue
		}
		if prev, ok := seen[e.Name]; ok {
			errs = append(errs, fmt.Errorf("providers.transcriber[%d] %q duplicates providers.transcriber[%d]", i, e.Name, prev))
		}
		seen[e.Name] = i
		validateProviderName("transcriber", e.Name)
	}

	if cfg.Providers.STT.Name == "" && len(cfg.Providers.Transcriber) == 0 {
		slog.Warn("config: no recognizer configured; listening will be unavailable")
	}
	if cfg.Catalog.Path == "" {
		errs = append(errs, errors.New("catalog.path is required"))
	}
	if cfg.Recorder.Buffer < 0 {
		errs = append(errs, fmt.Errorf("recorder.buffer %d must not be negative", cfg.Recorder.Buffer))
	}

	if err := settings.Validate(cfg.Settings.Defaults); err != nil {
		errs = append(errs, fmt.Errorf("settings.defaults: %w", err))
	}
	for guild, overrides := range cfg.Settings.Guilds {
		if err := settings.Validate(overrides); err != nil {
			errs = append(errs, fmt.Errorf("settings.guilds[%s]: %w", guild, err))
		}
	}

	return errors.Join(errs...)
}

func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if slices.Contains(ValidProviderNames[kind], name) {
		return
	}
	slog.Warn("config: unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", ValidProviderNames[kind],
	)
}
