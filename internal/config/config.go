// Package config provides the configuration schema, loader, file watcher and
// provider registry for Earshot.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root of the YAML configuration file.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Discord   DiscordConfig   `yaml:"discord"`
	Providers ProvidersConfig `yaml:"providers"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Settings  SettingsConfig  `yaml:"settings"`
}

// ServerConfig holds the observability HTTP server and logging settings.
type ServerConfig struct {
	// ListenAddr serves /metrics, /healthz and /readyz. Empty disables the
	// HTTP server.
	ListenAddr string   `yaml:"listen_addr"`
	LogLevel   LogLevel `yaml:"log_level"`

	// TLS enables HTTPS on ListenAddr when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds PEM file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DiscordConfig configures the bot connection.
type DiscordConfig struct {
	Token string `yaml:"token"`

	// GuildID restricts slash command registration to one guild, which makes
	// command updates instant during development. Empty registers globally.
	GuildID string `yaml:"guild_id"`

	// ControlRoleID, when set, is required to use commands that change voice
	// state. Playing sounds stays open to everyone.
	ControlRoleID string `yaml:"control_role_id"`
}

// ProvidersConfig selects the recognition and detection backends.
type ProvidersConfig struct {
	// STT is the streaming recognizer behind the "streaming" engine.
	STT ProviderEntry `yaml:"stt"`

	// Transcriber lists batch recognizers for the "buffered" engine in
	// failover order. More than one entry is wrapped in a circuit-breaking
	// fallback group.
	Transcriber []ProviderEntry `yaml:"transcriber"`

	// VAD is the speaking detector. Defaults to "energy".
	VAD ProviderEntry `yaml:"vad"`

	// Audio is the voice platform. Defaults to "discord".
	Audio ProviderEntry `yaml:"audio"`
}

// ProviderEntry is the configuration block shared by all provider kinds. Name
// selects the factory in the [Registry].
type ProviderEntry struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds provider specific values.
	Options map[string]any `yaml:"options"`
}

// CatalogConfig locates the sound library.
type CatalogConfig struct {
	// Path is the YAML catalog file.
	Path string `yaml:"path"`

	// SoundsDir resolves relative sound file paths. Defaults to the
	// directory holding Path.
	SoundsDir string `yaml:"sounds_dir"`
}

// RecorderConfig enables transcript sinks. Any combination may be active.
type RecorderConfig struct {
	Log         bool   `yaml:"log"`
	File        string `yaml:"file"`
	PostgresDSN string `yaml:"postgres_dsn"`

	// Buffer is the async queue length in front of the sinks.
	Buffer int `yaml:"buffer"`
}

// SettingsConfig carries tunables. Keys are the dotted names documented by
// the settings package; values are numbers or duration strings.
type SettingsConfig struct {
	Defaults map[string]any            `yaml:"defaults"`
	Guilds   map[string]map[string]any `yaml:"guilds"`
}
