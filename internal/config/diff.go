package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes the hot-reloadable differences between two configs.
// Everything else requires a restart and is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DefaultsChanged lists settings keys whose default changed, sorted.
	DefaultsChanged []string

	// GuildsChanged lists guilds whose overrides changed, sorted.
	GuildsChanged []string

	// RestartRequired names top-level sections that changed but cannot be
	// applied live.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && len(d.DefaultsChanged) == 0 && len(d.GuildsChanged) == 0 && len(d.RestartRequired) == 0
}

// SettingsChanged reports whether any tunable changed.
func (d ConfigDiff) SettingsChanged() bool {
	return len(d.DefaultsChanged) > 0 || len(d.GuildsChanged) > 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.DefaultsChanged = changedKeys(old.Settings.Defaults, new.Settings.Defaults)

	guilds := make(map[string]struct{})
	for id := range old.Settings.Guilds {
		guilds[id] = struct{}{}
	}
	for id := range new.Settings.Guilds {
		guilds[id] = struct{}{}
	}
	for _, id := range slices.Sorted(maps.Keys(guilds)) {
		if len(changedKeys(old.Settings.Guilds[id], new.Settings.Guilds[id])) > 0 {
			d.GuildsChanged = append(d.GuildsChanged, id)
		}
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Discord != new.Discord {
		d.RestartRequired = append(d.RestartRequired, "discord")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Catalog != new.Catalog {
		d.RestartRequired = append(d.RestartRequired, "catalog")
	}
	if old.Recorder != new.Recorder {
		d.RestartRequired = append(d.RestartRequired, "recorder")
	}
	return d
}

func changedKeys(a, b map[string]any) []string {
	var out []string
	for k, v := range a {
		if w, ok := b[k]; !ok || !reflect.DeepEqual(v, w) {
			out = append(out, k)
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}
