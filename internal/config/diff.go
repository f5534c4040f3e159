package config

import (
	"reflect"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// LiveChanged reports a change in the live section. It applies to
	// conversations started after the reload.
	LiveChanged bool

	// SpeechChanged reports a change in the speech section.
	SpeechChanged bool

	// ChatChanged reports a change in the chat section.
	ChatChanged bool

	// RestartRequired lists sections that only take effect after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.LiveChanged || d.SpeechChanged || d.ChatChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !reflect.DeepEqual(old.Live, new.Live) {
		d.LiveChanged = true
	}
	if !reflect.DeepEqual(old.Speech, new.Speech) {
		d.SpeechChanged = true
	}
	if !reflect.DeepEqual(old.Chat, new.Chat) {
		d.ChatChanged = true
	}
	if old.Server.ListenAddr != new.Server.ListenAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	return d
}
