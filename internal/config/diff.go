package config

import (
	"reflect"

	"github.com/MrWong99/parley/internal/sampler"
)

// ConfigDiff describes what changed between two configs. Streaming
// settings, the log level and the translate toggle apply live; everything
// else is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	StreamingChanged bool
	NewStreaming     sampler.StreamingConfig

	TranslateChanged bool
	NewTranslate     bool

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.StreamingChanged && !d.TranslateChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Streaming != new.Streaming {
		d.StreamingChanged = true
		d.NewStreaming = new.Streaming
	}
	if old.Transcript.TranslateEnabled() != new.Transcript.TranslateEnabled() {
		d.TranslateChanged = true
		d.NewTranslate = new.Transcript.TranslateEnabled()
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldTr, newTr := old.Transcript, new.Transcript
	oldTr.Translate, newTr.Translate = nil, nil

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"providers", old.Providers, new.Providers},
		{"capture", old.Capture, new.Capture},
		{"playback", old.Playback, new.Playback},
		{"audio", old.Audio, new.Audio},
		{"transcript", oldTr, newTr},
		{"notify", old.Notify, new.Notify},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
