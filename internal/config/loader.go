package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/parley/internal/sampler"
	"github.com/MrWong99/parley/pkg/audio"
)

// KnownProviderNames lists the built-in provider names per kind. Unknown
// names only produce a warning so externally registered providers work.
var KnownProviderNames = map[string][]string{
	"live":          {"gemini-live", "openai-realtime"},
	"translation":   {"openai", "genai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"transcription": {"openai", "whisper"},
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(expandEnv(data)))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// expandEnv substitutes ${VAR} references so secrets can stay out of the
// file. Unset variables expand to the empty string.
func expandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}

// LoadFromReader decodes YAML from r, rejecting unknown fields, then applies
// defaults and validates. An empty document yields the defaults. Streaming
// keys left out of the file keep their default values.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{Streaming: sampler.DefaultStreamingConfig()}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg and returns every problem joined into one error.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v is out of range [0, 1]", r))
	}

	p := cfg.Providers
	if !p.Live.Configured() {
		errs = append(errs, errors.New("providers.live.name is required"))
	}
	if len(p.Live.Fallbacks) > 0 {
		errs = append(errs, errors.New("providers.live.fallbacks is not supported; a failed live session is never retried"))
	}
	errs = append(errs, validateEntry("live", "providers.live", p.Live)...)
	errs = append(errs, validateEntry("translation", "providers.translation", p.Translation)...)
	errs = append(errs, validateEntry("transcription", "providers.transcription", p.Transcription)...)

	switch cfg.Capture.Backend {
	case "", CapturePulse, CaptureNone:
	default:
		errs = append(errs, fmt.Errorf("capture.backend %q is invalid; valid values: pulse, none", cfg.Capture.Backend))
	}
	switch cfg.Playback.Backend {
	case "", PlaybackPulse, PlaybackNone:
	default:
		errs = append(errs, fmt.Errorf("playback.backend %q is invalid; valid values: pulse, none", cfg.Playback.Backend))
	}
	if cfg.Playback.Latency < 0 || cfg.Playback.Latency > 1 {
		errs = append(errs, fmt.Errorf("playback.latency %v is out of range [0, 1]", cfg.Playback.Latency))
	}

	if err := cfg.Streaming.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("streaming: %w", err))
	}
	if cfg.Streaming.VideoEnabled && cfg.Capture.CameraURL == "" {
		slog.Warn("streaming.video_enabled is set but capture.camera_url is empty; no frames will be sent")
	}

	if _, err := audio.ParseOverflowPolicy(cfg.Audio.Overflow); err != nil {
		errs = append(errs, fmt.Errorf("audio.overflow: %w", err))
	}
	if cfg.Audio.BlockSize < 0 || cfg.Audio.BlockSize > 1<<16 {
		errs = append(errs, fmt.Errorf("audio.block_size %d is out of range [1, 65536]", cfg.Audio.BlockSize))
	}

	if cfg.Transcript.TranslateEnabled() && !p.Translation.Configured() {
		slog.Warn("transcript.translate is enabled but providers.translation is not configured; entries stay untranslated")
	}

	if m := cfg.Notify.MQTT; m.BrokerURL != "" && m.QoS > 2 {
		errs = append(errs, fmt.Errorf("notify.mqtt.qos %d is invalid; valid values: 0, 1, 2", m.QoS))
	}

	return errors.Join(errs...)
}

func validateEntry(kind, path string, e ProviderEntry) []error {
	var errs []error
	warnUnknownProvider(kind, e.Name)
	for i, fb := range e.Fallbacks {
		if !fb.Configured() {
			errs = append(errs, fmt.Errorf("%s.fallbacks[%d].name is required", path, i))
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s.fallbacks[%d] must not declare nested fallbacks", path, i))
		}
		warnUnknownProvider(kind, fb.Name)
	}
	return errs
}

func warnUnknownProvider(kind, name string) {
	if name == "" {
		return
	}
	known := KnownProviderNames[kind]
	if len(known) == 0 || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or an externally registered provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
