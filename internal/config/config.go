// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for parley.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/parley/internal/sampler"
)

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

// Slog maps l onto a slog level. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CaptureBackend selects where microphone audio comes from.
type CaptureBackend string

const (
	CapturePulse CaptureBackend = "pulse"
	CaptureNone  CaptureBackend = "none"
)

// PlaybackBackend selects where response audio is played.
type PlaybackBackend string

const (
	PlaybackPulse PlaybackBackend = "pulse"
	PlaybackNone  PlaybackBackend = "none"
)

// Config is the root configuration. Load it with [Load] or
// [LoadFromReader]; both apply [Config.ApplyDefaults] and [Validate].
type Config struct {
	Server     ServerConfig            `yaml:"server"`
	Providers  ProvidersConfig         `yaml:"providers"`
	Capture    CaptureConfig           `yaml:"capture"`
	Playback   PlaybackConfig          `yaml:"playback"`
	Streaming  sampler.StreamingConfig `yaml:"streaming"`
	Audio      AudioConfig             `yaml:"audio"`
	Transcript TranscriptConfig        `yaml:"transcript"`
	Notify     NotifyConfig            `yaml:"notify"`
}

// ServerConfig holds the control API listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control API. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds graceful shutdown. Default 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TraceSampleRatio is the fraction of root spans recorded. Zero records
	// every span.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// ProvidersConfig selects the external services. Live is required;
// translation and transcription are optional.
type ProvidersConfig struct {
	// Live is the bidirectional streaming service ("gemini-live",
	// "openai-realtime").
	Live ProviderEntry `yaml:"live"`

	// Translation is the LLM used to translate transcript entries
	// ("openai", "genai", or any any-llm backend such as "anthropic").
	Translation ProviderEntry `yaml:"translation"`

	// Transcription is the dictation speech-to-text service ("openai",
	// "whisper").
	Transcription ProviderEntry `yaml:"transcription"`
}

// ProviderEntry is the configuration block shared by every provider kind.
// Name selects the constructor in the [Registry].
type ProviderEntry struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails. They are not
	// supported for the live provider.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// Configured reports whether a provider was selected.
func (e ProviderEntry) Configured() bool { return e.Name != "" }

// StringOption returns Options[key] when it is a string.
func (e ProviderEntry) StringOption(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// CaptureConfig selects the capture devices and their default processing.
type CaptureConfig struct {
	Backend CaptureBackend `yaml:"backend"`

	// Input and Fallback are substrings matched against source names and
	// descriptions; the first available match wins.
	Input    string `yaml:"input"`
	Fallback string `yaml:"fallback"`

	// CameraURL is an HTTP endpoint returning one JPEG per request. Empty
	// disables video.
	CameraURL      string `yaml:"camera_url"`
	CameraUser     string `yaml:"camera_user"`
	CameraPassword string `yaml:"camera_password"`

	NoiseSuppression bool `yaml:"noise_suppression"`
	EchoCancellation bool `yaml:"echo_cancellation"`
	AutoGain         bool `yaml:"auto_gain"`
}

// PlaybackConfig selects the output device.
type PlaybackConfig struct {
	Backend PlaybackBackend `yaml:"backend"`

	// Device is the sink name; empty selects the server default.
	Device string `yaml:"device"`

	// Latency is the requested device latency in seconds. Default 0.05.
	Latency float64 `yaml:"latency"`
}

// AudioConfig tunes outbound PCM encoding.
type AudioConfig struct {
	// Overflow is "clamp" (default) or "wrap".
	Overflow string `yaml:"overflow"`

	// BlockSize is the number of samples per outbound block. Default 4096.
	BlockSize int `yaml:"block_size"`
}

// TranscriptConfig controls translation and archiving.
type TranscriptConfig struct {
	// Translate enables translation of entries. Default true.
	Translate *bool `yaml:"translate"`

	// ArchiveDSN is a PostgreSQL connection string. Empty keeps the
	// transcript in memory only.
	ArchiveDSN string `yaml:"archive_dsn"`

	// ArchiveInterval is the flush period of the archiver. Default 5s.
	ArchiveInterval time.Duration `yaml:"archive_interval"`
}

// TranslateEnabled resolves the Translate default.
func (t TranscriptConfig) TranslateEnabled() bool { return t.Translate == nil || *t.Translate }

// NotifyConfig configures outbound event fan-out.
type NotifyConfig struct {
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig configures the MQTT publisher. An empty BrokerURL disables it.
type MQTTConfig struct {
	BrokerURL   string `yaml:"broker_url"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// ApplyDefaults fills zero values. Streaming settings are only defaulted
// when the section is absent entirely.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Capture.Backend == "" {
		c.Capture.Backend = CapturePulse
	}
	if c.Playback.Backend == "" {
		c.Playback.Backend = PlaybackPulse
	}
	if c.Playback.Latency <= 0 {
		c.Playback.Latency = 0.05
	}
	if c.Streaming == (sampler.StreamingConfig{}) {
		c.Streaming = sampler.DefaultStreamingConfig()
	}
	if c.Audio.BlockSize <= 0 {
		c.Audio.BlockSize = 4096
	}
	if c.Transcript.ArchiveInterval <= 0 {
		c.Transcript.ArchiveInterval = 5 * time.Second
	}
}
