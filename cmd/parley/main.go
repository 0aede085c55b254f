// Command parley runs the real-time AI companion: a local control API around
// one live multimodal session, dictation and a translated transcript.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/provider/live"
	geminilive "github.com/MrWong99/parley/pkg/provider/live/gemini"
	oailive "github.com/MrWong99/parley/pkg/provider/live/openai"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/llm/anyllm"
	genaillm "github.com/MrWong99/parley/pkg/provider/llm/genai"
	oaillm "github.com/MrWong99/parley/pkg/provider/llm/openai"
	"github.com/MrWong99/parley/pkg/provider/stt"
	oaistt "github.com/MrWong99/parley/pkg/provider/stt/openai"
	"github.com/MrWong99/parley/pkg/provider/stt/whisper"
	"github.com/MrWong99/parley/pkg/provider/translate"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload streaming, log level and translation settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(newLogger(level))

	slog.Info("parley starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observe.InitProvider(ctx, observe.TelemetryConfig{
		ServiceVersion: version,
		SampleRatio:    cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	printStartupSummary(cfg)

	opts := []app.Option{app.WithLogLevel(level)}
	if *watch {
		opts = append(opts, app.WithConfigPath(*configPath))
	}
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Live ──────────────────────────────────────────────────────────────────

	reg.RegisterLive("gemini-live", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterLive("openai-realtime", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []oailive.Option
		if entry.Model != "" {
			opts = append(opts, oailive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oailive.WithBaseURL(entry.BaseURL))
		}
		return oailive.New(entry.APIKey, opts...), nil
	})

	// ── LLM (translation) ─────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.StringOption("organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterLLM("genai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []genaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, genaillm.WithBaseURL(entry.BaseURL))
		}
		return genaillm.New(context.Background(), entry.APIKey, entry.Model, opts...)
	})

	// The remaining backends share any-llm's optional APIKey + BaseURL
	// pattern. openai is served by the native client above.
	for _, name := range anyllm.Backends {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ── Transcription ─────────────────────────────────────────────────────────

	reg.RegisterTranscriber("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := entry.StringOption("language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTranscriber("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	for _, kind := range []string{"live", "llm", "transcription"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates the providers named in cfg. Translation and
// transcription entries with fallbacks are wrapped in a circuit-breaking
// fallback chain.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	p, err := reg.CreateLive(cfg.Providers.Live)
	if err != nil {
		return nil, fmt.Errorf("create live provider %q: %w", cfg.Providers.Live.Name, err)
	}
	ps.Live = p
	slog.Info("provider created", "kind", "live", "name", cfg.Providers.Live.Name)

	if entry := cfg.Providers.Translation; entry.Configured() {
		tr, err := buildTranslator(entry, reg)
		if err != nil {
			return nil, err
		}
		var chain *resilience.TranslatorFallback
		for i, fb := range entry.Fallbacks {
			next, err := buildTranslator(fb, reg)
			if err != nil {
				return nil, fmt.Errorf("translation fallback %d: %w", i, err)
			}
			if chain == nil {
				chain = resilience.NewTranslatorFallback(tr, entry.Name, resilience.FallbackConfig{})
			}
			chain.AddFallback(fb.Name, next)
		}
		if chain != nil {
			ps.Translator = chain
		} else {
			ps.Translator = tr
		}
		slog.Info("provider created", "kind", "translation", "name", entry.Name, "fallbacks", len(entry.Fallbacks))
	}

	if entry := cfg.Providers.Transcription; entry.Configured() {
		t, err := reg.CreateTranscriber(entry)
		if err != nil {
			return nil, fmt.Errorf("create transcription provider %q: %w", entry.Name, err)
		}
		var chain *resilience.TranscriberFallback
		for i, fb := range entry.Fallbacks {
			next, err := reg.CreateTranscriber(fb)
			if err != nil {
				return nil, fmt.Errorf("transcription fallback %d %q: %w", i, fb.Name, err)
			}
			if chain == nil {
				chain = resilience.NewTranscriberFallback(t, entry.Name, resilience.FallbackConfig{})
			}
			chain.AddFallback(fb.Name, next)
		}
		if chain != nil {
			ps.Transcriber = chain
		} else {
			ps.Transcriber = t
		}
		slog.Info("provider created", "kind", "transcription", "name", entry.Name, "fallbacks", len(entry.Fallbacks))
	}

	return ps, nil
}

// buildTranslator wraps the LLM named by entry in a translator. The options
// "prompt", "temperature" and "max_tokens" tune the request.
func buildTranslator(entry config.ProviderEntry, reg *config.Registry) (translate.Translator, error) {
	p, err := reg.CreateLLM(entry)
	if err != nil {
		return nil, fmt.Errorf("create translation provider %q: %w", entry.Name, err)
	}
	var opts []translate.Option
	if prompt := entry.StringOption("prompt"); prompt != "" {
		opts = append(opts, translate.WithPrompt(prompt))
	}
	if v, ok := entry.Options["temperature"].(float64); ok {
		opts = append(opts, translate.WithTemperature(v))
	}
	if v, ok := entry.Options["max_tokens"].(int); ok {
		opts = append(opts, translate.WithMaxTokens(v))
	}
	return translate.NewLLM(p, opts...), nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          parley startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Live", cfg.Providers.Live.Name, cfg.Providers.Live.Model)
	printProvider("Translation", cfg.Providers.Translation.Name, cfg.Providers.Translation.Model)
	printProvider("Dictation", cfg.Providers.Transcription.Name, cfg.Providers.Transcription.Model)
	printValue("Capture", string(cfg.Capture.Backend))
	printValue("Playback", string(cfg.Playback.Backend))
	if cfg.Capture.CameraURL != "" {
		printValue("Camera", "snapshot")
	} else {
		printValue("Camera", "(disabled)")
	}
	if cfg.Transcript.ArchiveDSN != "" {
		printValue("Archive", "postgres")
	} else {
		printValue("Archive", "(disabled)")
	}
	if cfg.Notify.MQTT.BrokerURL != "" {
		printValue("MQTT", cfg.Notify.MQTT.BrokerURL)
	} else {
		printValue("MQTT", "(disabled)")
	}
	printValue("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printValue(kind, value)
}

func printValue(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
