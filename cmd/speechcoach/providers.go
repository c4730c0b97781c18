package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/speechcoach/internal/app"
	"github.com/MrWong99/speechcoach/internal/config"
	"github.com/MrWong99/speechcoach/internal/observe"
	"github.com/MrWong99/speechcoach/internal/resilience"
	"github.com/MrWong99/speechcoach/pkg/provider/llm"
	"github.com/MrWong99/speechcoach/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/speechcoach/pkg/provider/llm/openai"
	"github.com/MrWong99/speechcoach/pkg/provider/stt"
	"github.com/MrWong99/speechcoach/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/speechcoach/pkg/provider/stt/openai"
	"github.com/MrWong99/speechcoach/pkg/provider/stt/whisper"
)

const groqOpenAIBaseURL = "https://api.groq.com/openai/v1"

// registerBuiltinProviders wires the provider factories that ship with
// speechcoach into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if n := optInt(entry.Options, "max_retries"); n != 0 {
			opts = append(opts, oaillm.WithMaxRetries(n))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other vendor goes through any-llm-go. ollama, llamacpp and
	// llamafile are local servers addressed by BaseURL.
	for _, name := range anyllm.Supported {
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

	// ── Batch STT ─────────────────────────────────────────────────────────────
	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("groq", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		base := entry.BaseURL
		if base == "" {
			base = groqOpenAIBaseURL
		}
		model := entry.Model
		if model == "" {
			model = "whisper-large-v3"
		}
		return oaistt.New(entry.APIKey, model, oaistt.WithBaseURL(base))
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		return newWhisper(entry)
	})

	// ── Streaming STT ─────────────────────────────────────────────────────────
	reg.RegisterStreamSTT("deepgram", func(entry config.ProviderEntry) (stt.StreamProvider, error) {
		opts := []deepgram.Option{deepgram.WithFillerWords(true)}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if ms := optInt(entry.Options, "keepalive_ms"); ms != 0 {
			opts = append(opts, deepgram.WithKeepAlive(time.Duration(ms)*time.Millisecond))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterStreamSTT("whisper", func(entry config.ProviderEntry) (stt.StreamProvider, error) {
		return newWhisper(entry)
	})
}

func newWhisper(entry config.ProviderEntry) (*whisper.Provider, error) {
	var opts []whisper.Option
	if entry.Model != "" {
		opts = append(opts, whisper.WithModel(entry.Model))
	}
	if lang := optString(entry.Options, "language"); lang != "" {
		opts = append(opts, whisper.WithLanguage(lang))
	}
	if ms := optInt(entry.Options, "silence_threshold_ms"); ms > 0 {
		opts = append(opts, whisper.WithSilenceThresholdMs(ms))
	}
	return whisper.New(entry.BaseURL, entry.APIKey, opts...)
}

// buildProviders instantiates the configured providers. Slots with
// fallbacks are wrapped in circuit-breaking fallback groups.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}

	if entry := cfg.Providers.LLM; entry.Name != "" {
		primary, err := create("llm", entry, reg.CreateLLM)
		if err != nil {
			return nil, err
		}
		if primary != nil {
			group := resilience.NewLLMFallback(primary, entry.Name, resilience.FallbackConfig{Metrics: metrics})
			for _, fb := range cfg.Providers.LLMFallbacks {
				p, err := create("llm", fb, reg.CreateLLM)
				if err != nil {
					return nil, err
				}
				if p != nil {
					group.AddFallback(fb.Name, p)
				}
			}
			ps.LLM = group
		}
	}

	if entry := cfg.Providers.STT; entry.Name != "" {
		primary, err := create("stt", entry, reg.CreateSTT)
		if err != nil {
			return nil, err
		}
		if primary != nil {
			group := resilience.NewSTTFallback(primary, entry.Name, resilience.FallbackConfig{Metrics: metrics})
			for _, fb := range cfg.Providers.STTFallbacks {
				t, err := create("stt", fb, reg.CreateSTT)
				if err != nil {
					return nil, err
				}
				if t != nil {
					group.AddFallback(fb.Name, t)
				}
			}
			ps.STT = group
		}
	}

	stream, err := buildStreamProvider(cfg, reg, metrics)
	if err != nil {
		return nil, err
	}
	ps.StreamSTT = stream
	return ps, nil
}

// buildStreamProvider returns the live transcriber, or nil when none is
// configured.
func buildStreamProvider(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (stt.StreamProvider, error) {
	entry := cfg.Providers.StreamSTT
	if entry.Name == "" {
		return nil, nil
	}
	p, err := create("stream_stt", entry, reg.CreateStreamSTT)
	if err != nil || p == nil {
		return nil, err
	}
	return resilience.NewStreamSTTFallback(p, entry.Name, resilience.FallbackConfig{Metrics: metrics}), nil
}

// create builds one provider. An unregistered name is logged and yields the
// zero value so the slot stays empty.
func create[T any](kind string, entry config.ProviderEntry, factory func(config.ProviderEntry) (T, error)) (T, error) {
	var zero T
	p, err := factory(entry)
	switch {
	case errors.Is(err, config.ErrProviderNotRegistered):
		slog.Warn("provider not available, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	case err != nil:
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	return p, nil
}

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer option. YAML decodes plain numbers as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
