package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/DanielWill-1/audentra/internal/config"
	"github.com/DanielWill-1/audentra/internal/health"
	"github.com/DanielWill-1/audentra/internal/resilience"
	"github.com/DanielWill-1/audentra/pkg/provider/asr"
	"github.com/DanielWill-1/audentra/pkg/provider/asr/deepgram"
	"github.com/DanielWill-1/audentra/pkg/provider/asr/whisper"
	"github.com/DanielWill-1/audentra/pkg/provider/llm"
	"github.com/DanielWill-1/audentra/pkg/provider/llm/anyllm"
	"github.com/DanielWill-1/audentra/pkg/provider/llm/openai"
	"github.com/DanielWill-1/audentra/pkg/provider/tts"
	"github.com/DanielWill-1/audentra/pkg/provider/tts/elevenlabs"
)

// RegisterBuiltinProviders wires every provider that ships with Audentra
// into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── ASR ───────────────────────────────────────────────────────────────────
	reg.RegisterASR("text", func(config.ProviderEntry) (asr.Provider, error) {
		return asr.Text{}, nil
	})
	reg.RegisterASR("whisper", func(entry config.ProviderEntry) (asr.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if rms, ok := optFloat(entry.Options, "silence_rms"); ok {
			opts = append(opts, whisper.WithSilenceRMS(rms))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterASR("deepgram", func(entry config.ProviderEntry) (asr.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("text", func(config.ProviderEntry) (tts.Provider, error) {
		return tts.Text{}, nil
	})
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if voice := optString(entry.Options, "voice_id"); voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// "openai" talks to the official SDK directly; retries are left to the
	// fallback chain.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts := []openai.Option{openai.WithMaxRetries(0)}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range anyllm.Supported {
		if providerName == "openai" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}
}

// providerSet holds the resolved provider chains. LLM is nil when no model
// is configured.
type providerSet struct {
	ASR      asr.Provider
	TTS      tts.Provider
	LLM      llm.Provider
	checkers []health.Checker
}

// buildProviders instantiates every provider named in cfg through reg and
// wraps each configured stage in a fallback chain with one circuit breaker
// per backend. Unconfigured ASR and TTS stages use the text passthrough.
func buildProviders(cfg *config.Config, reg *config.Registry, onTransition func(name string, from, to resilience.State)) (*providerSet, error) {
	fc := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:   cfg.Resilience.MaxFailures,
		ResetTimeout:  cfg.Resilience.ResetTimeout,
		HalfOpenMax:   cfg.Resilience.HalfOpenMax,
		OnStateChange: onTransition,
	}}
	ps := &providerSet{ASR: asr.Text{}, TTS: tts.Text{}}

	if e := cfg.Providers.ASR; e.Name != "" {
		chain, err := buildChain(e, "asr", reg.CreateASR, func(p asr.Provider, name string) *resilience.ASRFallback {
			return resilience.NewASRFallback(p, name, fc)
		})
		if err != nil {
			return nil, err
		}
		ps.ASR = chain
		ps.checkers = append(ps.checkers, health.BreakerChecker("asr", chain.States))
	}

	if e := cfg.Providers.TTS; e.Name != "" {
		chain, err := buildChain(e, "tts", reg.CreateTTS, func(p tts.Provider, name string) *resilience.TTSFallback {
			return resilience.NewTTSFallback(p, name, fc)
		})
		if err != nil {
			return nil, err
		}
		ps.TTS = chain
		ps.checkers = append(ps.checkers, health.BreakerChecker("tts", chain.States))
	}

	if e := cfg.Providers.LLM; e.Name != "" {
		chain, err := buildChain(e, "llm", reg.CreateLLM, func(p llm.Provider, name string) *resilience.LLMFallback {
			return resilience.NewLLMFallback(p, name, fc)
		})
		if err != nil {
			return nil, err
		}
		ps.LLM = chain
		// The LLM only enriches turns, so an open breaker does not make the
		// server unready.
	}

	return ps, nil
}

// fallbackChain is implemented by the resilience fallback wrappers.
type fallbackChain[P any] interface {
	AddFallback(name string, p P)
}

// buildChain creates the primary entry and its fallbacks. Breaker names are
// prefixed with kind so that "text" in the asr and tts chains stay distinct.
func buildChain[P any, C fallbackChain[P]](
	entry config.ProviderEntry,
	kind string,
	create func(config.ProviderEntry) (P, error),
	newChain func(primary P, name string) C,
) (C, error) {
	var zero C
	primary, err := create(entry)
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	chain := newChain(primary, kind+":"+entry.Name)
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)

	for _, fb := range entry.Fallbacks {
		p, err := create(fb)
		if err != nil {
			return zero, fmt.Errorf("create %s fallback %q: %w", kind, fb.Name, err)
		}
		chain.AddFallback(kind+":"+fb.Name, p)
		slog.Info("provider fallback created", "kind", kind, "name", fb.Name, "model", fb.Model)
	}
	return chain, nil
}

// breakerKind splits a breaker name of the form "kind:name".
func breakerKind(name string) (kind, provider string) {
	kind, provider, ok := strings.Cut(name, ":")
	if !ok {
		return "", name
	}
	return kind, provider
}

// logTransition is the default breaker callback target.
func logTransition(ctx context.Context, name string, from, to resilience.State) {
	kind, provider := breakerKind(name)
	level := slog.LevelInfo
	if to == resilience.StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "circuit breaker transition",
		"kind", kind, "provider", provider, "from", from.String(), "to", to.String())
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a numeric value from a provider Options map. YAML
// decodes whole numbers as int.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
