package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"asr": {"whisper", "deepgram", "text"},
	"tts": {"elevenlabs", "text"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected. An empty document yields
// [Defaults].
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if cfg.Server.MaxAudioBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_audio_bytes must not be negative"))
	}

	// Store
	switch cfg.Store.Backend {
	case "", StoreMemory:
	case StorePostgres:
		if cfg.Store.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("store.postgres_dsn is required for the postgres backend"))
		}
	case StoreRedis:
		if cfg.Store.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("store.redis.addr is required for the redis backend"))
		}
		if cfg.Store.Redis.TTL < 0 {
			errs = append(errs, fmt.Errorf("store.redis.ttl must not be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, postgres, redis", cfg.Store.Backend))
	}
	if cfg.Store.Backend == StoreRedis && cfg.Store.Redis.TTL > 0 && cfg.Dialog.IdleTimeout > 0 && cfg.Store.Redis.TTL < cfg.Dialog.IdleTimeout {
		slog.Warn("store.redis.ttl is shorter than dialog.idle_timeout; sessions will expire before they are abandoned",
			"ttl", cfg.Store.Redis.TTL, "idle_timeout", cfg.Dialog.IdleTimeout)
	}

	// Dialog
	errs = append(errs, unitRange("dialog.accept_threshold", cfg.Dialog.AcceptThreshold)...)
	errs = append(errs, unitRange("dialog.min_asr_confidence", cfg.Dialog.MinASRConfidence)...)
	for name, v := range map[string]int{
		"dialog.max_clarifications": cfg.Dialog.MaxClarifications,
		"dialog.max_required":       cfg.Dialog.MaxRequired,
		"dialog.max_optional":       cfg.Dialog.MaxOptional,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if cfg.Dialog.IdleTimeout > 0 && cfg.Dialog.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("dialog.sweep_interval must be positive when dialog.idle_timeout is set"))
	}

	// Enhancement and paraphrase
	errs = append(errs, unitRange("enhancement.max_candidate_confidence", cfg.Enhancement.MaxCandidateConfidence)...)
	if cfg.Enhancement.Enabled && cfg.Providers.LLM.Name == "" {
		errs = append(errs, fmt.Errorf("enhancement.enabled requires providers.llm"))
	}
	if cfg.Paraphrase.Enabled && cfg.Providers.LLM.Name == "" {
		errs = append(errs, fmt.Errorf("paraphrase.enabled requires providers.llm"))
	}
	if cfg.Providers.LLM.Name != "" && !cfg.Enhancement.Enabled && !cfg.Paraphrase.Enabled {
		slog.Warn("providers.llm is configured but neither enhancement nor paraphrase is enabled")
	}

	// Providers
	for kind, entry := range map[string]ProviderEntry{
		"asr": cfg.Providers.ASR,
		"tts": cfg.Providers.TTS,
		"llm": cfg.Providers.LLM,
	} {
		errs = append(errs, validateEntry("providers."+kind, kind, entry)...)
	}

	// Voice
	errs = append(errs, unitRange("voice.stability", cfg.Voice.Stability)...)
	errs = append(errs, unitRange("voice.similarity_boost", cfg.Voice.SimilarityBoost)...)

	return errors.Join(errs...)
}

func validateEntry(path, kind string, e ProviderEntry) []error {
	var errs []error
	if e.Name == "" {
		if len(e.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s.name is required when fallbacks are configured", path))
		}
		return errs
	}
	validateProviderName(kind, e.Name)
	for i, fb := range e.Fallbacks {
		p := fmt.Sprintf("%s.fallbacks[%d]", path, i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", p))
			continue
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s.fallbacks must not be nested", p))
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
}

func unitRange(name string, v float64) []error {
	if v < 0 || v > 1 {
		return []error{fmt.Errorf("%s %.2f is out of range [0, 1]", name, v)}
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
