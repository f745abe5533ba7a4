package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DanielWill-1/audentra/internal/config"
)

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audentra.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.LLM.Name != "openai" {
		t.Errorf("llm = %q", cfg.Providers.LLM.Name)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Backend != config.StoreMemory {
		t.Errorf("store.backend = %q, want memory", cfg.Store.Backend)
	}
	if cfg.Providers.ASR.Name != "text" || cfg.Providers.TTS.Name != "text" {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if cfg.Providers.LLM.Name != "" {
		t.Errorf("llm = %q, want none", cfg.Providers.LLM.Name)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "nope.yaml") {
		t.Errorf("error %q does not name the file", err)
	}
}

func TestLoad_InvalidFileNamesPath(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [not, a, map]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := config.Load(path)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "bad.yaml") {
		t.Errorf("error %q does not name the file", err)
	}
}

func TestLoadFromReader_ValidationFailure(t *testing.T) {
	t.Parallel()

	yaml := `
store:
  backend: postgres
enhancement:
  enabled: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"store.postgres_dsn", "enhancement.enabled"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestLoadFromReader_DisabledIdleTimeout(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader("dialog:\n  idle_timeout: -1s\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Dialog.IdleTimeout >= 0 {
		t.Errorf("idle_timeout = %v, want negative", cfg.Dialog.IdleTimeout)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()

	for _, kind := range []string{"asr", "tts", "llm"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("no names for %s", kind)
		}
	}
}
