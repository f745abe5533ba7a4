package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/DanielWill-1/audentra/pkg/provider/llm"
)

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	for _, role := range []string{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant} {
		got := convertMessage(llm.Message{Role: role, Content: "hello"})
		if got.Role != role {
			t.Errorf("role = %q, want %q", got.Role, role)
		}
		if got.ContentString() != "hello" {
			t.Errorf("content = %q, want %q", got.ContentString(), "hello")
		}
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o-mini"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Extract fields.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "my name is Ann"}},
		Temperature:  0.2,
		MaxTokens:    256,
	})

	if params.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem || params.Messages[0].ContentString() != "Extract fields." {
		t.Errorf("system message = %+v", params.Messages[0])
	}
	if params.Temperature == nil || *params.Temperature != 0.2 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}
}

func TestBuildParams_ZeroValuesOmitted(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "m"}
	params := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Errorf("expected nil temperature and max tokens, got %v %v", params.Temperature, params.MaxTokens)
	}
	if len(params.Messages) != 1 {
		t.Errorf("len(messages) = %d, want 1", len(params.Messages))
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty providerName")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNew_SupportedBackends(t *testing.T) {
	t.Parallel()

	opts := map[string][]anyllmlib.Option{
		"openai":    {anyllmlib.WithAPIKey("sk-test")},
		"anthropic": {anyllmlib.WithAPIKey("sk-ant-test")},
	}
	for _, name := range []string{"openai", "anthropic", "ollama", "llamacpp"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p, err := New(name, "some-model", opts[name]...)
			if err != nil {
				t.Fatalf("New(%q): %v", name, err)
			}
			if p == nil {
				t.Fatal("expected non-nil provider")
			}
		})
	}
}
