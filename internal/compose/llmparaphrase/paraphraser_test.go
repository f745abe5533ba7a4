package llmparaphrase_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DanielWill-1/audentra/internal/compose"
	"github.com/DanielWill-1/audentra/internal/compose/llmparaphrase"
	"github.com/DanielWill-1/audentra/pkg/provider/llm"
	"github.com/DanielWill-1/audentra/pkg/provider/llm/mock"
)

var _ compose.Paraphraser = (*llmparaphrase.Paraphraser)(nil)

func TestParaphrase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		err     error
		want    string
		wantErr bool
	}{
		{name: "plain", content: "Got it, Ann! What's your email?", want: "Got it, Ann! What's your email?"},
		{name: "code fence", content: "```\nGot it, Ann.\n```", want: "Got it, Ann."},
		{name: "quoted", content: `"Got it, Ann."`, want: "Got it, Ann."},
		{name: "empty", content: "   ", wantErr: true},
		{name: "provider error", err: errors.New("rate limited"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &mock.Provider{CompleteErr: tt.err}
			if tt.err == nil {
				p.CompleteResponse = &llm.CompletionResponse{Content: tt.content}
			}
			got, err := llmparaphrase.New(p).Paraphrase(context.Background(), "Recorded name: Ann. What is your email?", []string{"Ann"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParaphrase_Request(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	_, _ = llmparaphrase.New(p, llmparaphrase.WithTemperature(0.9), llmparaphrase.WithMaxTokens(50)).
		Paraphrase(context.Background(), "What is your email?", []string{"a@b.com", "Basic"})

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if req.Temperature != 0.9 || req.MaxTokens != 50 {
		t.Errorf("temperature/max tokens = %v/%d", req.Temperature, req.MaxTokens)
	}
	if !strings.Contains(req.SystemPrompt, `"a@b.com", "Basic"`) {
		t.Errorf("system prompt does not list kept values: %s", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "What is your email?" {
		t.Errorf("messages = %+v", req.Messages)
	}
}
