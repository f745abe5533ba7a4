package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/DanielWill-1/audentra/pkg/provider/llm"
	llmmock "github.com/DanielWill-1/audentra/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		primaryResp  string
		primaryErr   error
		secondaryErr error
		want         string
		wantErr      bool
		wantSecond   int
	}{
		{name: "primary success", primaryResp: "from primary", want: "from primary"},
		{name: "empty completion fails over", primaryResp: "  ", want: "from secondary", wantSecond: 1},
		{name: "failover", primaryResp: "from primary", primaryErr: errors.New("primary down"), want: "from secondary", wantSecond: 1},
		{name: "all fail", primaryErr: errors.New("down"), secondaryErr: errors.New("down"), wantErr: true, wantSecond: 1},
		{name: "canceled is not retried", primaryErr: context.Canceled, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			primary := &llmmock.Provider{
				CompleteResponse: &llm.CompletionResponse{Content: tt.primaryResp},
				CompleteErr:      tt.primaryErr,
			}
			secondary := &llmmock.Provider{
				CompleteResponse: &llm.CompletionResponse{Content: "from secondary"},
				CompleteErr:      tt.secondaryErr,
			}
			fb := NewLLMFallback(primary, "primary", FallbackConfig{
				CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
			})
			fb.AddFallback("secondary", secondary)

			resp, err := fb.Complete(context.Background(), llm.CompletionRequest{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
			})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if resp.Content != tt.want {
					t.Errorf("Content = %q, want %q", resp.Content, tt.want)
				}
			}
			if len(primary.Calls()) != 1 {
				t.Errorf("primary calls = %d, want 1", len(primary.Calls()))
			}
			if n := len(secondary.Calls()); n != tt.wantSecond {
				t.Errorf("secondary calls = %d, want %d", n, tt.wantSecond)
			}
		})
	}
}

func TestLLMFallback_BreakerOpensOnPrimary(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{CompleteErr: errors.New("down")}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2},
	})
	fb.AddFallback("secondary", secondary)

	for i := 0; i < 4; i++ {
		if _, err := fb.Complete(context.Background(), llm.CompletionRequest{}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if n := len(primary.Calls()); n != 2 {
		t.Errorf("primary calls = %d, want 2 before the breaker opened", n)
	}
	if fb.States()["primary"] != StateOpen {
		t.Errorf("States = %v", fb.States())
	}
}
