// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (OpenAI, Anthropic, Gemini,
// a local Ollama instance, ...) behind a single blocking completion call. The
// engine uses it for two optional, fail-soft stages: slot extraction from
// free-form speech and paraphrasing of the deterministic reply.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Some providers return it
	// directly rather than computing it from the parts.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically from
	// the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// leaves the provider default in place.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider
	// default.
	MaxTokens int

	// SystemPrompt is an optional instruction injected before Messages as a
	// "system"-role message.
	SystemPrompt string
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	//
	// Returns an error if the request fails or if ctx is cancelled before the
	// completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
