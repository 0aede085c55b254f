// Package llm defines the minimal completion contract parley needs from Large
// Language Model backends: a single non-streaming request/response call used
// for transcript translation.
//
// Implementations wrap a remote or local model API (OpenAI, any backend
// supported by any-llm-go, or Google Gemini through the genai SDK). They must
// be safe for concurrent use and must return promptly when ctx is cancelled.
// None of them retries a failed request.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single message in a completion request.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text of the message.
	Content string
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is injected ahead of Messages using the backend's native
	// system mechanism.
	SystemPrompt string

	// Messages is the ordered conversation.
	Messages []Message

	// Temperature in [0, 2]. Zero uses the backend default.
	Temperature float64

	// MaxTokens caps the reply length. Zero uses the backend default.
	MaxTokens int
}

// CompletionResponse is the full reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name identifies the backend and model in logs and metrics.
	Name() string
}
