package llmgateway

import "context"

// CompletionRequest is a provider-agnostic completion request. JSONMode
// asks the provider to emit a single JSON value; providers that have no
// native JSON mode fall back to a strong system-prompt instruction, and
// the Gateway's defensive parsing (see gateway.go) cleans up the result
// either way.
type CompletionRequest struct {
	APIKey       string
	Model        string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	JSONMode     bool
}

// Provider is the minimal surface the Gateway needs from one LLM backend.
// Concrete implementations (AnthropicProvider, OpenAIProvider) classify
// every failure into a *Error so the Gateway's retry layers can act on it
// without knowing provider-specific status codes.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (text string, err error)
}
