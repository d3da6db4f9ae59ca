// Package narrate explains algorithm steps in plain language with an LLM.
//
// A Narrator is a playback.Renderer: it receives every delivered step, asks a
// ChatModel to describe it, and hands the result to a sink without ever
// blocking the Controller's delivery path. Provider adapters live in the
// anthropic, openai and google subpackages.
package narrate

import (
	"context"
	"fmt"
)

// ChatModel is the minimal chat completion API a Narrator needs.
//
// Implementations must respect ctx cancellation: a Narrator cancels the
// in-flight request when the run it belongs to is cancelled or reset.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message) (ChatOut, error)
}

// Message is a single message in a chat conversation.
type Message struct {
	Role    string
	Content string
}

// Standard role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatOut is the model's reply.
type ChatOut struct {
	Text string

	// Tokens is the total token usage reported by the provider, 0 if unknown.
	Tokens int
}

// ProviderError is returned by the provider adapters for API failures.
type ProviderError struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// RetryableStatus reports whether an HTTP status is worth retrying.
func RetryableStatus(code int) bool {
	return code == 408 || code == 409 || code == 429 || code >= 500
}
