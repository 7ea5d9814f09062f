// Package llm defines the Provider interface for Large Language Model
// backends consumed by the Oracle Dispatch component (internal/oracle).
//
// Implementations must be safe for concurrent use and must propagate
// context cancellation/timeout promptly — the core never lets an LLM call
// block indefinitely, and callers never observe a panic from a provider.
package llm

import (
	"context"
	"time"
)

// CompletionRequest carries a single, already-assembled prompt. Oracle
// dispatch builds one prompt per request (persona template + context)
// rather than a multi-turn chat history, so the interface intentionally
// stays narrower than a full chat-completion API.
type CompletionRequest struct {
	// Prompt is the fully assembled text sent to the model.
	Prompt string

	// SystemPrompt is an optional high-priority instruction. Providers that
	// lack a dedicated system channel should prepend it to Prompt.
	SystemPrompt string

	// Timeout bounds how long the provider may take. Zero means use the
	// provider's own default.
	Timeout time.Duration
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Text string
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns a typed error (never a panic) on timeout, rejection, or
	// transport failure.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}
