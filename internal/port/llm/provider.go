// Package llm defines the port for token-streaming completion providers.
package llm

import "context"

// ChatMessage is one message in a completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenFunc receives one content fragment. Returning an error aborts the stream.
type TokenFunc func(token string) error

// Provider streams a completion for the given message history.
// Fragments are delivered in generation order through fn; StreamCompletion
// returns after the terminal fragment or the first error.
type Provider interface {
	StreamCompletion(ctx context.Context, messages []ChatMessage, fn TokenFunc) error
}
