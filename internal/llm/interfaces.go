// Package llm provides generation and embedding clients for the Brieflens
// agent. Providers are hand-rolled HTTP clients behind small interfaces and
// wrapped in a circuit breaker; the factory selects the provider from config.
package llm

import "context"

// ChatMessage is one message in a chat-style generation request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamChunk is one increment of a streamed generation. Err is non-nil only
// on the final chunk of a failed stream.
type StreamChunk struct {
	Content string
	Err     error
}

// TextGenerator is the interface for single-shot text completion, used by
// the summarizer and other non-streaming callers.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// ChatStreamer is the interface for streaming chat generation. The returned
// channel is closed when the stream ends; cancelling ctx aborts the stream.
type ChatStreamer interface {
	StreamChat(ctx context.Context, messages []ChatMessage) (<-chan StreamChunk, error)
	GetModel() string
}

// EmbeddingGenerator is the interface for generating vector embeddings.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}
