package llm

import (
	"fmt"

	"github.com/brieflens/brieflens/internal/config"
)

// Clients bundles the generation and embedding clients selected by config.
// They are constructed once at startup and shared read-only across the
// orchestrator, tool layer, and summarizer.
type Clients struct {
	Generator TextGenerator
	Streamer  ChatStreamer
	Embedder  EmbeddingGenerator
}

// NewClients builds the provider clients for the configured LLM provider.
func NewClients(cfg config.LLMConfig) (*Clients, error) {
	switch cfg.Provider {
	case "ollama":
		client := NewOllamaClient(OllamaConfig{
			BaseURL:        cfg.OllamaURL,
			Model:          cfg.OllamaModel,
			EmbeddingModel: cfg.OllamaEmbeddingModel,
		})
		return &Clients{Generator: client, Streamer: client, Embedder: client}, nil

	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("llm: openai provider requires an API key")
		}
		chat := NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		})
		embed := NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
		})
		return &Clients{Generator: chat, Streamer: chat, Embedder: embed}, nil

	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
