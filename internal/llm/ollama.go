package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaConfig holds configuration for the Ollama client.
type OllamaConfig struct {
	BaseURL        string        // default: http://localhost:11434
	Model          string        // default: qwen2.5:7b
	EmbeddingModel string        // default: nomic-embed-text
	Timeout        time.Duration // default: 120s (local models are slow)
}

// OllamaClient implements TextGenerator, ChatStreamer, and
// EmbeddingGenerator against a local Ollama server.
type OllamaClient struct {
	cfg            OllamaConfig
	client         *http.Client
	circuitBreaker *CircuitBreaker
}

// NewOllamaClient creates a new Ollama client with the given configuration.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "qwen2.5:7b"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "nomic-embed-text"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OllamaClient{
		cfg:            cfg,
		client:         &http.Client{},
		circuitBreaker: NewCircuitBreaker("ollama"),
	}
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// ollamaChatResponse is one NDJSON frame of /api/chat. Non-streaming
// responses are a single frame with done=true.
type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Complete sends a single-turn completion and returns the response text.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	result, err := c.circuitBreaker.Execute(ctx, func() (any, error) {
		return c.complete(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", fmt.Errorf("ollama circuit breaker open: %w", err)
		}
		return "", err
	}
	return result.(string), nil
}

func (c *OllamaClient) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.post(ctx, "/api/chat", ollamaChatRequest{
		Model:    c.cfg.Model,
		Messages: []ChatMessage{{Role: "user", Content: prompt}},
		Stream:   false,
	})
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var respData ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return respData.Message.Content, nil
}

// StreamChat starts a streamed chat completion. Ollama streams NDJSON: one
// JSON object per line, the last carrying done=true.
func (c *OllamaClient) StreamChat(ctx context.Context, messages []ChatMessage) (<-chan StreamChunk, error) {
	result, err := c.circuitBreaker.Execute(ctx, func() (any, error) {
		return c.post(ctx, "/api/chat", ollamaChatRequest{
			Model:    c.cfg.Model,
			Messages: messages,
			Stream:   true,
		})
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("ollama circuit breaker open: %w", err)
		}
		return nil, err
	}
	resp := result.(*http.Response)

	chunks := make(chan StreamChunk)
	go func() {
		defer close(chunks)
		defer func() { _ = resp.Body.Close() }()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var frame ollamaChatResponse
			if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
				continue
			}
			if frame.Message.Content != "" {
				select {
				case chunks <- StreamChunk{Content: frame.Message.Content}:
				case <-ctx.Done():
					return
				}
			}
			if frame.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			chunks <- StreamChunk{Err: fmt.Errorf("ollama stream read: %w", err)}
		}
	}()

	return chunks, nil
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed generates an embedding vector for the given text using the
// configured embedding model.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := c.circuitBreaker.Execute(ctx, func() (any, error) {
		return c.embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("ollama circuit breaker open: %w", err)
		}
		return nil, err
	}
	return result.([]float32), nil
}

func (c *OllamaClient) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.post(ctx, "/api/embeddings", ollamaEmbeddingRequest{
		Model:  c.cfg.EmbeddingModel,
		Prompt: text,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var respData ollamaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(respData.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned empty embedding")
	}

	vec := make([]float32, len(respData.Embedding))
	for i, v := range respData.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (c *OllamaClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return resp, nil
}

// GetModel returns the configured chat model name.
func (c *OllamaClient) GetModel() string {
	return c.cfg.Model
}

var (
	_ TextGenerator      = (*OllamaClient)(nil)
	_ ChatStreamer       = (*OllamaClient)(nil)
	_ EmbeddingGenerator = (*OllamaClient)(nil)
)
