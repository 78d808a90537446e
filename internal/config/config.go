// Package config provides configuration management for the Brieflens agent.
// Settings come from an optional YAML file overlaid with environment
// variables using the BRIEFLENS_ prefix; env vars win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the agent service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	LLM       LLMConfig       `yaml:"llm"`
	Digest    DigestConfig    `yaml:"digest"`
	Search    SearchConfig    `yaml:"search"`
	Agent     AgentConfig     `yaml:"agent"`
	Security  SecurityConfig  `yaml:"security"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"` // default: 8478
	Host string `yaml:"host"` // default: 127.0.0.1
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	// Engine selects the long-term store backend: sqlite or postgres.
	// Sessions and the turn log always live in the local SQLite database.
	Engine string `yaml:"engine"`

	// DataPath is the directory holding the SQLite database file.
	DataPath string `yaml:"data_path"`

	// PostgresDSN is the connection string used when Engine is postgres.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// LLMConfig contains generation and embedding provider configuration.
type LLMConfig struct {
	Provider             string `yaml:"provider"` // ollama or openai (default: ollama)
	OllamaURL            string `yaml:"ollama_url"`
	OllamaModel          string `yaml:"ollama_model"`
	OllamaEmbeddingModel string `yaml:"ollama_embedding_model"`
	OpenAIAPIKey         string `yaml:"openai_api_key"`
	OpenAIModel          string `yaml:"openai_model"`
	OpenAIBaseURL        string `yaml:"openai_base_url"`
}

// DigestConfig points at the external digest provider.
type DigestConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"` // default: 10s
}

// SearchConfig points at the external live web search provider.
type SearchConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"` // default: 8s
}

// AgentConfig tunes the orchestrator.
type AgentConfig struct {
	// ShortTermTurns is the short-term window size in turns (default: 10).
	ShortTermTurns int `yaml:"short_term_turns"`

	// ShortTermToolRecords is the number of recent tool-invocation records
	// kept alongside the window (default: 5).
	ShortTermToolRecords int `yaml:"short_term_tool_records"`

	// RetrievalTopK is the result budget for long-term retrieval (default: 5).
	RetrievalTopK int `yaml:"retrieval_top_k"`

	// LongTermTimeout bounds each long-term query; on expiry the layer
	// contributes empty results instead of failing the turn (default: 2s).
	LongTermTimeout time.Duration `yaml:"long_term_timeout"`

	// ToolPhaseTimeout bounds the whole concurrent tool phase (default: 15s).
	ToolPhaseTimeout time.Duration `yaml:"tool_phase_timeout"`

	// ToolTimeout bounds each individual tool (default: 10s).
	ToolTimeout time.Duration `yaml:"tool_timeout"`

	// ContextBudgetChars caps the assembled context block (default: 12000).
	ContextBudgetChars int `yaml:"context_budget_chars"`

	// SessionIdleTimeout closes sessions with no activity for this long.
	// Zero disables the sweeper (default: 0).
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	Mode     string `yaml:"mode"` // development or production (default: development)
	APIToken string `yaml:"api_token"`
}

// RateLimitConfig tunes the API rate limiter.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"` // default: 10
	Burst     int     `yaml:"burst"`      // default: 20
}

// Load reads the optional YAML file at path (empty path skips the file),
// then overlays environment variables. Env vars always win.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.Storage.Engine != "sqlite" && cfg.Storage.Engine != "postgres" {
		return nil, fmt.Errorf("config: unknown storage engine %q", cfg.Storage.Engine)
	}
	if cfg.Storage.Engine == "postgres" && cfg.Storage.PostgresDSN == "" {
		return nil, fmt.Errorf("config: postgres engine requires BRIEFLENS_POSTGRES_DSN")
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server:  ServerConfig{Port: 8478, Host: "127.0.0.1"},
		Storage: StorageConfig{Engine: "sqlite", DataPath: "./data"},
		LLM: LLMConfig{
			Provider:             "ollama",
			OllamaURL:            "http://localhost:11434",
			OllamaModel:          "qwen2.5:7b",
			OllamaEmbeddingModel: "nomic-embed-text",
			OpenAIModel:          "gpt-4o-mini",
		},
		Digest: DigestConfig{Timeout: 10 * time.Second},
		Search: SearchConfig{Timeout: 8 * time.Second},
		Agent: AgentConfig{
			ShortTermTurns:       10,
			ShortTermToolRecords: 5,
			RetrievalTopK:        5,
			LongTermTimeout:      2 * time.Second,
			ToolPhaseTimeout:     15 * time.Second,
			ToolTimeout:          10 * time.Second,
			ContextBudgetChars:   12000,
		},
		Security:  SecurityConfig{Mode: "development"},
		RateLimit: RateLimitConfig{PerSecond: 10, Burst: 20},
	}
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvInt("BRIEFLENS_PORT", c.Server.Port)
	c.Server.Host = getEnv("BRIEFLENS_HOST", c.Server.Host)

	c.Storage.Engine = getEnv("BRIEFLENS_STORAGE_ENGINE", c.Storage.Engine)
	c.Storage.DataPath = getEnv("BRIEFLENS_DATA_PATH", c.Storage.DataPath)
	c.Storage.PostgresDSN = getEnv("BRIEFLENS_POSTGRES_DSN", c.Storage.PostgresDSN)

	c.LLM.Provider = getEnv("BRIEFLENS_LLM_PROVIDER", c.LLM.Provider)
	c.LLM.OllamaURL = getEnv("BRIEFLENS_OLLAMA_URL", c.LLM.OllamaURL)
	c.LLM.OllamaModel = getEnv("BRIEFLENS_OLLAMA_MODEL", c.LLM.OllamaModel)
	c.LLM.OllamaEmbeddingModel = getEnv("BRIEFLENS_EMBEDDING_MODEL", c.LLM.OllamaEmbeddingModel)
	c.LLM.OpenAIAPIKey = getEnv("BRIEFLENS_OPENAI_API_KEY", c.LLM.OpenAIAPIKey)
	c.LLM.OpenAIModel = getEnv("BRIEFLENS_OPENAI_MODEL", c.LLM.OpenAIModel)
	c.LLM.OpenAIBaseURL = getEnv("BRIEFLENS_OPENAI_BASE_URL", c.LLM.OpenAIBaseURL)

	c.Digest.BaseURL = getEnv("BRIEFLENS_DIGEST_URL", c.Digest.BaseURL)
	c.Digest.Timeout = getEnvDuration("BRIEFLENS_DIGEST_TIMEOUT", c.Digest.Timeout)

	c.Search.BaseURL = getEnv("BRIEFLENS_SEARCH_URL", c.Search.BaseURL)
	c.Search.APIKey = getEnv("BRIEFLENS_SEARCH_API_KEY", c.Search.APIKey)
	c.Search.Timeout = getEnvDuration("BRIEFLENS_SEARCH_TIMEOUT", c.Search.Timeout)

	c.Agent.ShortTermTurns = getEnvInt("BRIEFLENS_SHORT_TERM_TURNS", c.Agent.ShortTermTurns)
	c.Agent.ShortTermToolRecords = getEnvInt("BRIEFLENS_SHORT_TERM_TOOL_RECORDS", c.Agent.ShortTermToolRecords)
	c.Agent.RetrievalTopK = getEnvInt("BRIEFLENS_RETRIEVAL_TOP_K", c.Agent.RetrievalTopK)
	c.Agent.LongTermTimeout = getEnvDuration("BRIEFLENS_LONG_TERM_TIMEOUT", c.Agent.LongTermTimeout)
	c.Agent.ToolPhaseTimeout = getEnvDuration("BRIEFLENS_TOOL_PHASE_TIMEOUT", c.Agent.ToolPhaseTimeout)
	c.Agent.ToolTimeout = getEnvDuration("BRIEFLENS_TOOL_TIMEOUT", c.Agent.ToolTimeout)
	c.Agent.ContextBudgetChars = getEnvInt("BRIEFLENS_CONTEXT_BUDGET_CHARS", c.Agent.ContextBudgetChars)
	c.Agent.SessionIdleTimeout = getEnvDuration("BRIEFLENS_SESSION_IDLE_TIMEOUT", c.Agent.SessionIdleTimeout)

	c.Security.Mode = getEnv("BRIEFLENS_SECURITY_MODE", c.Security.Mode)
	c.Security.APIToken = getEnv("BRIEFLENS_API_TOKEN", c.Security.APIToken)

	c.RateLimit.PerSecond = getEnvFloat("BRIEFLENS_RATE_LIMIT_PER_SECOND", c.RateLimit.PerSecond)
	c.RateLimit.Burst = getEnvInt("BRIEFLENS_RATE_LIMIT_BURST", c.RateLimit.Burst)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go duration
// syntax, e.g. "2s") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
