// Package llm is the generation-service boundary: provider adapters, a
// retrying client, latency stats and metrics.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Client generates text for a prompt.
type Client interface {
	Generate(ctx context.Context, prompt string) (*Response, error)
}

// Provider is a single-attempt client for one service. Errors should be *Error
// so the retrying client can classify them.
type Provider interface {
	Client
	Name() string
}

// Usage is token accounting for one or more calls.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the element-wise sum.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// Response is the text and accounting of one successful call.
type Response struct {
	Text         string        `json:"text"`
	Model        string        `json:"model"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Usage        Usage         `json:"usage"`
	Duration     time.Duration `json:"duration"`
	Attempts     int           `json:"attempts"`
}

// Config selects and tunes a provider.
type Config struct {
	Provider          string        `json:"provider"` // openai, ollama, custom, anthropic, gemini
	Model             string        `json:"model"`
	BaseURL           string        `json:"base_url,omitempty"`
	APIKey            string        `json:"-"`
	Timeout           time.Duration `json:"timeout"`
	MaxRetries        int           `json:"max_retries"`
	BaseDelay         time.Duration `json:"base_delay"`
	Temperature       float64       `json:"temperature"`
	MaxOutputTokens   int           `json:"max_output_tokens"`
	RequestsPerMinute int           `json:"requests_per_minute,omitempty"`
}

// DefaultConfig returns settings suited to a local Ollama instance.
func DefaultConfig() Config {
	return Config{
		Provider:        "ollama",
		Model:           "llama3.1",
		Timeout:         120 * time.Second,
		MaxRetries:      3,
		BaseDelay:       time.Second,
		Temperature:     0.1,
		MaxOutputTokens: 4096,
	}
}

// NewProvider builds the single-attempt provider named by cfg.Provider.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "ollama":
		if cfg.BaseURL == "" {
			cfg.BaseURL = "http://localhost:11434"
		}
		return newOpenAICompat("ollama", cfg), nil
	case "openai":
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://api.openai.com"
		}
		return newOpenAICompat("openai", cfg), nil
	case "custom":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("custom provider requires a base url")
		}
		return newOpenAICompat("custom", cfg), nil
	case "anthropic", "claude":
		return NewAnthropic(cfg), nil
	case "gemini":
		return NewGemini(ctx, cfg)
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

// Options wires observability into the retrying client. All fields are optional.
type Options struct {
	Log     *slog.Logger
	Stats   *Stats
	Metrics *Metrics
}

// New builds the provider for cfg and wraps it with retries, rate limiting,
// stats and metrics.
func New(ctx context.Context, cfg Config, opts Options) (*RetryingClient, error) {
	p, err := NewProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewRetrying(p, cfg, opts), nil
}
