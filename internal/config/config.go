// Package config loads docgraph settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/dgallion1/docgraph/internal/chunker"
	"github.com/dgallion1/docgraph/internal/llm"
)

type Config struct {
	Port     string `env:"PORT" envDefault:"8090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON" envDefault:"true"`

	// Auth for the HTTP API
	APIKey string `env:"DOCGRAPH_API_KEY"`

	LLM LLMConfig

	// Extraction defaults
	Domain         string `env:"DOMAIN" envDefault:"general"`
	DomainsFile    string `env:"DOMAINS_FILE"`
	Level          string `env:"EXTRACTION_LEVEL" envDefault:"standard"`
	MaxChunkTokens int    `env:"MAX_CHUNK_TOKENS" envDefault:"3000"`
	ChunkLevel     string `env:"CHUNK_LEVEL"`
	Concurrency    int    `env:"CONCURRENCY" envDefault:"1"`
	FailFast       bool   `env:"FAIL_FAST" envDefault:"false"`
	DebugDir       string `env:"DEBUG_DIR"`

	// Checkpointing
	CheckpointBackend string `env:"CHECKPOINT_BACKEND" envDefault:"file"`
	CheckpointDir     string `env:"CHECKPOINT_DIR" envDefault:".docgraph/checkpoints"`
	CheckpointDB      string `env:"CHECKPOINT_DB" envDefault:".docgraph/checkpoints.db"`

	// Graph publishing, disabled without a URL
	PathstoreURL         string `env:"PATHSTORE_URL"`
	PathstoreAPIKey      string `env:"PATHSTORE_API_KEY"`
	PathstorePrefix      string `env:"PATHSTORE_PREFIX" envDefault:"graphs"`
	MaxConcurrentPublish int    `env:"MAX_CONCURRENT_PUBLISH" envDefault:"10"`

	// Worker pool
	WorkerCount  int           `env:"WORKER_COUNT" envDefault:"2"`
	MaxQueueSize int           `env:"MAX_QUEUE_SIZE" envDefault:"100"`
	MaxJobs      int           `env:"MAX_JOBS" envDefault:"1000"`
	JobTTL       time.Duration `env:"JOB_TTL" envDefault:"1h"`

	// Upload limits
	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"52428800"` // 50MB
}

// LLMConfig selects the generation provider.
type LLMConfig struct {
	Provider          string        `env:"LLM_PROVIDER" envDefault:"ollama"`
	Model             string        `env:"LLM_MODEL" envDefault:"llama3.1"`
	BaseURL           string        `env:"LLM_BASE_URL"`
	APIKey            string        `env:"LLM_API_KEY"`
	Timeout           time.Duration `env:"LLM_TIMEOUT" envDefault:"120s"`
	MaxRetries        int           `env:"LLM_MAX_RETRIES" envDefault:"3"`
	BaseDelay         time.Duration `env:"LLM_BASE_DELAY" envDefault:"1s"`
	Temperature       float64       `env:"LLM_TEMPERATURE" envDefault:"0.1"`
	MaxOutputTokens   int           `env:"LLM_MAX_OUTPUT_TOKENS" envDefault:"4096"`
	RequestsPerMinute int           `env:"LLM_REQUESTS_PER_MINUTE" envDefault:"0"`
}

// Client returns the llm package configuration. Provider keys fall back to
// the provider's conventional environment variable.
func (c LLMConfig) Client() llm.Config {
	key := c.APIKey
	if key == "" {
		switch strings.ToLower(c.Provider) {
		case "openai":
			key = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			key = os.Getenv("ANTHROPIC_API_KEY")
		case "gemini":
			key = os.Getenv("GEMINI_API_KEY")
		}
	}
	return llm.Config{
		Provider:          c.Provider,
		Model:             c.Model,
		BaseURL:           c.BaseURL,
		APIKey:            key,
		Timeout:           c.Timeout,
		MaxRetries:        c.MaxRetries,
		BaseDelay:         c.BaseDelay,
		Temperature:       c.Temperature,
		MaxOutputTokens:   c.MaxOutputTokens,
		RequestsPerMinute: c.RequestsPerMinute,
	}
}

// Chunking returns the chunker configuration.
func (c Config) Chunking() chunker.Config {
	cfg := chunker.DefaultConfig()
	cfg.MaxChunkTokens = c.MaxChunkTokens
	cfg.ForceLevel, _ = chunker.ParseLevel(c.ChunkLevel)
	return cfg
}

// Load reads an optional .env file, then the environment.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		_ = godotenv.Load()
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks settings needed by every command.
func (c Config) Validate() error {
	if c.LLM.Provider == "" {
		return fmt.Errorf("LLM_PROVIDER is required")
	}
	if c.MaxChunkTokens <= 0 {
		return fmt.Errorf("MAX_CHUNK_TOKENS must be positive")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("CONCURRENCY must be at least 1")
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES must not be negative")
	}
	if c.ChunkLevel != "" {
		if _, err := chunker.ParseLevel(c.ChunkLevel); err != nil {
			return fmt.Errorf("CHUNK_LEVEL: %w", err)
		}
	}
	switch c.CheckpointBackend {
	case "file", "bolt", "none":
	default:
		return fmt.Errorf("CHECKPOINT_BACKEND must be file, bolt or none, got %q", c.CheckpointBackend)
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "anthropic", "gemini":
		if c.LLM.Client().APIKey == "" {
			return fmt.Errorf("an API key is required for provider %s", c.LLM.Provider)
		}
	}
	return nil
}

// ValidateServer adds the checks needed to run the HTTP API.
func (c Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return fmt.Errorf("DOCGRAPH_API_KEY is required")
	}
	if c.PathstoreURL != "" && c.PathstoreAPIKey == "" {
		return fmt.Errorf("PATHSTORE_API_KEY is required when PATHSTORE_URL is set")
	}
	if c.WorkerCount <= 0 || c.MaxQueueSize <= 0 || c.MaxJobs <= 0 {
		return fmt.Errorf("WORKER_COUNT, MAX_QUEUE_SIZE and MAX_JOBS must be positive")
	}
	return nil
}

// Logger builds the process logger from LogLevel and LogJSON.
func (c Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
