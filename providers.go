package aspectscore

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Embedder turns text into a vector embedding.
// Built-in: OllamaEmbedder, OpenAIEmbedder, GeminiEmbedder, and the
// CachedEmbedder wrapper.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	// ModelID identifies the model, so cached vectors from another model
	// are never reused.
	ModelID() string
}

// Provider names accepted in EmbedderConfig.Provider.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// NewEmbedder builds the embedder described by cfg.
func NewEmbedder(cfg EmbedderConfig, logger logrus.FieldLogger) (Embedder, error) {
	client := cfg.Retry().Client(logger)
	switch strings.ToLower(cfg.Provider) {
	case ProviderOllama:
		opts := []OllamaOption{WithOllamaClient(client)}
		if cfg.Host != "" {
			opts = append(opts, WithOllamaHost(cfg.Host))
		}
		return NewOllamaEmbedder(cfg.Model, cfg.Dimension, opts...), nil
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai embedder: %w", ErrMissingAPIKey)
		}
		opts := []OpenAIOption{WithOpenAIClient(client), WithOpenAIDimension(cfg.Dimension)}
		if cfg.Model != "" {
			opts = append(opts, WithOpenAIModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithOpenAIBaseURL(cfg.BaseURL))
		}
		return NewOpenAIEmbedder(cfg.APIKey, opts...), nil
	case ProviderGemini:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini embedder: %w", ErrMissingAPIKey)
		}
		opts := []GeminiOption{WithGeminiClient(client)}
		if cfg.Model != "" {
			opts = append(opts, WithGeminiModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithGeminiBaseURL(cfg.BaseURL))
		}
		return NewGeminiEmbedder(cfg.APIKey, cfg.Dimension, opts...), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
}
