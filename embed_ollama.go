package aspectscore

import (
	"context"
	"net/http"
)

// OllamaEmbedder generates vector embeddings via a local Ollama server.
// No API key required. bge-m3 is the model the catalog was scored with.
type OllamaEmbedder struct {
	host      string
	model     string
	dimension int
	client    *http.Client
}

// OllamaOption configures an OllamaEmbedder.
type OllamaOption func(*OllamaEmbedder)

// WithOllamaHost sets the Ollama server URL (default: http://localhost:11434).
func WithOllamaHost(host string) OllamaOption {
	return func(e *OllamaEmbedder) { e.host = host }
}

// WithOllamaClient replaces the retrying HTTP client.
func WithOllamaClient(c *http.Client) OllamaOption {
	return func(e *OllamaEmbedder) { e.client = c }
}

// NewOllamaEmbedder creates an embedding provider for a local Ollama instance.
// The model must already be pulled. Dimension should match the model output.
func NewOllamaEmbedder(model string, dimension int, opts ...OllamaOption) *OllamaEmbedder {
	e := &OllamaEmbedder{
		host:      "http://localhost:11434",
		model:     model,
		dimension: dimension,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = DefaultRetryPolicy().Client(nil)
	}
	return e
}

// Embed generates a vector for the given text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp ollamaEmbedResponse
	err := postJSON(ctx, e.client, "ollama", e.host+"/api/embed", nil,
		ollamaEmbedRequest{Model: e.model, Input: text}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, errEmptyEmbedding("ollama")
	}
	return toVector("ollama", resp.Embeddings[0])
}

// Dimension returns the configured embedding dimension.
func (e *OllamaEmbedder) Dimension() int {
	return e.dimension
}

// ModelID returns "ollama/<model>".
func (e *OllamaEmbedder) ModelID() string {
	return "ollama/" + e.model
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}
