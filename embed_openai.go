package aspectscore

import (
	"context"
	"fmt"
	"net/http"
)

// OpenAIEmbedder generates vector embeddings via the OpenAI API or any
// server speaking its /v1/embeddings protocol.
type OpenAIEmbedder struct {
	apiKey    string
	model     string
	dimension int
	baseURL   string
	client    *http.Client
}

// OpenAIOption configures an OpenAIEmbedder.
type OpenAIOption func(*OpenAIEmbedder)

// WithOpenAIModel sets the embedding model (default: text-embedding-3-small).
func WithOpenAIModel(model string) OpenAIOption {
	return func(e *OpenAIEmbedder) { e.model = model }
}

// WithOpenAIDimension sets the output embedding dimension (default: 1536).
// Zero keeps the default.
func WithOpenAIDimension(dim int) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		if dim > 0 {
			e.dimension = dim
		}
	}
}

// WithOpenAIBaseURL sets the API base URL (default: https://api.openai.com).
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(e *OpenAIEmbedder) { e.baseURL = url }
}

// WithOpenAIClient replaces the retrying HTTP client.
func WithOpenAIClient(c *http.Client) OpenAIOption {
	return func(e *OpenAIEmbedder) { e.client = c }
}

// NewOpenAIEmbedder creates an embedding provider for OpenAI's embedding models.
func NewOpenAIEmbedder(apiKey string, opts ...OpenAIOption) *OpenAIEmbedder {
	e := &OpenAIEmbedder{
		apiKey:    apiKey,
		model:     "text-embedding-3-small",
		dimension: 1536,
		baseURL:   "https://api.openai.com",
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
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("openai: no API key")
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+e.apiKey)

	var resp openAIEmbedResponse
	err := postJSON(ctx, e.client, "openai", e.baseURL+"/v1/embeddings", header,
		openAIEmbedRequest{Input: text, Model: e.model, Dimensions: e.dimension}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errEmptyEmbedding("openai")
	}
	return toVector("openai", resp.Data[0].Embedding)
}

// Dimension returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// ModelID returns "openai/<model>@<dimension>"; the same model truncated to
// another dimension produces different vectors.
func (e *OpenAIEmbedder) ModelID() string {
	return fmt.Sprintf("openai/%s@%d", e.model, e.dimension)
}

type openAIEmbedRequest struct {
	Input      string `json:"input"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}

type openAIEmbedResponse struct {
	Data []openAIEmbedData `json:"data"`
}

type openAIEmbedData struct {
	Embedding []float64 `json:"embedding"`
}
