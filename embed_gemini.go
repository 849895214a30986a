package aspectscore

import (
	"context"
	"fmt"
	"net/http"
)

// GeminiEmbedder generates vector embeddings via the Gemini API.
// Requests use the SEMANTIC_SIMILARITY task type: courses and aspects are
// compared symmetrically rather than as query against document.
type GeminiEmbedder struct {
	apiKey    string
	model     string
	dimension int
	baseURL   string
	client    *http.Client
}

// GeminiOption configures a GeminiEmbedder.
type GeminiOption func(*GeminiEmbedder)

// WithGeminiModel sets the model (default: gemini-embedding-001).
func WithGeminiModel(model string) GeminiOption {
	return func(e *GeminiEmbedder) { e.model = model }
}

// WithGeminiBaseURL sets the API base URL.
func WithGeminiBaseURL(url string) GeminiOption {
	return func(e *GeminiEmbedder) { e.baseURL = url }
}

// WithGeminiClient replaces the retrying HTTP client.
func WithGeminiClient(c *http.Client) GeminiOption {
	return func(e *GeminiEmbedder) { e.client = c }
}

// NewGeminiEmbedder creates an embedding provider for the Gemini embedding models.
func NewGeminiEmbedder(apiKey string, dimension int, opts ...GeminiOption) *GeminiEmbedder {
	e := &GeminiEmbedder{
		apiKey:    apiKey,
		model:     "gemini-embedding-001",
		dimension: dimension,
		baseURL:   "https://generativelanguage.googleapis.com",
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
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("gemini: no API key")
	}

	header := http.Header{}
	header.Set("x-goog-api-key", e.apiKey)
	url := e.baseURL + "/v1beta/models/" + e.model + ":embedContent"

	var resp geminiEmbedResponse
	err := postJSON(ctx, e.client, "gemini", url, header, geminiEmbedRequest{
		Content:              geminiEmbedContent{Parts: []geminiEmbedPart{{Text: text}}},
		TaskType:             "SEMANTIC_SIMILARITY",
		OutputDimensionality: e.dimension,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return toVector("gemini", resp.Embedding.Values)
}

// Dimension returns the configured embedding dimension.
func (e *GeminiEmbedder) Dimension() int {
	return e.dimension
}

// ModelID returns "gemini/<model>@<dimension>".
func (e *GeminiEmbedder) ModelID() string {
	return fmt.Sprintf("gemini/%s@%d", e.model, e.dimension)
}

type geminiEmbedRequest struct {
	Content              geminiEmbedContent `json:"content"`
	TaskType             string             `json:"taskType"`
	OutputDimensionality int                `json:"outputDimensionality,omitempty"`
}

type geminiEmbedContent struct {
	Parts []geminiEmbedPart `json:"parts"`
}

type geminiEmbedPart struct {
	Text string `json:"text"`
}

type geminiEmbedResponse struct {
	Embedding struct {
		Values []float64 `json:"values"`
	} `json:"embedding"`
}
