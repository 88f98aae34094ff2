package embedder

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

type OpenAICompatibleConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int // optional; 0 means provider default
	Timeout    time.Duration
	HTTPClient *http.Client // optional; overrides Timeout
}

type OpenAICompatibleEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

var _ Embedder = (*OpenAICompatibleEmbedder)(nil)

func NewOpenAICompatible(cfg OpenAICompatibleConfig) (*OpenAICompatibleEmbedder, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	openaiCfg := openai.DefaultConfig(cfg.APIKey)
	openaiCfg.BaseURL = cfg.BaseURL
	if cfg.HTTPClient != nil {
		openaiCfg.HTTPClient = cfg.HTTPClient
	} else {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		openaiCfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	return &OpenAICompatibleEmbedder{
		client:     openai.NewClientWithConfig(openaiCfg),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (e *OpenAICompatibleEmbedder) Model() string   { return e.model }
func (e *OpenAICompatibleEmbedder) Dimensions() int { return e.dimensions }

func (e *OpenAICompatibleEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

// EmbedTexts returns raw (unnormalized) embeddings in input order. Providers
// may answer out of order, so rows are placed by their reported index.
func (e *OpenAICompatibleEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, row := range resp.Data {
		if row.Index < 0 || row.Index >= len(texts) || out[row.Index] != nil {
			return nil, fmt.Errorf("unexpected embedding index %d", row.Index)
		}
		out[row.Index] = append([]float32(nil), row.Embedding...)
	}
	return out, nil
}
