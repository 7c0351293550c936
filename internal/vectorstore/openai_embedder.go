package vectorstore

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// openaiEmbedder adapts github.com/openai/openai-go/v2's Embeddings API to
// Embedder, the same SDK the Generation Dispatcher's remote producer uses
// for chat completions (internal/llm/openai_adapter.go).
type openaiEmbedder struct {
	sdk   openai.Client
	model string
	dim   int
}

// NewOpenAIEmbedder builds an Embedder for model (e.g. "text-embedding-3-small",
// dim 1536).
func NewOpenAIEmbedder(apiKey, baseURL, model string, dim int) Embedder {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &openaiEmbedder{sdk: openai.NewClient(opts...), model: model, dim: dim}
}

func (e *openaiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.sdk.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embed text: empty response")
	}
	embedding := resp.Data[0].Embedding
	vec := make([]float32, len(embedding))
	for i, v := range embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (e *openaiEmbedder) Dimension() int { return e.dim }
