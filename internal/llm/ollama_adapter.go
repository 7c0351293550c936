package llm

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// ollamaGenerateClient adapts github.com/ollama/ollama/api to
// GenerateClient, grounded on SnapdragonPartners-maestro's
// pkg/agent/internal/llmimpl/ollama/client.go (api.NewClient + a streaming
// response callback).
type ollamaGenerateClient struct {
	client *api.Client
}

// NewOllamaGenerateClient dials an Ollama server at hostURL.
func NewOllamaGenerateClient(hostURL string) GenerateClient {
	parsed, err := url.Parse(hostURL)
	if err != nil {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	return &ollamaGenerateClient{client: api.NewClient(parsed, http.DefaultClient)}
}

func (o *ollamaGenerateClient) Generate(ctx context.Context, req GenerateRequest, onChunk func(GenerateChunk) error) error {
	stream := true
	apiReq := &api.GenerateRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		Stream: &stream,
		Options: map[string]any{
			"temperature": req.Temperature,
			"top_p":       req.TopP,
			"num_predict": req.NumPredict,
			"stop":        req.Stop,
		},
	}
	return o.client.Generate(ctx, apiReq, func(resp api.GenerateResponse) error {
		return onChunk(GenerateChunk{
			Content:    resp.Response,
			Done:       resp.Done,
			DoneReason: resp.DoneReason,
		})
	})
}
