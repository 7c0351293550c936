package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/ssestream"
)

// openaiChatClient adapts github.com/openai/openai-go/v2's streaming chat
// completions API to ChatClient, grounded on the teacher's
// internal/llm/openai/client.go ChatStream method (NewStreaming + stream.Next
// / stream.Current).
type openaiChatClient struct {
	sdk openai.Client
}

// NewOpenAIChatClient builds a ChatClient backed by a real API key and base
// URL (the remote model's APIURL/APIKey, spec.md §3 RemoteChatModel).
func NewOpenAIChatClient(apiKey, baseURL string) ChatClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &openaiChatClient{sdk: openai.NewClient(opts...)}
}

func (c *openaiChatClient) Stream(ctx context.Context, req ChatRequest) (ChatStream, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:            openai.ChatModel(req.Model),
		Messages:         msgs,
		Temperature:      openai.Float(req.Temperature),
		TopP:             openai.Float(req.TopP),
		PresencePenalty:  openai.Float(req.PresencePenalty),
		FrequencyPenalty: openai.Float(req.FrequencyPenalty),
		MaxTokens:        openai.Int(int64(req.MaxTokens)),
		User:             openai.String(req.User),
	}
	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
	if stream.Err() != nil {
		return nil, fmt.Errorf("open chat completion stream: %w", stream.Err())
	}
	return &openaiChatStream{stream: stream}, nil
}

type openaiChatStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	cur    ChatChunk
}

func (s *openaiChatStream) Next() bool {
	ok := s.stream.Next()
	if !ok {
		return false
	}
	chunk := s.stream.Current()
	s.cur = ChatChunk{}
	if len(chunk.Choices) > 0 {
		s.cur.Content = chunk.Choices[0].Delta.Content
		s.cur.FinishReason = string(chunk.Choices[0].FinishReason)
	}
	return true
}

func (s *openaiChatStream) Current() ChatChunk { return s.cur }
func (s *openaiChatStream) Err() error          { return s.stream.Err() }
func (s *openaiChatStream) Close() error        { return s.stream.Close() }
