package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"convgateway/internal/contextbuf"
	"convgateway/internal/gwerrors"
	"convgateway/internal/messages"
	"convgateway/internal/store"
)

// ChatMessage is one {role, content} entry of an assembled request
// (spec.md §4.5.1).
type ChatMessage struct {
	Role    string
	Content string
}

// ChatRequest is the provider-agnostic shape of a streaming chat request.
type ChatRequest struct {
	Model            string
	Messages         []ChatMessage
	Temperature      float64
	TopP             float64
	PresencePenalty  float64
	FrequencyPenalty float64
	MaxTokens        int
	User             string
}

// ChatChunk is one decoded `data: {json}` SSE record (spec.md §4.5.1).
type ChatChunk struct {
	Content      string
	FinishReason string
}

// ChatStream iterates a remote streaming response.
type ChatStream interface {
	Next() bool
	Current() ChatChunk
	Err() error
	Close() error
}

// ChatClient opens a streaming chat-completion request. The production
// implementation wraps github.com/openai/openai-go/v2 (openaiChatClient in
// this package); tests substitute a scripted fake.
type ChatClient interface {
	Stream(ctx context.Context, req ChatRequest) (ChatStream, error)
}

// RemoteChatProducer is the Remote chat model producer (spec.md §4.5.1).
type RemoteChatProducer struct {
	Client         ChatClient
	Manager        *messages.Manager
	ReadTimeout    time.Duration // ~30s wall-clock HTTP read timeout (spec.md §5)
	ReconnectDelay time.Duration // ~3s fixed backoff before retry (spec.md §5)
}

// NewRemoteChatProducer builds a remote producer with spec.md §5's default
// timeout/backoff.
func NewRemoteChatProducer(client ChatClient, manager *messages.Manager) *RemoteChatProducer {
	return &RemoteChatProducer{
		Client:         client,
		Manager:        manager,
		ReadTimeout:    30 * time.Second,
		ReconnectDelay: 3 * time.Second,
	}
}

// assembleMessages projects system histories first, then interleaved
// user/assistant pairs (spec.md §4.5.1). If c is marked "continuation", the
// last assistant history's content is suffixed for this request only.
func assembleMessages(c *store.UserGptContext) []ChatMessage {
	var out []ChatMessage
	for _, h := range c.SystemLog {
		out = append(out, ChatMessage{Role: "system", Content: h.Content})
	}
	n := len(c.UserLog)
	if len(c.AssistantLog) > n {
		n = len(c.AssistantLog)
	}
	for i := 0; i < n; i++ {
		if i < len(c.UserLog) {
			out = append(out, ChatMessage{Role: "user", Content: c.UserLog[i].Content})
		}
		if i < len(c.AssistantLog) {
			content := c.AssistantLog[i].Content
			if c.Continuation && i == len(c.AssistantLog)-1 {
				content += "…[CONTINUATION]"
			}
			out = append(out, ChatMessage{Role: "assistant", Content: content})
		}
	}
	return out
}

// Stream runs one full turn, restarting on length truncation and on read
// timeout, per spec.md §4.5.1.
func (p *RemoteChatProducer) Stream(ctx context.Context, c *store.UserGptContext, userID string, buf *contextbuf.Buffer, sink Sink) error {
	model := c.Model.Remote
	var fullText strings.Builder

	for {
		maxTokens := c.LeftTokens()
		if model.MaxTokensPerRequest < maxTokens {
			maxTokens = model.MaxTokensPerRequest
		}
		req := ChatRequest{
			Model:            model.Name,
			Messages:         assembleMessages(c),
			Temperature:      c.Profile.Temperature,
			TopP:             c.Profile.TopP,
			PresencePenalty:  c.Profile.PresencePenalty,
			FrequencyPenalty: c.Profile.FrequencyPenalty,
			MaxTokens:        maxTokens,
			User:             userID,
		}

		streamCtx, cancel := context.WithTimeout(ctx, p.ReadTimeout)
		stream, err := p.Client.Stream(streamCtx, req)
		if err != nil {
			cancel()
			return fmt.Errorf("%w: open remote stream: %v", gwerrors.ErrConnectivity, err)
		}

		var attempt strings.Builder
		finishReason := ""
		cancelled := false
		for stream.Next() {
			if buf != nil && buf.TestAndClearCancel() {
				cancelled = true
				break
			}
			chunk := stream.Current()
			if chunk.Content != "" {
				attempt.WriteString(chunk.Content)
				sink.OnDelta(chunk.Content)
			}
			if chunk.FinishReason != "" {
				finishReason = chunk.FinishReason
			}
		}
		streamErr := stream.Err()
		stream.Close()
		cancel()

		if cancelled {
			if _, err := p.Manager.Pop(ctx, c, store.RoleUser, messages.Right, 1); err != nil {
				return fmt.Errorf("%w: pop user history after cancellation: %v", gwerrors.ErrInternal, err)
			}
			return gwerrors.ErrCancellation
		}

		if streamErr != nil {
			if errors.Is(streamErr, context.DeadlineExceeded) {
				select {
				case <-time.After(p.ReconnectDelay):
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			}
			if _, err := p.Manager.Pop(ctx, c, store.RoleUser, messages.Right, 1); err != nil {
				return fmt.Errorf("%w: pop user history: %v", gwerrors.ErrInternal, err)
			}
			return fmt.Errorf("%w: internal server error: %v", gwerrors.ErrGeneration, streamErr)
		}

		fullText.WriteString(attempt.String())

		switch finishReason {
		case "length":
			if err := p.recoverLength(ctx, c, fullText.String()); err != nil {
				return err
			}
			continue
		case "content_filter":
			if _, err := p.Manager.Pop(ctx, c, store.RoleUser, messages.Right, 1); err != nil {
				return fmt.Errorf("%w: pop user history: %v", gwerrors.ErrInternal, err)
			}
			return fmt.Errorf("%w: content filtered", gwerrors.ErrGeneration)
		default:
			if err := p.finish(ctx, c, fullText.String(), model.Name); err != nil {
				return err
			}
			return nil
		}
	}
}

// recoverLength appends (first event) or in-place replaces (subsequent
// events) the partial assistant history and marks the context continuation
// so the next restart seamlessly extends it (spec.md §4.5.1).
func (p *RemoteChatProducer) recoverLength(ctx context.Context, c *store.UserGptContext, produced string) error {
	if !c.Continuation {
		if _, err := p.Manager.Append(ctx, c, store.RoleAssistant, produced, c.Model.Name()); err != nil {
			return fmt.Errorf("%w: append partial assistant history: %v", gwerrors.ErrInternal, err)
		}
		c.Continuation = true
		return nil
	}
	idx := len(c.AssistantLog) - 1
	if idx < 0 {
		if _, err := p.Manager.Append(ctx, c, store.RoleAssistant, produced, c.Model.Name()); err != nil {
			return fmt.Errorf("%w: append partial assistant history: %v", gwerrors.ErrInternal, err)
		}
		return nil
	}
	if err := p.Manager.Set(ctx, c, store.RoleAssistant, idx, produced); err != nil {
		return fmt.Errorf("%w: replace partial assistant history: %v", gwerrors.ErrInternal, err)
	}
	return nil
}

// finish appends the final accumulated text as one assistant history - in
// place of the partial entry if a continuation was in progress - and clears
// the continuation flag (spec.md §4.5.1: "append accumulated buffer as one
// assistant history; clear the continuation flag").
func (p *RemoteChatProducer) finish(ctx context.Context, c *store.UserGptContext, fullText, modelName string) error {
	if c.Continuation {
		idx := len(c.AssistantLog) - 1
		if idx >= 0 {
			if err := p.Manager.Set(ctx, c, store.RoleAssistant, idx, fullText); err != nil {
				return fmt.Errorf("%w: finalize continued assistant history: %v", gwerrors.ErrInternal, err)
			}
			c.Continuation = false
			return nil
		}
	}
	if _, err := p.Manager.Append(ctx, c, store.RoleAssistant, fullText, modelName); err != nil {
		return fmt.Errorf("%w: append assistant history: %v", gwerrors.ErrInternal, err)
	}
	c.Continuation = false
	return nil
}
