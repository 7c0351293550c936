package llm

import (
	"context"
	"errors"
	"testing"

	"convgateway/internal/contextbuf"
	"convgateway/internal/messages"
	"convgateway/internal/store"
	"convgateway/internal/tokenizer"
)

type fakeStream struct {
	chunks []ChatChunk
	i      int
	err    error
}

func (s *fakeStream) Next() bool {
	if s.i >= len(s.chunks) {
		return false
	}
	s.i++
	return true
}
func (s *fakeStream) Current() ChatChunk { return s.chunks[s.i-1] }
func (s *fakeStream) Err() error          { return s.err }
func (s *fakeStream) Close() error        { return nil }

type scriptedChatClient struct {
	responses [][]ChatChunk
	call      int
	requests  []ChatRequest
}

func (c *scriptedChatClient) Stream(ctx context.Context, req ChatRequest) (ChatStream, error) {
	c.requests = append(c.requests, req)
	if c.call >= len(c.responses) {
		return nil, errors.New("no more scripted responses")
	}
	chunks := c.responses[c.call]
	c.call++
	return &fakeStream{chunks: chunks}, nil
}

type fakeModelRegistry struct{ model store.LLMModel }

func (r fakeModelRegistry) Resolve(name string) (store.LLMModel, bool) { return r.model, true }
func (r fakeModelRegistry) Default() store.LLMModel                    { return r.model }

func remoteTestContext(t *testing.T) (*store.UserGptContext, *messages.Manager) {
	t.Helper()
	model := store.LLMModel{Remote: &store.RemoteChatModel{
		Name: "gpt-test", MaxTotalTokens: 1000, MaxTokensPerRequest: 500, TokenMargin: 10,
		Tokenizer: tokenizer.NewHeuristic(),
	}}
	s := store.NewMemoryStore(fakeModelRegistry{model: model})
	c, err := s.Read(context.Background(), "u1", "r1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	mgr := messages.New(s, messages.NewClock())
	if _, err := mgr.Append(context.Background(), &c, store.RoleUser, "hello", "gpt-test"); err != nil {
		t.Fatalf("seed user history: %v", err)
	}
	return &c, mgr
}

type collectingSink struct{ parts []string }

func (s *collectingSink) OnDelta(text string) { s.parts = append(s.parts, text) }

func TestRemoteStreamNormalTermination(t *testing.T) {
	c, mgr := remoteTestContext(t)
	client := &scriptedChatClient{responses: [][]ChatChunk{
		{{Content: "TEST"}, {FinishReason: "stop"}},
	}}
	p := NewRemoteChatProducer(client, mgr)
	sink := &collectingSink{}
	buf := contextbuf.New("u1", []*store.UserGptContext{c}, 1)

	if err := p.Stream(context.Background(), c, "u1", buf, sink); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(c.AssistantLog) != 1 || c.AssistantLog[0].Content != "TEST" {
		t.Fatalf("expected one assistant history \"TEST\", got %+v", c.AssistantLog)
	}
	if c.Continuation {
		t.Fatalf("expected continuation flag cleared")
	}
}

func TestRemoteStreamLengthRecoveryConcatenatesAcrossRestarts(t *testing.T) {
	// spec.md §8 scenario 5.
	c, mgr := remoteTestContext(t)
	client := &scriptedChatClient{responses: [][]ChatChunk{
		{{Content: "part 1"}, {FinishReason: "length"}},
		{{Content: "part 2"}, {FinishReason: "stop"}},
	}}
	p := NewRemoteChatProducer(client, mgr)
	sink := &collectingSink{}
	buf := contextbuf.New("u1", []*store.UserGptContext{c}, 1)

	if err := p.Stream(context.Background(), c, "u1", buf, sink); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(c.AssistantLog) != 1 {
		t.Fatalf("expected exactly one assistant history, got %d", len(c.AssistantLog))
	}
	if c.AssistantLog[0].Content != "part 1part 2" {
		t.Fatalf("expected concatenated content, got %q", c.AssistantLog[0].Content)
	}
	if c.Continuation {
		t.Fatalf("expected continuation flag cleared after final restart")
	}
	if len(client.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(client.requests))
	}
	if !containsSuffix(client.requests[1].Messages, "…[CONTINUATION]") {
		t.Fatalf("expected second request's last assistant message to carry the continuation suffix")
	}
}

func containsSuffix(msgs []ChatMessage, suffix string) bool {
	for _, m := range msgs {
		if m.Role == "assistant" && len(m.Content) >= len(suffix) && m.Content[len(m.Content)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}

func TestRemoteStreamContentFilterPopsUserHistory(t *testing.T) {
	c, mgr := remoteTestContext(t)
	client := &scriptedChatClient{responses: [][]ChatChunk{
		{{Content: "oops"}, {FinishReason: "content_filter"}},
	}}
	p := NewRemoteChatProducer(client, mgr)
	sink := &collectingSink{}
	buf := contextbuf.New("u1", []*store.UserGptContext{c}, 1)

	before := len(c.UserLog)
	err := p.Stream(context.Background(), c, "u1", buf, sink)
	if err == nil {
		t.Fatalf("expected content-filter error")
	}
	if len(c.UserLog) != before-1 {
		t.Fatalf("expected last user history popped, had %d now %d", before, len(c.UserLog))
	}
	if len(c.AssistantLog) != 0 {
		t.Fatalf("expected no assistant history appended on content filter")
	}
}

func TestRemoteStreamCancellationPopsUserHistory(t *testing.T) {
	c, mgr := remoteTestContext(t)
	client := &scriptedChatClient{responses: [][]ChatChunk{
		{{Content: "partial"}, {Content: "more"}, {FinishReason: "stop"}},
	}}
	p := NewRemoteChatProducer(client, mgr)
	sink := &collectingSink{}
	buf := contextbuf.New("u1", []*store.UserGptContext{c}, 1)
	buf.SignalCancel()

	before := len(c.UserLog)
	err := p.Stream(context.Background(), c, "u1", buf, sink)
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if len(c.UserLog) != before-1 {
		t.Fatalf("expected last user history popped on cancellation")
	}
}
