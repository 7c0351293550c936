package store

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"convgateway/internal/tokenizer"
)

type fakeRegistry struct {
	def LLMModel
}

func (r fakeRegistry) Resolve(name string) (LLMModel, bool) {
	if name == r.def.Name() {
		return r.def, true
	}
	return LLMModel{}, false
}

func (r fakeRegistry) Default() LLMModel { return r.def }

func newFakeRegistry() ModelRegistry {
	return fakeRegistry{def: LLMModel{Remote: &RemoteChatModel{
		Name:                "test-model",
		MaxTotalTokens:      4096,
		MaxTokensPerRequest: 1024,
		TokenMargin:         32,
		Tokenizer:           tokenizer.NewHeuristic(),
	}}}
}

func TestMemoryStoreReadCreatesDefault(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(newFakeRegistry())

	c, err := s.Read(ctx, "u1", "r1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if c.Model.Name() != "test-model" {
		t.Fatalf("expected default model, got %q", c.Model.Name())
	}
	if len(c.UserLog) != 0 {
		t.Fatalf("expected empty user log on default context")
	}
}

func TestMemoryStoreAppendPersistsAcrossRead(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(newFakeRegistry())
	_, _ = s.Read(ctx, "u1", "r1")

	if err := s.Append(ctx, "u1", "r1", RoleUser, MessageHistory{Content: "hi", Tokens: 1, UUID: "a"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	c, err := s.Read(ctx, "u1", "r1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(c.UserLog) != 1 || c.UserLog[0].Content != "hi" {
		t.Fatalf("expected persisted append, got %+v", c.UserLog)
	}
}

func TestMemoryStorePopLeftRemovesOldest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(newFakeRegistry())
	_, _ = s.Read(ctx, "u1", "r1")
	_ = s.Append(ctx, "u1", "r1", RoleUser, MessageHistory{Content: "first", UUID: "1"})
	_ = s.Append(ctx, "u1", "r1", RoleUser, MessageHistory{Content: "second", UUID: "2"})

	popped, err := s.PopLeft(ctx, "u1", "r1", RoleUser, 1)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if len(popped) != 1 || popped[0].Content != "first" {
		t.Fatalf("expected to pop the oldest entry, got %+v", popped)
	}
	c, _ := s.Read(ctx, "u1", "r1")
	if len(c.UserLog) != 1 || c.UserLog[0].Content != "second" {
		t.Fatalf("expected only second entry to remain, got %+v", c.UserLog)
	}
}

// TestRoundTrip is the §8 property: read(create(ctx)) == ctx for a context
// whose histories round-trip through the store.
func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(newFakeRegistry())
	original := Default("u2", "r2", newFakeRegistry().Default())
	original.UserLog = []MessageHistory{{Role: RoleUser, Content: "hello", Tokens: 1, IsUser: true, Timestamp: 1, UUID: "x"}}
	original.SumUserTokens = 1

	if err := s.Create(ctx, original, OnlyIfAbsent); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.Read(ctx, "u2", "r2")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// Model carries a Tokenizer interface value that cmp can't usefully
	// diff; every other field must round-trip exactly.
	if diff := cmp.Diff(original, got, cmpopts.IgnoreFields(UserGptContext{}, "Model")); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	if got.Model.Name() != original.Model.Name() {
		t.Fatalf("model mismatch: want %q got %q", original.Model.Name(), got.Model.Name())
	}
}

func TestIdempotentReset(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(newFakeRegistry())
	_, _ = s.Read(ctx, "u3", "r3")
	_ = s.Append(ctx, "u3", "r3", RoleUser, MessageHistory{Content: "hi", UUID: "1"})

	fresh := Default("u3", "r3", newFakeRegistry().Default())
	if err := s.Create(ctx, fresh, OnlyIfAbsent); err != nil {
		t.Fatalf("create 1: %v", err)
	}
	first, _ := s.Read(ctx, "u3", "r3")

	if err := s.Create(ctx, fresh, OnlyIfAbsent); err != nil {
		t.Fatalf("create 2: %v", err)
	}
	second, _ := s.Read(ctx, "u3", "r3")

	if len(first.UserLog) != 0 || len(second.UserLog) != 0 {
		t.Fatalf("expected reset to clear the user log both times")
	}
}
