package store

import "testing"

func TestBuildRegistryResolvesByNameAndDefault(t *testing.T) {
	reg := BuildRegistry(
		[]RemoteModelSpec{{Name: "gpt-4o", MaxTotalTokens: 8000, MaxTokensPerRequest: 2000, TokenMargin: 50, TokenizerFamily: "gpt-4o"}},
		[]LocalModelSpec{{Name: "llama-local", MaxTotalTokens: 4000, MaxTokensPerRequest: 1000, TokenMargin: 20, TokenizerFamily: "unknown-family"}},
		"gpt-4o",
	)

	m, ok := reg.Resolve("gpt-4o")
	if !ok || m.Remote == nil || m.Remote.Name != "gpt-4o" {
		t.Fatalf("expected to resolve gpt-4o as remote, got %+v ok=%v", m, ok)
	}
	if reg.Default().Name() != "gpt-4o" {
		t.Fatalf("expected default model gpt-4o, got %q", reg.Default().Name())
	}

	local, ok := reg.Resolve("llama-local")
	if !ok || local.Local == nil {
		t.Fatalf("expected to resolve llama-local as local, got %+v ok=%v", local, ok)
	}
	if _, err := local.Local.Tokenizer.Count("hello"); err != nil {
		t.Fatalf("expected the tokenizer for an unrecognized family to work: %v", err)
	}

	if _, ok := reg.Resolve("nonexistent"); ok {
		t.Fatalf("expected nonexistent model to not resolve")
	}
}

func TestBuildRegistryFallsBackWhenDefaultNameUnknown(t *testing.T) {
	reg := BuildRegistry(
		[]RemoteModelSpec{{Name: "only-model", MaxTotalTokens: 100, MaxTokensPerRequest: 50, TokenMargin: 5}},
		nil,
		"missing-default",
	)
	if reg.Default().Name() != "only-model" {
		t.Fatalf("expected fallback to the only registered model, got %q", reg.Default().Name())
	}
}
