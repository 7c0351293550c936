package store

import "convgateway/internal/tokenizer"

// ModelBudget is the subset of an LLMModel's fields the token-accounting
// invariants (spec.md §3 invariant 3) need, common to both variants.
type ModelBudget struct {
	MaxTotalTokens      int
	MaxTokensPerRequest int
	TokenMargin         int
}

// LLMModel is the tagged union over the two model families (spec.md §3,
// Design Note §9: "dynamic dispatch on model family -> a tagged variant with
// two cases"). Exactly one of Remote/Local is non-nil.
type LLMModel struct {
	Remote *RemoteChatModel
	Local  *LocalModel
}

// RemoteChatModel is a remote HTTP/SSE chat-completion backend.
type RemoteChatModel struct {
	Name                string
	APIURL              string
	APIKey              string
	MaxTotalTokens      int
	MaxTokensPerRequest int
	TokenMargin         int
	Tokenizer           tokenizer.Tokenizer
}

// LocalModel is a locally hosted quantized model served through the bounded
// process pool (spec.md §4.5.2).
type LocalModel struct {
	Name                string
	ModelPath           string
	OllamaHost          string
	Temperature         float64
	TopP                float64
	StopStrings         []string
	PreambleTemplate    string
	MaxTotalTokens      int
	MaxTokensPerRequest int
	TokenMargin         int
	Tokenizer           tokenizer.Tokenizer
}

// Name returns the selected model's name regardless of variant.
func (m LLMModel) Name() string {
	if m.Remote != nil {
		return m.Remote.Name
	}
	if m.Local != nil {
		return m.Local.Name
	}
	return ""
}

// Budget returns the common token-accounting fields for whichever variant is set.
func (m LLMModel) Budget() ModelBudget {
	if m.Remote != nil {
		return ModelBudget{m.Remote.MaxTotalTokens, m.Remote.MaxTokensPerRequest, m.Remote.TokenMargin}
	}
	if m.Local != nil {
		return ModelBudget{m.Local.MaxTotalTokens, m.Local.MaxTokensPerRequest, m.Local.TokenMargin}
	}
	return ModelBudget{}
}

// Tok returns the tokenizer adapter for whichever variant is set.
func (m LLMModel) Tok() tokenizer.Tokenizer {
	if m.Remote != nil {
		return m.Remote.Tokenizer
	}
	if m.Local != nil {
		return m.Local.Tokenizer
	}
	return tokenizer.NewHeuristic()
}
