// Package tokenizer is the Tokenizer Adapter (spec.md §2): a uniform
// encode/count surface over the per-model-family tokenizer implementations,
// which are themselves an external collaborator (spec.md §1 Non-goals) —
// here wrapped via github.com/tiktoken-go/tokenizer rather than reimplemented.
package tokenizer

import "github.com/tiktoken-go/tokenizer"

// Tokenizer is the uniform surface every LLMModel variant carries.
type Tokenizer interface {
	Encode(text string) ([]uint, error)
	Count(text string) (int, error)
}

// tiktokenAdapter wraps a single tiktoken codec.
type tiktokenAdapter struct {
	codec tokenizer.Codec
}

// ForModel returns the adapter for a model family name. Unknown families
// fall back to GPT-4's encoding, same as the teacher's NewTokenCounter.
func ForModel(modelFamily string) (Tokenizer, error) {
	var tikModel tokenizer.Model
	switch modelFamily {
	case "gpt-3.5-turbo", "gpt-3.5":
		tikModel = tokenizer.GPT35Turbo
	case "gpt-4o", "gpt-4o-mini":
		tikModel = tokenizer.GPT4o
	default:
		tikModel = tokenizer.GPT4
	}
	codec, err := tokenizer.ForModel(tikModel)
	if err != nil {
		return nil, err
	}
	return &tiktokenAdapter{codec: codec}, nil
}

func (a *tiktokenAdapter) Encode(text string) ([]uint, error) {
	ids, _, err := a.codec.Encode(text)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (a *tiktokenAdapter) Count(text string) (int, error) {
	return a.codec.Count(text)
}

// heuristicTokenizer is a character-count fallback used where no tiktoken
// codec is in play (a codec that failed to load, or an LLMModel with no
// variant set); it still satisfies the round-trip invariant (§3).
type heuristicTokenizer struct{}

// NewHeuristic returns a tokenizer approximating token count at ~4 chars/token.
func NewHeuristic() Tokenizer { return heuristicTokenizer{} }

func (heuristicTokenizer) Encode(text string) ([]uint, error) {
	n := (len(text) + 3) / 4
	ids := make([]uint, n)
	for i := range ids {
		ids[i] = uint(i)
	}
	return ids, nil
}

func (heuristicTokenizer) Count(text string) (int, error) {
	return (len(text) + 3) / 4, nil
}
