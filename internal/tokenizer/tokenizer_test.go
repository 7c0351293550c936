package tokenizer

import "testing"

func TestHeuristicCountMatchesEncodeLength(t *testing.T) {
	tk := NewHeuristic()
	text := "this is a reasonably long test sentence for token counting"
	count, err := tk.Count(text)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	ids, err := tk.Encode(text)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(ids) != count {
		t.Fatalf("encode length %d != count %d", len(ids), count)
	}
}

func TestHeuristicEmptyText(t *testing.T) {
	tk := NewHeuristic()
	count, err := tk.Count("")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 tokens for empty text, got %d", count)
	}
}
