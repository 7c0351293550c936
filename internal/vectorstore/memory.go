package vectorstore

import (
	"context"
	"sort"
	"strings"
)

// MemoryStore is an in-process vector store fake for tests: similarity is
// approximated by shared-word overlap rather than real embeddings, which is
// enough to exercise the retrieval contract without a live Qdrant.
type MemoryStore struct {
	docs []Document
}

// NewMemoryStore builds an empty in-memory vector store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) AddTexts(ctx context.Context, chunks []string, metadata map[string]string) error {
	for _, c := range chunks {
		md := make(map[string]string, len(metadata))
		for k, v := range metadata {
			md[k] = v
		}
		s.docs = append(s.docs, Document{Content: c, Metadata: md})
	}
	return nil
}

func (s *MemoryStore) SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error) {
	if k <= 0 {
		k = 3
	}
	queryWords := wordSet(query)
	type scored struct {
		doc   Document
		score int
	}
	var results []scored
	for _, d := range s.docs {
		score := overlap(queryWords, wordSet(d.Content))
		if score > 0 {
			results = append(results, scored{d, score})
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })
	if len(results) > k {
		results = results[:k]
	}
	out := make([]Document, len(results))
	for i, r := range results {
		out[i] = r.doc
	}
	return out, nil
}

func wordSet(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func overlap(a, b map[string]struct{}) int {
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}
