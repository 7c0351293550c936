// Package vectorstore is the Vector Store Adapter (spec.md §2, §4, §6):
// chunk, embed, store; async similarity search.
package vectorstore

import "context"

// Document is one retrieval hit.
type Document struct {
	Content  string
	Metadata map[string]string
}

// Embedder turns text into a vector. The embedding model implementation
// itself is an external collaborator; only the call contract lives here.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Store is the Vector Store Adapter contract (spec.md §6):
// add_texts(chunks, metadata?), similarity_search(query, k).
type Store interface {
	AddTexts(ctx context.Context, chunks []string, metadata map[string]string) error
	SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error)
}
