package store

import "context"

// ModelRegistry resolves a persisted model name back into the live LLMModel
// value (api keys, tokenizer, etc. are process configuration, not cache
// state - spec.md §3 LLMModel variants are resolved, not round-tripped raw).
type ModelRegistry interface {
	Resolve(name string) (LLMModel, bool)
	Default() LLMModel
}

// PutMode controls the conditional-put semantics of Create (spec.md §4.1).
type PutMode int

const (
	OnlyIfAbsent PutMode = iota
	OnlyIfPresent
)

// Store is the Conversation Store contract (spec.md §4.1).
type Store interface {
	// Read returns the (user, room) context, creating a default atomically
	// if any string field is absent.
	Read(ctx context.Context, userID, roomID string) (UserGptContext, error)

	// Create conditionally writes profile+model (string fields) and replaces
	// the three log fields wholesale (delete then right-push all items).
	Create(ctx context.Context, c UserGptContext, mode PutMode) error

	// UpdateProfileAndModel conditionally overwrites the string fields only.
	UpdateProfileAndModel(ctx context.Context, c UserGptContext) error

	Append(ctx context.Context, userID, roomID string, role Role, h MessageHistory) error
	PopLeft(ctx context.Context, userID, roomID string, role Role, n int) ([]MessageHistory, error)
	PopRight(ctx context.Context, userID, roomID string, role Role, n int) ([]MessageHistory, error)
	SetAt(ctx context.Context, userID, roomID string, role Role, index int, h MessageHistory) error
	ClearRole(ctx context.Context, userID, roomID string, role Role) error
}
