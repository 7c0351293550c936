// Package retrieval is the "Retrieval-search external" collaborator
// (spec.md §6): a room's relational record carries a pre-existing search
// identifier; on room activation the core fetches its papers over HTTP,
// formats them to text, and embeds them into the vector store once per
// week per room identifier. A dedicated cache key guards the idempotency
// window, grounded on the teacher's internal/rag/ingest/idempotency.go
// skip-if-unchanged policy, adapted here from content-hash to a
// time-bucketed "already ingested this week" decision.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"convgateway/internal/vectorstore"
)

// Week is the ingestion cadence spec.md §6 names ("once per week per room
// identifier"). A var so tests can shrink it.
var Week = 7 * 24 * time.Hour

// PaperFetcher retrieves and formats a room's search corpus from whatever
// external HTTP source the search identifier resolves to. The core only
// depends on this narrow contract; the concrete implementation (parsing a
// paper-search API's response into plain text) sits outside the module's
// scope (spec.md §1 Non-goals: "file parsing for embeddings").
type PaperFetcher interface {
	FetchAndFormat(ctx context.Context, searchID string) ([]string, error)
}

// guardCache is the narrow slice of redis.UniversalClient the guard needs:
// a set-if-absent with TTL, and a rollback delete on fetch/embed failure.
type guardCache interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Guard gates ingestion so a room's corpus is embedded at most once per
// Week, tracked under a dedicated Redis key per room identifier.
type Guard struct {
	client  guardCache
	fetcher PaperFetcher
	store   vectorstore.Store
	now     func() time.Time
}

// NewGuard builds a weekly ingestion guard.
func NewGuard(client redis.UniversalClient, fetcher PaperFetcher, store vectorstore.Store) *Guard {
	return &Guard{client: client, fetcher: fetcher, store: store, now: time.Now}
}

func guardKey(roomID string) string {
	return fmt.Sprintf("retrieval:ingested:%s", roomID)
}

// EnsureIngested fetches and embeds roomID's search corpus if it has not
// already been ingested within the current week; otherwise it is a no-op.
// Returns true if ingestion ran.
func (g *Guard) EnsureIngested(ctx context.Context, roomID, searchID string) (bool, error) {
	if searchID == "" {
		return false, nil
	}
	key := guardKey(roomID)
	set, err := g.client.SetNX(ctx, key, g.now().UTC().Format(time.RFC3339), Week).Result()
	if err != nil {
		return false, fmt.Errorf("check ingestion guard: %w", err)
	}
	if !set {
		return false, nil
	}
	texts, err := g.fetcher.FetchAndFormat(ctx, searchID)
	if err != nil {
		// Roll back the guard so the next activation retries the fetch.
		g.client.Del(ctx, key)
		return false, fmt.Errorf("fetch search corpus: %w", err)
	}
	if len(texts) == 0 {
		return true, nil
	}
	var chunks []string
	for _, t := range texts {
		chunks = append(chunks, vectorstore.Chunk(t, vectorstore.ChunkOptions{})...)
	}
	if err := g.store.AddTexts(ctx, chunks, map[string]string{"room_id": roomID, "search_id": searchID}); err != nil {
		g.client.Del(ctx, key)
		return false, fmt.Errorf("embed search corpus: %w", err)
	}
	return true, nil
}
