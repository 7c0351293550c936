package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"convgateway/internal/vectorstore"
)

// fakeCache is a minimal in-memory stand-in for the guardCache slice of
// redis.UniversalClient the guard depends on.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func newFakeCache() *fakeCache { return &fakeCache{entries: map[string]time.Time{}} }

func (c *fakeCache) SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewBoolCmd(ctx)
	if expiry, ok := c.entries[key]; ok && time.Now().Before(expiry) {
		cmd.SetVal(false)
		return cmd
	}
	c.entries[key] = time.Now().Add(ttl)
	cmd.SetVal(true)
	return cmd
}

func (c *fakeCache) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, k := range keys {
		if _, ok := c.entries[k]; ok {
			delete(c.entries, k)
			n++
		}
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(n))
	return cmd
}

type fakeFetcher struct {
	texts []string
	err   error
	calls int
}

func (f *fakeFetcher) FetchAndFormat(ctx context.Context, searchID string) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.texts, nil
}

func TestEnsureIngestedRunsOnceThenSkips(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{texts: []string{"paper one content"}}
	store := vectorstore.NewMemoryStore()
	g := &Guard{client: newFakeCache(), fetcher: fetcher, store: store, now: time.Now}

	ran, err := g.EnsureIngested(ctx, "room-1", "search-1")
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if !ran {
		t.Fatalf("expected first call to ingest")
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected 1 fetch call, got %d", fetcher.calls)
	}

	ran, err = g.EnsureIngested(ctx, "room-1", "search-1")
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if ran {
		t.Fatalf("expected second call within the week to be a no-op")
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected fetch not to be called again, got %d calls", fetcher.calls)
	}
}

func TestEnsureIngestedNoSearchIDIsNoop(t *testing.T) {
	g := &Guard{client: newFakeCache(), fetcher: &fakeFetcher{}, store: vectorstore.NewMemoryStore(), now: time.Now}
	ran, err := g.EnsureIngested(context.Background(), "room-1", "")
	if err != nil || ran {
		t.Fatalf("expected no-op for empty search id, got ran=%v err=%v", ran, err)
	}
}

func TestEnsureIngestedFetchFailureRollsBackGuard(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{err: errors.New("upstream down")}
	g := &Guard{client: newFakeCache(), fetcher: fetcher, store: vectorstore.NewMemoryStore(), now: time.Now}

	_, err := g.EnsureIngested(ctx, "room-1", "search-1")
	if err == nil {
		t.Fatalf("expected fetch error to propagate")
	}

	fetcher.err = nil
	fetcher.texts = []string{"retry succeeds"}
	ran, err := g.EnsureIngested(ctx, "room-1", "search-1")
	if err != nil {
		t.Fatalf("retry after rollback: %v", err)
	}
	if !ran {
		t.Fatalf("expected retry to ingest after guard rollback")
	}
}
