// Package contextbuf is the Context Buffer (spec.md §4.2): the in-memory,
// per-connection ordered list of room contexts plus a "current room" cursor
// and the local command/cancel signal.
package contextbuf

import (
	"sync"
	"sync/atomic"

	"convgateway/internal/store"
)

// WorkItem is what flows through the buffer's producer/consumer queue
// (Design Note §9: "a single bounded queue of WorkItem ∈ ClientMessage |
// StatusText; receiver is the sole producer, sender the sole consumer").
type WorkItem struct {
	// ClientMessage is set when this item came from the client's duplex
	// frame stream.
	ClientMessage *ClientMessage
	// StatusText is set when this item is a plain-text status announcement
	// (e.g. an embedding upload's success/failure).
	StatusText string
}

// ClientMessage mirrors the upstream {msg, chatroom_id} frame shape (spec.md §6).
type ClientMessage struct {
	Msg        string
	ChatroomID string
}

// Buffer holds every loaded room context for one connected user, in
// most-recent-first order by profile.created_at.
type Buffer struct {
	UserID   string
	mu       sync.Mutex
	contexts []*store.UserGptContext
	roomIDs  []string
	cursor   int

	cancel atomic.Bool
	queue  chan WorkItem
}

// New builds a buffer preloaded with the given contexts, already sorted
// most-recent-first by the caller (spec.md §4.7 Startup).
func New(userID string, contexts []*store.UserGptContext, queueSize int) *Buffer {
	roomIDs := make([]string, len(contexts))
	for i, c := range contexts {
		roomIDs[i] = c.Profile.RoomID
	}
	return &Buffer{
		UserID:   userID,
		contexts: contexts,
		roomIDs:  roomIDs,
		queue:    make(chan WorkItem, queueSize),
	}
}

// FindIndex returns the index of roomID, or -1.
func (b *Buffer) FindIndex(roomID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, id := range b.roomIDs {
		if id == roomID {
			return i
		}
	}
	return -1
}

// SwitchTo moves the cursor to index, returning false if out of range.
func (b *Buffer) SwitchTo(index int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index >= len(b.contexts) {
		return false
	}
	b.cursor = index
	return true
}

// CurrentContext returns the context at the cursor.
func (b *Buffer) CurrentContext() *store.UserGptContext {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cursor < 0 || b.cursor >= len(b.contexts) {
		return nil
	}
	return b.contexts[b.cursor]
}

// CurrentRoomID returns the room id at the cursor, or "" if none loaded.
func (b *Buffer) CurrentRoomID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cursor < 0 || b.cursor >= len(b.roomIDs) {
		return ""
	}
	return b.roomIDs[b.cursor]
}

// RoomIDs returns the ordered room id list (most-recent-first).
func (b *Buffer) RoomIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.roomIDs))
	copy(out, b.roomIDs)
	return out
}

// Insert adds a newly-created room context at index (most commonly 0, since
// new rooms are the most recent).
func (b *Buffer) Insert(index int, c *store.UserGptContext) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index > len(b.contexts) {
		index = len(b.contexts)
	}
	b.contexts = append(b.contexts, nil)
	copy(b.contexts[index+1:], b.contexts[index:])
	b.contexts[index] = c

	b.roomIDs = append(b.roomIDs, "")
	copy(b.roomIDs[index+1:], b.roomIDs[index:])
	b.roomIDs[index] = c.Profile.RoomID
}

// Delete removes the room context at index, e.g. on room deletion.
func (b *Buffer) Delete(index int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index >= len(b.contexts) {
		return
	}
	b.contexts = append(b.contexts[:index], b.contexts[index+1:]...)
	b.roomIDs = append(b.roomIDs[:index], b.roomIDs[index+1:]...)
	if b.cursor >= len(b.contexts) {
		b.cursor = len(b.contexts) - 1
	}
}

// Put enqueues a work item for the sender task.
func (b *Buffer) Put(item WorkItem) {
	b.queue <- item
}

// Take dequeues the next work item, blocking until one is available.
func (b *Buffer) Take() WorkItem {
	return <-b.queue
}

// SignalCancel sets the per-connection cancel flag (spec.md §5).
func (b *Buffer) SignalCancel() {
	b.cancel.Store(true)
}

// IsCancelled peeks the cancel flag without clearing it. Any number of
// readers may share this; only the producer loop (remote.go, local.go) is
// allowed to clear the flag once it has acted on it, via TestAndClearCancel.
func (b *Buffer) IsCancelled() bool {
	return b.cancel.Load()
}

// TestAndClearCancel atomically reads and clears the cancel flag. Only the
// producer loop driving a turn may call this — the streamsender must only
// peek via IsCancelled, or a delta dropped by the sender in the same window
// as a producer's check can swallow the signal before the producer observes
// it (spec.md §5 cancellation: the producer, not the sender, owns ending the
// turn and popping the user history).
func (b *Buffer) TestAndClearCancel() bool {
	return b.cancel.Swap(false)
}
