// Package messages is the Message Manager (spec.md §4.3): safe mutations of
// a loaded context that stay in sync with the Conversation Store, each
// adjusting the cached token counters.
package messages

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"convgateway/internal/store"
)

// Side selects which end of a log a pop removes from.
type Side int

const (
	Left Side = iota
	Right
)

// Clock supplies monotonically increasing timestamps for MessageHistory
// entries (spec.md §3: "timestamp: monotonically-assigned int").
type Clock interface{ Next() int64 }

type counterClock struct{ n int64 }

func (c *counterClock) Next() int64 { c.n++; return c.n }

// NewClock returns a fresh monotonic counter, one per connection/buffer.
func NewClock() Clock { return &counterClock{} }

// Manager mutates one loaded UserGptContext and writes through to the
// Conversation Store within the same logical operation (spec.md §4.3).
type Manager struct {
	Store store.Store
	Clock Clock
}

// New builds a Message Manager over the given store.
func New(s store.Store, clock Clock) *Manager {
	if clock == nil {
		clock = NewClock()
	}
	return &Manager{Store: s, Clock: clock}
}

// Append tokenizes content, pushes a new history onto role's log, updates
// the cached sum, writes through, then runs the eviction invariant
// (spec.md §3 invariant 3): evicting from the left of user+assistant logs in
// lockstep until the budget is satisfied.
func (m *Manager) Append(ctx context.Context, c *store.UserGptContext, role store.Role, content string, modelName string) (store.MessageHistory, error) {
	tokens, err := c.Model.Tok().Count(content)
	if err != nil {
		return store.MessageHistory{}, fmt.Errorf("tokenize: %w", err)
	}
	h := store.MessageHistory{
		Role:      role,
		Content:   content,
		Tokens:    tokens,
		IsUser:    role == store.RoleUser,
		Timestamp: m.Clock.Next(),
		UUID:      uuid.NewString(),
		ModelName: modelName,
	}

	setLog(c, role, append(logOf(c, role), h))
	addSum(c, role, tokens)

	if err := m.Store.Append(ctx, c.Profile.UserID, c.Profile.RoomID, role, h); err != nil {
		return store.MessageHistory{}, err
	}

	if err := m.evict(ctx, c); err != nil {
		return store.MessageHistory{}, err
	}
	return h, nil
}

// evict enforces total_tokens + margin + preamble_tokens <= max_total_tokens
// by popping from the left of user+assistant logs in lockstep until the
// budget holds or both logs are empty (once one log is empty, popping
// continues on the other alone).
func (m *Manager) evict(ctx context.Context, c *store.UserGptContext) error {
	budget := c.Model.Budget()
	for c.TotalTokens()+budget.TokenMargin+c.PreambleTokens() > budget.MaxTotalTokens {
		evictedAny := false
		if len(c.UserLog) > 0 {
			if err := m.popOne(ctx, c, store.RoleUser, Left); err != nil {
				return err
			}
			evictedAny = true
		}
		if len(c.AssistantLog) > 0 {
			if err := m.popOne(ctx, c, store.RoleAssistant, Left); err != nil {
				return err
			}
			evictedAny = true
		}
		if !evictedAny {
			break
		}
	}
	return nil
}

// Pop removes n entries from one side of role's log, writing through and
// decrementing the cached sum (spec.md §4.3).
func (m *Manager) Pop(ctx context.Context, c *store.UserGptContext, role store.Role, side Side, n int) ([]store.MessageHistory, error) {
	if n <= 0 {
		n = 1
	}
	var popped []store.MessageHistory
	var err error
	for i := 0; i < n; i++ {
		var one []store.MessageHistory
		one, err = m.popOneRaw(ctx, c, role, side)
		if err != nil {
			return nil, err
		}
		popped = append(popped, one...)
		if len(one) == 0 {
			break
		}
	}
	return popped, nil
}

func (m *Manager) popOne(ctx context.Context, c *store.UserGptContext, role store.Role, side Side) error {
	_, err := m.popOneRaw(ctx, c, role, side)
	return err
}

func (m *Manager) popOneRaw(ctx context.Context, c *store.UserGptContext, role store.Role, side Side) ([]store.MessageHistory, error) {
	log := logOf(c, role)
	if len(log) == 0 {
		return nil, nil
	}
	var popped store.MessageHistory
	if side == Left {
		popped = log[0]
		setLog(c, role, log[1:])
	} else {
		popped = log[len(log)-1]
		setLog(c, role, log[:len(log)-1])
	}
	addSum(c, role, -popped.Tokens)

	var err error
	if side == Left {
		_, err = m.Store.PopLeft(ctx, c.Profile.UserID, c.Profile.RoomID, role, 1)
	} else {
		_, err = m.Store.PopRight(ctx, c.Profile.UserID, c.Profile.RoomID, role, 1)
	}
	if err != nil {
		return nil, err
	}
	return []store.MessageHistory{popped}, nil
}

// Set replaces the content at index within role's log, recomputing tokens
// and adjusting the sum (spec.md §4.3).
func (m *Manager) Set(ctx context.Context, c *store.UserGptContext, role store.Role, index int, newContent string) error {
	log := logOf(c, role)
	if index < 0 || index >= len(log) {
		return fmt.Errorf("set: index %d out of range for role %s", index, role)
	}
	tokens, err := c.Model.Tok().Count(newContent)
	if err != nil {
		return fmt.Errorf("tokenize: %w", err)
	}
	old := log[index]
	addSum(c, role, tokens-old.Tokens)
	old.Content = newContent
	old.Tokens = tokens
	log[index] = old
	setLog(c, role, log)

	return m.Store.SetAt(ctx, c.Profile.UserID, c.Profile.RoomID, role, index, old)
}

// Clear empties role's log and zeroes its sum (spec.md §4.3).
func (m *Manager) Clear(ctx context.Context, c *store.UserGptContext, role store.Role) error {
	setLog(c, role, nil)
	setSum(c, role, 0)
	return m.Store.ClearRole(ctx, c.Profile.UserID, c.Profile.RoomID, role)
}

func logOf(c *store.UserGptContext, role store.Role) []store.MessageHistory {
	switch role {
	case store.RoleUser:
		return c.UserLog
	case store.RoleAssistant:
		return c.AssistantLog
	case store.RoleSystem:
		return c.SystemLog
	default:
		return nil
	}
}

func setLog(c *store.UserGptContext, role store.Role, log []store.MessageHistory) {
	switch role {
	case store.RoleUser:
		c.UserLog = log
	case store.RoleAssistant:
		c.AssistantLog = log
	case store.RoleSystem:
		c.SystemLog = log
	}
}

func addSum(c *store.UserGptContext, role store.Role, delta int) {
	switch role {
	case store.RoleUser:
		c.SumUserTokens += delta
	case store.RoleAssistant:
		c.SumAssistantTokens += delta
	case store.RoleSystem:
		c.SumSystemTokens += delta
	}
	if c.SumUserTokens < 0 {
		c.SumUserTokens = 0
	}
	if c.SumAssistantTokens < 0 {
		c.SumAssistantTokens = 0
	}
	if c.SumSystemTokens < 0 {
		c.SumSystemTokens = 0
	}
}

func setSum(c *store.UserGptContext, role store.Role, v int) {
	switch role {
	case store.RoleUser:
		c.SumUserTokens = v
	case store.RoleAssistant:
		c.SumAssistantTokens = v
	case store.RoleSystem:
		c.SumSystemTokens = v
	}
}
