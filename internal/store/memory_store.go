package store

import "context"

// MemoryStore is an in-memory fake of Store for tests, a plain map keyed by
// (user, room) after the teacher's newMemoryChatStore. It takes no lock and
// is not safe for concurrent use.
type MemoryStore struct {
	registry ModelRegistry
	rooms    map[string]*UserGptContext
}

// NewMemoryStore builds an empty in-memory conversation store.
func NewMemoryStore(registry ModelRegistry) *MemoryStore {
	return &MemoryStore{registry: registry, rooms: map[string]*UserGptContext{}}
}

func roomKey(userID, roomID string) string { return userID + "\x00" + roomID }

func cloneContext(c UserGptContext) UserGptContext {
	out := c
	out.UserLog = append([]MessageHistory(nil), c.UserLog...)
	out.AssistantLog = append([]MessageHistory(nil), c.AssistantLog...)
	out.SystemLog = append([]MessageHistory(nil), c.SystemLog...)
	return out
}

func (s *MemoryStore) Read(ctx context.Context, userID, roomID string) (UserGptContext, error) {
	if c, ok := s.rooms[roomKey(userID, roomID)]; ok {
		return cloneContext(*c), nil
	}
	fresh := Default(userID, roomID, s.registry.Default())
	if err := s.Create(ctx, fresh, OnlyIfAbsent); err != nil {
		return UserGptContext{}, err
	}
	return fresh, nil
}

func (s *MemoryStore) Create(ctx context.Context, c UserGptContext, mode PutMode) error {
	key := roomKey(c.Profile.UserID, c.Profile.RoomID)
	existing, exists := s.rooms[key]

	// String fields (profile, model) are conditional on mode; the three log
	// fields are always replaced wholesale regardless of mode (spec.md §4.1).
	writeStrings := (mode == OnlyIfAbsent && !exists) || (mode == OnlyIfPresent && exists)
	if !exists {
		stored := cloneContext(c)
		if !writeStrings {
			stored.Profile = UserGptProfile{}
			stored.Model = LLMModel{}
		}
		s.rooms[key] = &stored
		return nil
	}
	stored := cloneContext(c)
	if !writeStrings {
		stored.Profile = existing.Profile
		stored.Model = existing.Model
	}
	s.rooms[key] = &stored
	return nil
}

func (s *MemoryStore) UpdateProfileAndModel(ctx context.Context, c UserGptContext) error {
	key := roomKey(c.Profile.UserID, c.Profile.RoomID)
	existing, ok := s.rooms[key]
	if !ok {
		return nil
	}
	existing.Profile = c.Profile
	existing.Model = c.Model
	return nil
}

func (s *MemoryStore) logPtr(userID, roomID string, role Role) *[]MessageHistory {
	c, ok := s.rooms[roomKey(userID, roomID)]
	if !ok {
		return nil
	}
	switch role {
	case RoleUser:
		return &c.UserLog
	case RoleAssistant:
		return &c.AssistantLog
	case RoleSystem:
		return &c.SystemLog
	default:
		return nil
	}
}

func (s *MemoryStore) Append(ctx context.Context, userID, roomID string, role Role, h MessageHistory) error {
	p := s.logPtr(userID, roomID, role)
	if p == nil {
		return nil
	}
	*p = append(*p, h)
	return nil
}

func (s *MemoryStore) PopLeft(ctx context.Context, userID, roomID string, role Role, n int) ([]MessageHistory, error) {
	if n <= 0 {
		n = 1
	}
	p := s.logPtr(userID, roomID, role)
	if p == nil || len(*p) == 0 {
		return nil, nil
	}
	if n > len(*p) {
		n = len(*p)
	}
	popped := append([]MessageHistory(nil), (*p)[:n]...)
	*p = (*p)[n:]
	return popped, nil
}

func (s *MemoryStore) PopRight(ctx context.Context, userID, roomID string, role Role, n int) ([]MessageHistory, error) {
	if n <= 0 {
		n = 1
	}
	p := s.logPtr(userID, roomID, role)
	if p == nil || len(*p) == 0 {
		return nil, nil
	}
	if n > len(*p) {
		n = len(*p)
	}
	start := len(*p) - n
	popped := append([]MessageHistory(nil), (*p)[start:]...)
	*p = (*p)[:start]
	return popped, nil
}

func (s *MemoryStore) SetAt(ctx context.Context, userID, roomID string, role Role, index int, h MessageHistory) error {
	p := s.logPtr(userID, roomID, role)
	if p == nil || index < 0 || index >= len(*p) {
		return nil
	}
	(*p)[index] = h
	return nil
}

func (s *MemoryStore) ClearRole(ctx context.Context, userID, roomID string, role Role) error {
	p := s.logPtr(userID, roomID, role)
	if p == nil {
		return nil
	}
	*p = nil
	return nil
}
